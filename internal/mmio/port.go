// Package mmio provides the register-access capability the controller
// engine drives the NVMe BAR through, and a production implementation
// backed by real volatile memory access. Tests and the simulation
// harness use internal/mockdevice's implementation instead.
package mmio

// Port abstracts register reads/writes against the NVMe controller's
// memory-mapped register window, the same way dma.Allocator and
// irqctl.Controller abstract the other two bare-metal capabilities the
// core consumes. spec.md expresses BAR access as raw pointer
// arithmetic over a base address; this interface is the Go-idiomatic
// seam that makes that access injectable and therefore testable
// without real hardware.
type Port interface {
	ReadReg32(offset uintptr) uint32
	WriteReg32(offset uintptr, val uint32)
	WriteReg64(offset uintptr, val uint64)

	// WriteDoorbell32 addresses the per-queue doorbell
	// registers, which live in a separate region of the BAR
	// (base + NVME_REG_DBS + db_offset) indexed by stride rather than
	// a fixed offset.
	WriteDoorbell32(dbOffset uintptr, val uint32)
}
