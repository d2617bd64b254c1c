package mmio

import (
	"sync/atomic"
	"unsafe"

	"github.com/ehrlich-b/go-nvme/internal/fence"
	"github.com/ehrlich-b/go-nvme/internal/nvmeapi"
)

// HardwarePort is the production Port implementation: it performs real
// volatile reads/writes against a PCIe BAR mapped at Base.
type HardwarePort struct {
	Base uintptr
}

// NewHardwarePort wraps a previously mapped BAR base address.
func NewHardwarePort(base uintptr) *HardwarePort {
	return &HardwarePort{Base: base}
}

func (p *HardwarePort) ReadReg32(offset uintptr) uint32 {
	// The fence must precede the load: it is what stops the compiler
	// (and the CPU) from hoisting or caching this read above whatever
	// device-side write it is meant to observe, e.g. the CSTS.RDY poll
	// in the enable handshake. A fence after the load protects nothing.
	// The load itself goes through atomic.LoadUint32 rather than a
	// plain dereference, so repeated calls in a poll loop can't be
	// folded into one by the compiler.
	fence.Mfence()
	ptr := (*uint32)(unsafe.Pointer(p.Base + offset))
	return atomic.LoadUint32(ptr)
}

func (p *HardwarePort) WriteReg32(offset uintptr, val uint32) {
	ptr := (*uint32)(unsafe.Pointer(p.Base + offset))
	*ptr = val
}

func (p *HardwarePort) WriteReg64(offset uintptr, val uint64) {
	ptr := (*uint64)(unsafe.Pointer(p.Base + offset))
	*ptr = val
}

func (p *HardwarePort) WriteDoorbell32(dbOffset uintptr, val uint32) {
	fence.Sfence()
	ptr := (*uint32)(unsafe.Pointer(p.Base + nvmeapi.RegDBS + dbOffset))
	*ptr = val
}

var _ Port = (*HardwarePort)(nil)
