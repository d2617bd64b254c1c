package nvme

import (
	"github.com/ehrlich-b/go-nvme/internal/dma"
	"github.com/ehrlich-b/go-nvme/internal/irqctl"
	"github.com/ehrlich-b/go-nvme/internal/mockdevice"
)

// NewMockController wires a mockdevice.Device, an in-memory DMA
// allocator and a no-op interrupt controller into a fully configured,
// I/O-ready Controller. It panics if construction fails, since a
// failure against the mock device is a bug in the mock or the engine,
// never a caller mistake the way a failure against real hardware might be.
//
// Exported for this module's own tests and for external packages that
// want to exercise the public API without real hardware.
func NewMockController(nsBlocks int) (*Controller, *mockdevice.Device) {
	dev := mockdevice.New(nsBlocks)
	alloc := dma.NewSimAllocator()

	c, err := Construct(dev, alloc, WithIRQController(irqctl.NoopController{}))
	if err != nil {
		panic(err)
	}
	return c, dev
}
