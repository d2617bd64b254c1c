// Package nvme implements the bare-metal NVMe block-device driver
// core: the controller enable handshake, I/O queue setup, and the
// block read/write path, driven over an injected register, DMA and
// interrupt capability rather than a real PCIe stack.
package nvme

import (
	"time"

	"github.com/ehrlich-b/go-nvme/internal/ctrl"
	"github.com/ehrlich-b/go-nvme/internal/dma"
	"github.com/ehrlich-b/go-nvme/internal/irqctl"
	"github.com/ehrlich-b/go-nvme/internal/logging"
	"github.com/ehrlich-b/go-nvme/internal/mmio"
)

// ControllerParams collects the capability ports and options Construct
// needs. Port and Allocator are required; IRQ and Logger default to a
// no-op controller and the package's default logger respectively.
type ControllerParams struct {
	Port      mmio.Port
	Allocator dma.Allocator
	IRQ       irqctl.Controller
	Logger    *logging.Logger
}

// Option adjusts a ControllerParams before Construct builds the engine.
type Option func(*ControllerParams)

// WithIRQController overrides the default no-op interrupt controller.
func WithIRQController(c irqctl.Controller) Option {
	return func(p *ControllerParams) { p.IRQ = c }
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *ControllerParams) { p.Logger = l }
}

// Controller is the public handle to one initialized NVMe controller.
// Every datapath method (ReadBlock, WriteBlock, HandleIRQ) follows the
// infallible-happy-path contract spec.md's core is built around: a
// device-level failure invokes FatalHook (panic by default) rather
// than returning an error, since there is no recovery path for a
// protocol violation on a single hardware thread with no OS beneath
// it. Construct itself still returns a Go error, since failures during
// enablement (a device that never asserts ready) are configuration
// problems a caller can reasonably decide how to handle.
type Controller struct {
	eng      *ctrl.Engine
	observer Observer
	log      *logging.Logger
}

// Construct builds a Controller over port/alloc, runs the enable
// handshake, and creates the single I/O queue pair this core uses.
// Enable-handshake failures are returned as an error instead of invoking
// the fatal hook because nothing has gone "live" yet — there is no
// in-flight command a caller could be left holding. A non-zero status on
// one of the I/O-queue-creation admin commands still goes through the
// fatal hook, which panics at this point.
func Construct(port mmio.Port, alloc dma.Allocator, opts ...Option) (*Controller, error) {
	params := ControllerParams{
		Port:      port,
		Allocator: alloc,
		IRQ:       irqctl.NoopController{},
		Logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	eng := ctrl.New(params.Port, params.Allocator, params.IRQ, params.Logger)
	observer := Observer(newMetricsObserver())

	c := &Controller{eng: eng, observer: observer, log: params.Logger}
	c.SetFatalHook(nil)

	if err := eng.Configure(); err != nil {
		return nil, err
	}
	if err := eng.CreateIOQueue(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetFatalHook installs a hook invoked in place of a panic whenever the
// datapath hits a device-level failure it cannot recover from. Pass nil
// to restore the default panic behavior. Every invocation also ticks
// the controller's fatal-error counter regardless of the hook.
func (c *Controller) SetFatalHook(hook func(error)) {
	c.eng.FatalHook = func(err error) {
		c.observer.IncFatalError()
		if hook != nil {
			hook(err)
			return
		}
		panic(err)
	}
}

// SetObserver replaces the controller's metrics observer. Pass
// NoOpObserver{} to disable instrumentation entirely.
func (c *Controller) SetObserver(o Observer) {
	if o == nil {
		o = NoOpObserver{}
	}
	c.observer = o
}

// ReadBlock reads the BlockSize-byte block at blockID into buf. len(buf)
// must equal BlockSize.
func (c *Controller) ReadBlock(blockID uint64, buf []byte) {
	start := time.Now()
	c.eng.ReadBlock(blockID, buf)
	c.observer.ObserveReadLatency(time.Since(start))
}

// WriteBlock writes buf (exactly BlockSize bytes) to the block at blockID.
func (c *Controller) WriteBlock(blockID uint64, buf []byte) {
	start := time.Now()
	c.eng.WriteBlock(blockID, buf)
	c.observer.ObserveWriteLatency(time.Since(start))
}

// SetFeatures issues a Set Features admin command with the real NVMe
// CDW10=fid/CDW11=dword11 layout.
func (c *Controller) SetFeatures(fid uint32, dword11 uint32) {
	c.eng.SetFeatures(fid, dword11)
	c.observer.IncAdminCommand()
}

// IdentifyController returns a copy of the controller's Identify data.
func (c *Controller) IdentifyController() []byte {
	data := c.eng.IdentifyController()
	c.observer.IncAdminCommand()
	return data
}

// IdentifyNamespace returns a copy of namespace nsid's Identify data.
func (c *Controller) IdentifyNamespace(nsid uint32) []byte {
	data := c.eng.IdentifyNamespace(nsid)
	c.observer.IncAdminCommand()
	return data
}

// HandleIRQ drains at most one pending I/O completion. Call this from
// the platform's interrupt entry point; it never blocks.
func (c *Controller) HandleIRQ() {
	c.eng.HandleIRQ()
}

// State reports the controller's current lifecycle stage.
func (c *Controller) State() ctrl.State {
	return c.eng.State()
}

// Metrics returns a point-in-time snapshot of the controller's
// instrumentation, or a zero-value snapshot if a custom Observer
// without Snapshot support was installed via SetObserver.
func (c *Controller) Metrics() MetricsSnapshot {
	if m, ok := c.observer.(*MetricsObserver); ok {
		return m.Snapshot()
	}
	return MetricsSnapshot{}
}
