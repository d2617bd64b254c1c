package ctrl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-nvme/internal/dma"
	"github.com/ehrlich-b/go-nvme/internal/irqctl"
	"github.com/ehrlich-b/go-nvme/internal/mockdevice"
	"github.com/ehrlich-b/go-nvme/internal/nvmeapi"
)

func newTestEngine(t *testing.T) (*Engine, *mockdevice.Device) {
	t.Helper()
	dev := mockdevice.New(4096)
	alloc := dma.NewSimAllocator()
	e := New(dev, alloc, irqctl.NoopController{}, nil)
	return e, dev
}

func TestEngine_ConfigureReachesAdminConfigured(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Configure())
	assert.Equal(t, StateAdminConfigured, e.State())
}

func TestEngine_ConfigureTwiceErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Configure())
	err := e.Configure()
	require.Error(t, err)
	var ctrlErr *Error
	require.ErrorAs(t, err, &ctrlErr)
	assert.Equal(t, CodeInvalidState, ctrlErr.Code)
}

func TestEngine_CreateIOQueueSequence(t *testing.T) {
	e, dev := newTestEngine(t)
	require.NoError(t, e.Configure())
	require.NoError(t, e.CreateIOQueue())
	assert.Equal(t, StateIoReady, e.State())

	require.Len(t, dev.AdminLog, 3)
	assert.Equal(t, uint8(nvmeapi.OpcodeSetFeatures), dev.AdminLog[0].Opcode)
	assert.Equal(t, uint8(nvmeapi.OpcodeCreateCQ), dev.AdminLog[1].Opcode)
	assert.Equal(t, uint8(nvmeapi.OpcodeCreateSQ), dev.AdminLog[2].Opcode)
}

func TestEngine_ReadWriteBlockRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Configure())
	require.NoError(t, e.CreateIOQueue())

	write := make([]byte, 512)
	for i := range write {
		write[i] = byte(i * 3)
	}
	e.WriteBlock(17, write)

	read := make([]byte, 512)
	e.ReadBlock(17, read)

	assert.Equal(t, write, read)
}

func TestEngine_SurvivesCQPhaseWrap(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Configure())
	require.NoError(t, e.CreateIOQueue())

	write := []byte("wraparound-sentinel-block-0123456789")
	buf := make([]byte, 512)
	copy(buf, write)

	// Submit more round trips than the queue is deep, forcing the
	// completion ring to wrap at least once.
	for i := 0; i < nvmeapi.IOQueueDepth+4; i++ {
		e.WriteBlock(uint64(i%8), buf)
		readBack := make([]byte, 512)
		e.ReadBlock(uint64(i%8), readBack)
		require.Equal(t, buf, readBack)
	}
}

func TestEngine_IdentifyController(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Configure())
	require.NoError(t, e.CreateIOQueue())

	data := e.IdentifyController()
	require.Len(t, data, 4096)
	for _, b := range data {
		require.Equal(t, byte(0xA5), b)
	}
}

func TestEngine_IdentifyNamespace(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Configure())
	require.NoError(t, e.CreateIOQueue())

	data := e.IdentifyNamespace(1)
	require.Len(t, data, 4096)
}

func TestEngine_ReadBlockBeforeIOReadyInvokesFatalHook(t *testing.T) {
	e, _ := newTestEngine(t)
	var caught error
	e.FatalHook = func(err error) { caught = err }

	require.NoError(t, e.Configure())
	e.ReadBlock(0, make([]byte, 512))

	require.Error(t, caught)
	var ctrlErr *Error
	require.ErrorAs(t, caught, &ctrlErr)
	assert.Equal(t, CodeInvalidState, ctrlErr.Code)
}

func TestEngine_ReadBlockWrongSizeInvokesFatalHook(t *testing.T) {
	e, _ := newTestEngine(t)
	var caught error
	e.FatalHook = func(err error) { caught = err }

	require.NoError(t, e.Configure())
	require.NoError(t, e.CreateIOQueue())

	e.ReadBlock(0, make([]byte, 10))

	require.Error(t, caught)
	var ctrlErr *Error
	require.ErrorAs(t, caught, &ctrlErr)
	assert.Equal(t, CodeInvalidArg, ctrlErr.Code)
}

func TestEngine_HandleIRQOnIdleQueueReturns(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Configure())
	require.NoError(t, e.CreateIOQueue())

	// HandleIRQ on an idle queue must not block or panic.
	e.HandleIRQ()
}
