package mockdevice

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-nvme/internal/dma"
	"github.com/ehrlich-b/go-nvme/internal/nvmeapi"
)

// harness wires a Device directly to SimAllocator-backed admin and I/O
// rings, bypassing internal/ctrl so these tests exercise the device's
// command execution in isolation.
type harness struct {
	dev   *Device
	alloc *dma.SimAllocator

	adminSQ uintptr
	adminCQ uintptr
	ioSQ    uintptr
	ioCQ    uintptr
	data    uintptr
}

func newHarness(t *testing.T, adminDepth, ioDepth int) *harness {
	t.Helper()
	alloc := dma.NewSimAllocator()
	dev := New(4096)

	h := &harness{
		dev:     dev,
		alloc:   alloc,
		adminSQ: alloc.Alloc(adminDepth * int(unsafe.Sizeof(nvmeapi.Command{}))),
		adminCQ: alloc.Alloc(adminDepth * int(unsafe.Sizeof(nvmeapi.Completion{}))),
		data:    alloc.Alloc(4096),
	}

	dev.WriteReg32(nvmeapi.RegAQA, nvmeapi.AQAValue)
	dev.WriteReg64(nvmeapi.RegASQ, uint64(h.adminSQ))
	dev.WriteReg64(nvmeapi.RegACQ, uint64(h.adminCQ))
	dev.WriteReg32(nvmeapi.RegCC, nvmeapi.CCEnable)

	return h
}

func (h *harness) adminSlice() []nvmeapi.Command {
	return unsafe.Slice((*nvmeapi.Command)(unsafe.Pointer(h.adminSQ)), nvmeapi.AdminQueueDepth)
}

func (h *harness) adminCQSlice() []nvmeapi.Completion {
	return unsafe.Slice((*nvmeapi.Completion)(unsafe.Pointer(h.adminCQ)), nvmeapi.AdminQueueDepth)
}

func TestDevice_EnableSetsCSTSRdy(t *testing.T) {
	h := newHarness(t, nvmeapi.AdminQueueDepth, 4)
	assert.Equal(t, nvmeapi.CSTSRdy, h.dev.ReadReg32(nvmeapi.RegCSTS))
}

func TestDevice_AdminCreateIOQueues(t *testing.T) {
	h := newHarness(t, nvmeapi.AdminQueueDepth, 4)

	h.ioSQ = h.alloc.Alloc(4 * int(unsafe.Sizeof(nvmeapi.Command{})))
	h.ioCQ = h.alloc.Alloc(4 * int(unsafe.Sizeof(nvmeapi.Completion{})))

	sq := h.adminSlice()
	sq[0] = nvmeapi.NewSetQueueCountCommand(2)
	sq[1] = nvmeapi.NewCreateCQCommand(3, uint64(h.ioCQ), 1, 3)
	sq[2] = nvmeapi.NewCreateSQCommand(4, uint64(h.ioSQ), 1, 3, 1)

	h.dev.WriteDoorbell32(adminSQTailDB, 3)

	require.Len(t, h.dev.AdminLog, 3)
	assert.Equal(t, uint8(nvmeapi.OpcodeSetFeatures), h.dev.AdminLog[0].Opcode)
	assert.Equal(t, uint8(nvmeapi.OpcodeCreateCQ), h.dev.AdminLog[1].Opcode)
	assert.Equal(t, uint8(nvmeapi.OpcodeCreateSQ), h.dev.AdminLog[2].Opcode)

	cq := h.adminCQSlice()
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint16(i+2), cq[i].CommandID)
		assert.Equal(t, uint16(1), cq[i].Phase())
		assert.Equal(t, uint16(0), cq[i].StatusCode())
	}

	require.NotNil(t, h.dev.io)
	assert.Equal(t, h.ioSQ, h.dev.io.sqPhys)
	assert.Equal(t, h.ioCQ, h.dev.io.cqPhys)
}

func (h *harness) createIOQueue(t *testing.T, depth int) {
	t.Helper()
	h.ioSQ = h.alloc.Alloc(depth * int(unsafe.Sizeof(nvmeapi.Command{})))
	h.ioCQ = h.alloc.Alloc(depth * int(unsafe.Sizeof(nvmeapi.Completion{})))

	sq := h.adminSlice()
	sq[0] = nvmeapi.NewCreateCQCommand(3, uint64(h.ioCQ), 1, uint16(depth-1))
	sq[1] = nvmeapi.NewCreateSQCommand(4, uint64(h.ioSQ), 1, uint16(depth-1), 1)
	h.dev.WriteDoorbell32(adminSQTailDB, 2)
	require.NotNil(t, h.dev.io)
}

func (h *harness) ioSlice(depth int) []nvmeapi.Command {
	return unsafe.Slice((*nvmeapi.Command)(unsafe.Pointer(h.ioSQ)), depth)
}

func (h *harness) ioCQSlice(depth int) []nvmeapi.Completion {
	return unsafe.Slice((*nvmeapi.Completion)(unsafe.Pointer(h.ioCQ)), depth)
}

func TestDevice_WriteThenReadRoundTrip(t *testing.T) {
	const depth = 4
	h := newHarness(t, nvmeapi.AdminQueueDepth, depth)
	h.createIOQueue(t, depth)

	payload := h.alloc.Bytes(h.data)
	for i := range payload[:512] {
		payload[i] = byte(i)
	}

	sq := h.ioSlice(depth)
	sq[0] = nvmeapi.NewWriteCommand(10, 5, uint64(h.data))
	h.dev.WriteDoorbell32(ioSQTailDB, 1)

	cq := h.ioCQSlice(depth)
	assert.Equal(t, uint16(10), cq[0].CommandID)
	assert.Equal(t, uint16(0), cq[0].StatusCode())

	block := h.dev.NamespaceBlock(5)
	assert.Equal(t, payload[:512], block)

	// clear the scratch buffer and read block 5 back through the device.
	for i := range payload[:512] {
		payload[i] = 0
	}
	sq[1] = nvmeapi.NewReadCommand(11, 5, uint64(h.data))
	h.dev.WriteDoorbell32(ioSQTailDB, 2)

	assert.Equal(t, uint16(11), cq[1].CommandID)
	assert.Equal(t, block, payload[:512])
}

func TestDevice_CQPhaseFlipsOnWrap(t *testing.T) {
	const depth = 2
	h := newHarness(t, nvmeapi.AdminQueueDepth, depth)
	h.createIOQueue(t, depth)

	sq := h.ioSlice(depth)
	cq := h.ioCQSlice(depth)

	sq[0] = nvmeapi.NewReadCommand(1, 0, uint64(h.data))
	h.dev.WriteDoorbell32(ioSQTailDB, 1)
	assert.Equal(t, uint16(1), cq[0].Phase())

	sq[1] = nvmeapi.NewReadCommand(2, 0, uint64(h.data))
	h.dev.WriteDoorbell32(ioSQTailDB, 0) // wraps: tail goes from 1 to 0
	assert.Equal(t, uint16(1), cq[1].Phase(), "first full lap still posts phase 1")

	sq[0] = nvmeapi.NewReadCommand(3, 0, uint64(h.data))
	h.dev.WriteDoorbell32(ioSQTailDB, 1)
	assert.Equal(t, uint16(0), cq[0].Phase(), "second lap posts the flipped phase")
}

func TestDevice_IdentifyFillsBuffer(t *testing.T) {
	h := newHarness(t, nvmeapi.AdminQueueDepth, 4)

	payload := h.alloc.Bytes(h.data)
	for i := range payload {
		payload[i] = 0
	}

	sq := h.adminSlice()
	sq[0] = nvmeapi.NewIdentifyCommand(5, 1, uint64(h.data), nvmeapi.IdentifyCNSController)
	h.dev.WriteDoorbell32(adminSQTailDB, 1)

	for _, b := range payload {
		require.Equal(t, byte(0xA5), b)
	}
}

func TestDevice_ReadOutOfRangeReturnsErrorStatus(t *testing.T) {
	const depth = 2
	h := newHarness(t, nvmeapi.AdminQueueDepth, depth)
	h.createIOQueue(t, depth)

	sq := h.ioSlice(depth)
	cq := h.ioCQSlice(depth)

	sq[0] = nvmeapi.NewReadCommand(9, 1<<40, uint64(h.data))
	h.dev.WriteDoorbell32(ioSQTailDB, 1)

	assert.NotEqual(t, uint16(0), cq[0].StatusCode())
}
