package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-nvme/internal/dma"
	"github.com/ehrlich-b/go-nvme/internal/nvmeapi"
)

func TestNew_RingsAreExactlyDepthSized(t *testing.T) {
	alloc := dma.NewSimAllocator()
	p := New(1, 0x8, 4, alloc)

	require.Len(t, p.sq, 4)
	require.Len(t, p.cq, 4)
}

func TestNew_ResetState(t *testing.T) {
	alloc := dma.NewSimAllocator()
	p := New(0, 0, nvmeapi.AdminQueueDepth, alloc)

	assert.Equal(t, 0, p.CQHead)
	assert.Equal(t, uint16(1), p.CQPhase)
	assert.Equal(t, 0, p.SQTail)
	assert.Equal(t, 0, p.LastSQTail)
}

func TestAdvanceSQTail_Wraps(t *testing.T) {
	alloc := dma.NewSimAllocator()
	p := New(1, 0x8, 4, alloc)

	for i := 0; i < 3; i++ {
		p.AdvanceSQTail()
	}
	assert.Equal(t, 3, p.SQTail)

	p.AdvanceSQTail()
	assert.Equal(t, 0, p.SQTail, "sq_tail must wrap at Depth, not grow past it")
}

func TestAdvanceCQHead_FlipsPhaseOnWrap(t *testing.T) {
	alloc := dma.NewSimAllocator()
	p := New(1, 0x8, 2, alloc)

	assert.Equal(t, uint16(1), p.CQPhase)

	p.AdvanceCQHead() // 0 -> 1, no wrap yet
	assert.Equal(t, 1, p.CQHead)
	assert.Equal(t, uint16(1), p.CQPhase)

	p.AdvanceCQHead() // 1 -> 0, wraps
	assert.Equal(t, 0, p.CQHead)
	assert.Equal(t, uint16(0), p.CQPhase, "phase must flip every time cq_head wraps")

	p.AdvanceCQHead()
	p.AdvanceCQHead()
	assert.Equal(t, uint16(1), p.CQPhase, "phase flips back after a second wrap")
}

func TestWriteSQ_StoresAtTailSlot(t *testing.T) {
	alloc := dma.NewSimAllocator()
	p := New(1, 0x8, 4, alloc)

	p.AdvanceSQTail()
	p.AdvanceSQTail()

	cmd := nvmeapi.NewReadCommand(7, 42, 0x1000)
	slot := p.WriteSQ(cmd)

	assert.Equal(t, 2, slot)
	assert.Equal(t, cmd, p.sq[slot])
}

func TestCQEPending_MatchesPhase(t *testing.T) {
	alloc := dma.NewSimAllocator()
	p := New(1, 0x8, 2, alloc)

	assert.False(t, p.CQEPending(), "a freshly reset ring has no pending completion")

	p.cq[0] = nvmeapi.Completion{CommandID: 1, Status: 1} // phase bit set, matches p.CQPhase==1
	assert.True(t, p.CQEPending())
}
