// Package queue implements the NVMe submission/completion ring pair and
// the scratch-buffer pool admin commands borrow from.
package queue

import (
	"sync/atomic"
	"unsafe"

	"github.com/ehrlich-b/go-nvme/internal/dma"
	"github.com/ehrlich-b/go-nvme/internal/nvmeapi"
)

// Pair holds one NVMe submission/completion queue pair's ring state.
//
// sq/cq are sized to exactly Depth elements — deliberately not the
// original_source slice-length bug (NVME_QUEUE_DEPTH*64/*16 used as an
// element count, over-allocating the ring 64x/16x). spec.md's
// invariants (0 <= sq_tail < q_depth, etc.) only hold with a correctly
// sized ring.
type Pair struct {
	QID      int
	DBOffset uintptr // doorbell register offset of this pair's SQ tail doorbell
	Depth    int

	sq []nvmeapi.Command
	cq []nvmeapi.Completion

	CQHead      int
	CQPhase     uint16
	SQTail      int
	LastSQTail  int

	SQPhys uintptr
	CQPhys uintptr
	DataPhys uintptr
}

// New allocates a queue pair's SQ/CQ rings (and a 4-page scratch data
// region, mirroring original_source's PAGE_SIZE*4 allocation) via alloc
// and returns it in its reset state.
func New(qid int, dbOffset uintptr, depth int, alloc dma.Allocator) *Pair {
	const pageSize = 4096

	sqVA := alloc.Alloc(depth * int(unsafe.Sizeof(nvmeapi.Command{})))
	cqVA := alloc.Alloc(depth * int(unsafe.Sizeof(nvmeapi.Completion{})))
	dataVA := alloc.Alloc(pageSize * 4)

	p := &Pair{
		QID:      qid,
		DBOffset: dbOffset,
		Depth:    depth,
		sq:       unsafe.Slice((*nvmeapi.Command)(unsafe.Pointer(sqVA)), depth),
		cq:       unsafe.Slice((*nvmeapi.Completion)(unsafe.Pointer(cqVA)), depth),
		SQPhys:   alloc.VirtToPhys(sqVA),
		CQPhys:   alloc.VirtToPhys(cqVA),
		DataPhys: alloc.VirtToPhys(dataVA),
	}
	p.Reset()
	return p
}

// Reset restores the ring indices to their post-creation values.
// Mirrors original_source's nvme_init_queue.
func (p *Pair) Reset() {
	p.CQHead = 0
	p.CQPhase = 1
	p.SQTail = 0
	p.LastSQTail = 0
}

// WriteSQ stores cmd at the current tail slot and returns the slot's
// index. It does not advance the tail or ring the doorbell — callers
// drive that through AdvanceSQTail/ctrl's doorbell helpers so the
// memory-barrier placement stays explicit at the call site.
func (p *Pair) WriteSQ(cmd nvmeapi.Command) int {
	slot := p.SQTail
	p.sq[slot] = cmd
	return slot
}

// AdvanceSQTail moves sq_tail to the next slot, wrapping at Depth.
func (p *Pair) AdvanceSQTail() {
	if p.SQTail+1 == p.Depth {
		p.SQTail = 0
	} else {
		p.SQTail++
	}
}

// loadCQE reads the completion at slot idx field-by-field with atomic
// loads. The device writes this record asynchronously with no Go
// happens-before edge, so an ordinary struct load (or a plain load of
// just the phase bit) is fair game for the compiler to hoist out of a
// polling loop or serve from a stale register. Mirrors the teacher's
// loadDescriptor pattern for ublk's kernel-written I/O descriptors.
func (p *Pair) loadCQE(idx int) nvmeapi.Completion {
	e := &p.cq[idx]
	// sync/atomic has no 16-bit load, so each pair of u16 fields is read
	// as the aligned little-endian 32-bit word that holds it.
	head := atomic.LoadUint32((*uint32)(unsafe.Pointer(&e.SQHead)))
	tail := atomic.LoadUint32((*uint32)(unsafe.Pointer(&e.CommandID)))
	return nvmeapi.Completion{
		Result:    atomic.LoadUint64(&e.Result),
		SQHead:    uint16(head),
		SQID:      uint16(head >> 16),
		CommandID: uint16(tail),
		Status:    uint16(tail >> 16),
	}
}

// PeekCQ returns the completion at the current head slot without
// advancing it, reading it through loadCQE's ordered loads.
func (p *Pair) PeekCQ() nvmeapi.Completion {
	return p.loadCQE(p.CQHead)
}

// CQEPending reports whether the completion at the current head has the
// expected phase bit set. The phase bit itself must be read with an
// atomic load on every call: it is the only signal that a busy-wait
// loop has to notice the device has posted a completion, and a plain
// load is legal for the compiler to cache across loop iterations.
func (p *Pair) CQEPending() bool {
	word := atomic.LoadUint32((*uint32)(unsafe.Pointer(&p.cq[p.CQHead].CommandID)))
	status := uint16(word >> 16)
	return status&1 == p.CQPhase
}

// AdvanceCQHead moves cq_head to the next slot, flipping the phase on
// wraparound. Mirrors nvme_update_cq_head.
func (p *Pair) AdvanceCQHead() {
	next := p.CQHead + 1
	if next == p.Depth {
		p.CQHead = 0
		p.CQPhase ^= 1
	} else {
		p.CQHead = next
	}
}
