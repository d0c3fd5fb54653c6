package gpu

import (
	"errors"
	"sync"
)

var errBarrierBroken = errors.New("work-group barrier broken by a failed work-item")

// WorkItem exposes the work-item built-ins to a WorkItemFunc.
type WorkItem struct {
	global    [3]int
	local     [3]int
	group     [3]int
	localSize [3]int
	barrier   *barrier
}

// GlobalID returns the work-item's index in the global range along dim.
func (wi *WorkItem) GlobalID(dim int) int { return wi.global[dim] }

// LocalID returns the work-item's index within its work-group along dim.
func (wi *WorkItem) LocalID(dim int) int { return wi.local[dim] }

// GroupID returns the work-group's index along dim.
func (wi *WorkItem) GroupID(dim int) int { return wi.group[dim] }

func (wi *WorkItem) LocalSize(dim int) int { return wi.localSize[dim] }

// Barrier blocks until every work-item of the group reached it.
func (wi *WorkItem) Barrier() {
	if wi.barrier == nil {
		panic("barrier used by a kernel built without barrier support")
	}
	wi.barrier.wait()
}

// barrier is a cyclic work-group barrier.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
	broken     bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		panic(errBarrierBroken)
	}
	gen := b.generation
	b.waiting++
	if b.waiting == b.parties {
		b.trip()
		return
	}
	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}
	if gen == b.generation {
		panic(errBarrierBroken)
	}
}

// leave removes a finished work-item from the party so that items still
// waiting are not stranded.
func (b *barrier) leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties--
	if b.waiting > 0 && b.waiting == b.parties {
		b.trip()
	}
}

func (b *barrier) breakAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = true
	b.cond.Broadcast()
}

func (b *barrier) trip() {
	b.waiting = 0
	b.generation++
	b.cond.Broadcast()
}
