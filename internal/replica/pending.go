package replica

import (
	"sort"

	"github.com/rickgao/l3book/internal/model"
)

// pendingBuffer is a bounded ring of events held while a resync is in
// flight. It is owned by the run goroutine and is not locked.
type pendingBuffer struct {
	buf      []model.Event
	head     int // read position
	count    int
	eviction Eviction

	evicted int64
}

func newPendingBuffer(capacity int, eviction Eviction) *pendingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &pendingBuffer{
		buf:      make([]model.Event, capacity),
		eviction: eviction,
	}
}

// push adds an event. It reports whether an event was discarded to make
// room, including ev itself under DropNewest.
func (p *pendingBuffer) push(ev model.Event) bool {
	capacity := len(p.buf)
	if p.count < capacity {
		p.buf[(p.head+p.count)%capacity] = ev
		p.count++
		return false
	}

	p.evicted++
	if p.eviction == DropNewest {
		return true
	}
	// Overwrite the oldest slot and advance.
	p.buf[p.head] = ev
	p.head = (p.head + 1) % capacity
	return true
}

// drain removes every buffered event and returns them sorted by sequence.
func (p *pendingBuffer) drain() []model.Event {
	if p.count == 0 {
		return nil
	}

	capacity := len(p.buf)
	out := make([]model.Event, p.count)
	for i := 0; i < p.count; i++ {
		idx := (p.head + i) % capacity
		out[i] = p.buf[idx]
		p.buf[idx] = nil // Clear reference for GC
	}
	p.head = 0
	p.count = 0

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Seq() < out[j].Seq()
	})
	return out
}

func (p *pendingBuffer) len() int {
	return p.count
}
