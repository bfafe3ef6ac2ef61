// Implements the EventQueue, which holds all planned submissions that have
// not been dispatched yet, ordered by simulated offset.

package sim

import (
	"cmp"
	"time"

	"github.com/addrummond/heap"
)

// queueEntry is the heap element: the ordering key plus an index into the
// queue's event arena. Keeping the heap small and value-typed avoids moving
// events around on every sift.
type queueEntry struct {
	offset time.Duration
	seq    uint64
	idx    int
}

// Cmp orders entries by offset, then by sequence number. Heaps are not
// stable, so seq is what makes equal offsets pop in insertion order.
func (a *queueEntry) Cmp(b *queueEntry) int {
	if c := cmp.Compare(a.offset, b.offset); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// EventQueue is a min-priority queue of SubmissionEvents keyed by
// (Offset, Seq). Owned by a single goroutine; not thread-safe.
type EventQueue struct {
	arena []*SubmissionEvent
	heap  heap.Heap[queueEntry, heap.Min]
	n     int
}

// NewEventQueue creates a queue pre-loaded with events.
func NewEventQueue(events []*SubmissionEvent) *EventQueue {
	q := &EventQueue{arena: make([]*SubmissionEvent, 0, len(events))}
	for _, e := range events {
		q.Push(e)
	}
	return q
}

// Push adds an event to the queue.
func (q *EventQueue) Push(e *SubmissionEvent) {
	q.arena = append(q.arena, e)
	heap.PushOrderable(&q.heap, queueEntry{offset: e.Offset, seq: e.Seq, idx: len(q.arena) - 1})
	q.n++
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	return q.n
}

// Peek returns the earliest event without removing it.
// Returns nil if the queue is empty.
func (q *EventQueue) Peek() *SubmissionEvent {
	entry, ok := heap.Peek(&q.heap)
	if !ok {
		return nil
	}
	return q.arena[entry.idx]
}

// Pop removes and returns the earliest event.
// Returns nil if the queue is empty.
func (q *EventQueue) Pop() *SubmissionEvent {
	entry, ok := heap.PopOrderable(&q.heap)
	if !ok {
		return nil
	}
	q.n--
	e := q.arena[entry.idx]
	q.arena[entry.idx] = nil
	return e
}

// Drain pops every remaining event in order.
func (q *EventQueue) Drain() []*SubmissionEvent {
	out := make([]*SubmissionEvent, 0, q.n)
	for q.n > 0 {
		out = append(out, q.Pop())
	}
	return out
}
