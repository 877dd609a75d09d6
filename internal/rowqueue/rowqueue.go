// Package rowqueue implements the pair of single-producer/single-consumer
// queues that carry pending row updates from the producer goroutine to the
// frame loop.
//
// Every push lands in both halves. The frame loop alternates which half it
// drains, so each GPU upload buffer sees every row update exactly once while
// the other half keeps collecting inserts for the next frame.
package rowqueue

import (
	"fmt"
	"sync/atomic"

	"code.hybscloud.com/lfq"
)

// Entry is one pending row update. Values is shared read-only between the
// two halves and must not be mutated after Push.
type Entry struct {
	Row    int
	Values []float32
}

// Queue is one half of a Pair. Push side methods belong to the producer,
// Peek/Pop/Discard to the consumer.
type Queue struct {
	q   *lfq.SPSC[Entry]
	cap int64

	// pending counts entries pushed but not yet popped. The producer only
	// increments it and the consumer only decrements, so it never
	// undercounts the ring occupancy from the producer's point of view.
	pending atomic.Int64

	head    Entry
	hasHead bool
}

func newQueue(capacity int) *Queue {
	// lfq needs at least 2 slots and rounds up to a power of two.
	return &Queue{
		q:   lfq.NewSPSC[Entry](max(capacity+1, 2)),
		cap: int64(capacity),
	}
}

// Len returns an approximate number of queued entries. It is a hint for
// logging and sizing only; draining relies on Peek and Pop results.
func (q *Queue) Len() int { return int(q.pending.Load()) }

// Cap returns the number of entries the half accepts before Push fails.
func (q *Queue) Cap() int { return int(q.cap) }

func (q *Queue) full() bool { return q.pending.Load() >= q.cap }

func (q *Queue) push(e *Entry) bool {
	if err := q.q.Enqueue(e); err != nil {
		return false
	}
	q.pending.Add(1)
	return true
}

// Peek returns the head entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	if q.hasHead {
		return q.head, true
	}
	e, err := q.q.Dequeue()
	if err != nil {
		return Entry{}, false
	}
	q.head, q.hasHead = e, true
	return e, true
}

// Pop removes and returns the head entry.
func (q *Queue) Pop() (Entry, bool) {
	e, ok := q.Peek()
	if !ok {
		return Entry{}, false
	}
	q.head, q.hasHead = Entry{}, false
	q.pending.Add(-1)
	return e, true
}

// Discard drops every entry currently visible to the consumer and returns
// how many were dropped.
func (q *Queue) Discard() int {
	n := 0
	for {
		if _, ok := q.Pop(); !ok {
			return n
		}
		n++
	}
}

// Pair is the producer-facing side of two mirrored queues.
type Pair struct {
	halves [2]*Queue
}

// New creates a Pair whose halves each hold up to capacity entries.
func New(capacity int) *Pair {
	if capacity < 1 {
		panic(fmt.Sprintf("rowqueue: invalid capacity %d", capacity))
	}
	return &Pair{halves: [2]*Queue{newQueue(capacity), newQueue(capacity)}}
}

// Push enqueues e into both halves. It never blocks: when either half is at
// capacity nothing is enqueued and Push returns false, so the halves always
// carry identical sequences.
//
// Push must only be called from the producer goroutine.
func (p *Pair) Push(e Entry) bool {
	if p.halves[0].full() || p.halves[1].full() {
		return false
	}
	if !p.halves[0].push(&e) {
		return false
	}
	if !p.halves[1].push(&e) {
		// The capacity check above leaves room in both rings.
		panic("rowqueue: halves diverged")
	}
	return true
}

// Half returns half i (0 or 1). The returned Queue must only be consumed
// from the frame goroutine.
func (p *Pair) Half(i int) *Queue { return p.halves[i] }
