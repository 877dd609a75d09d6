// Package upload turns a queue of pending row updates into the fewest
// possible contiguous-range buffer writes.
//
// Every buffer write maps, copies and unmaps a GPU buffer range, and the map
// has a fixed cost independent of size. Drain therefore groups queued rows
// into maximal runs of consecutive indices and hands each run to the writer
// as a single Batch.
package upload

import (
	"github.com/gogpu/waterfall/internal/rowqueue"
)

// Source is the consumer side of one row queue.
type Source interface {
	Peek() (rowqueue.Entry, bool)
	Pop() (rowqueue.Entry, bool)
	Len() int
}

// Batch is a run of consecutive rows starting at Start.
type Batch struct {
	Start int
	Rows  [][]float32
}

// WriteFunc writes one batch. A returned error drops the batch.
type WriteFunc func(Batch) error

// Result summarizes one Drain call.
type Result struct {
	// Batches is the number of successful writes.
	Batches int
	// Rows is the number of rows written by successful batches.
	Rows int
	// Superseded counts entries replaced by a newer entry for the same row.
	Superseded int
	// Dropped counts entries whose row lies outside the matrix.
	Dropped int
	// Failed counts batches whose write returned an error.
	Failed int
	// Err is the first write error, if any.
	Err error
}

// Drain consumes src into batches of consecutive rows below height and
// passes each batch to write.
//
// Draining stops when the queue is empty, when the head entry lies before
// the scan cursor (the producer wrapped around; the entry waits for the
// next drain), or once the number of entries visible at entry has been
// consumed. Within a batch a repeated row index replaces the earlier row.
// Failed batches are counted and not re-queued.
//
// The Rows slice of a Batch is reused between calls to write.
func Drain(src Source, height int, write WriteFunc) Result {
	var res Result
	budget := src.Len()
	cursor := 0
	var rows [][]float32

	for budget > 0 {
		head, ok := src.Peek()
		if !ok || head.Row < cursor {
			break
		}
		if head.Row >= height {
			src.Pop()
			budget--
			res.Dropped++
			continue
		}

		start := head.Row
		cursor = start
		rows = rows[:0]
	run:
		for budget > 0 {
			head, ok = src.Peek()
			if !ok {
				break
			}
			switch {
			case head.Row == cursor && cursor < height:
				rows = append(rows, head.Values)
				cursor++
			case len(rows) > 0 && head.Row == cursor-1:
				rows[len(rows)-1] = head.Values
				res.Superseded++
			default:
				// Gap or wrap-around ends the run.
				break run
			}
			src.Pop()
			budget--
		}

		if err := write(Batch{Start: start, Rows: rows}); err != nil {
			res.Failed++
			if res.Err == nil {
				res.Err = err
			}
		} else {
			res.Batches++
			res.Rows += len(rows)
		}
	}
	return res
}
