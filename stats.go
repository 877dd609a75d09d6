package waterfall

import (
	"fmt"
	"time"
)

// Stats is a snapshot of a matrix's pipeline counters.
type Stats struct {
	// Frames is the number of completed frames.
	Frames uint64
	// CopyTime is the smoothed duration of the buffer-to-texture sync.
	CopyTime time.Duration
	// UploadTime is the smoothed duration of draining the upload queue.
	UploadTime time.Duration
	// FPS is the frame rate over the last statistics window.
	FPS float64

	// Batches is the number of contiguous-range buffer writes.
	Batches uint64
	// Rows is the number of rows written by those batches.
	Rows uint64
	// Superseded counts updates replaced by a newer one for the same row
	// before reaching the GPU.
	Superseded uint64
	// FailedBatches counts batches dropped because the buffer could not be
	// mapped.
	FailedBatches uint64
	// SkippedUploads counts frames whose upload buffer was still in use by
	// the GPU, so draining waited for a later frame.
	SkippedUploads uint64
	// Rejected counts inserts refused because the queues were full.
	Rejected uint64
	// Discarded counts queued rows dropped when Init reset the queues or
	// rows fell outside the matrix.
	Discarded uint64
	// Pending is the approximate number of queued row updates.
	Pending int
}

// String formats the timing part of s the way the periodic log shows it.
func (s Stats) String() string {
	return fmt.Sprintf("frames=%d copy=%v upload=%v fps=%.1f batches=%d rows=%d failed=%d",
		s.Frames, s.CopyTime, s.UploadTime, s.FPS, s.Batches, s.Rows, s.FailedBatches)
}

// ema is an exponential moving average weighting the history 0.9 and the
// new sample 0.1. The first sample seeds it.
type ema struct {
	value  float64
	seeded bool
}

func (e *ema) add(sample float64) {
	if !e.seeded {
		e.value, e.seeded = sample, true
		return
	}
	e.value = 0.9*e.value + 0.1*sample
}

func (e *ema) duration() time.Duration { return time.Duration(e.value) }
