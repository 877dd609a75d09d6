// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpuhost

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/waterfall"
)

// RunConfig controls the frame clock of Run.
type RunConfig struct {
	// Frames stops the loop after this many frames. Zero runs until the
	// context is canceled.
	Frames int

	// Interval is the time between frames. Zero runs frames back to back.
	Interval time.Duration

	// AfterFrame, if set, is called after every successful frame with the
	// zero-based frame number. A non-nil error stops the loop and is
	// returned by Run.
	AfterFrame func(frame int) error
}

// Run initializes lc on host and calls OnFrame until cfg.Frames frames have
// run or ctx is canceled. OnContextLost is called before Run returns if the
// context became ready. Cancellation is not an error.
func Run(ctx context.Context, host *Headless, lc waterfall.Lifecycle, cfg RunConfig) error {
	if host.closed {
		return ErrClosed
	}
	if err := lc.OnContextReady(host); err != nil {
		return fmt.Errorf("gpuhost: context ready: %w", err)
	}
	defer lc.OnContextLost()

	var tick <-chan time.Time
	if cfg.Interval > 0 {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for frame := 0; cfg.Frames == 0 || frame < cfg.Frames; frame++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if err := lc.OnFrame(); err != nil {
			return fmt.Errorf("gpuhost: frame %d: %w", frame, err)
		}
		if cfg.AfterFrame != nil {
			if err := cfg.AfterFrame(frame); err != nil {
				return err
			}
		}
	}
	return nil
}
