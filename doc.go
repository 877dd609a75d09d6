// Package waterfall streams rows of numeric samples into a GPU texture.
//
// # Overview
//
// A Matrix is a fixed-size 2D array of real or complex float32 samples that
// lives in a GPU texture. A producer goroutine replaces whole rows with
// Insert or Append; a render goroutine calls Frame once per displayed frame
// to move the queued rows into the texture. Typical uses are spectrogram and
// radar waterfalls where a signal processor emits rows faster than a display
// can draw them.
//
// # Quick Start
//
//	import "github.com/gogpu/waterfall"
//
//	m, err := waterfall.New(512, 4096, waterfall.Complex)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Producer goroutine
//	go func() {
//		for row := range rows {
//			m.Append(row)
//		}
//	}()
//
//	// Render goroutine, once the host has a device
//	if err := m.OnContextReady(provider); err != nil {
//		log.Fatal(err)
//	}
//	for running {
//		if err := m.OnFrame(); err != nil {
//			log.Print(err)
//		}
//	}
//
// # Pipeline
//
// Each Matrix owns two mappable upload buffers that swap roles every frame:
// one is copied into the texture while the other is filled from the queue.
// Every insert is written to two lock-free single-producer queues, one per
// buffer, so each buffer sees every row. Draining coalesces consecutive rows
// into one buffer mapping and keeps only the newest value of a row that was
// inserted twice in a row. Rows become visible in the texture one frame
// after they are drained.
//
// Rows wider than the device allows are pooled down by an integer factor on
// the producer goroutine, keeping the sample with the largest magnitude.
// The height is clamped to the texture and buffer limits.
//
// # Hosts
//
// Matrix implements Lifecycle over any gpucontext.DeviceProvider that also
// exposes HalDevice() and HalQueue(). Package integration/gpuhost provides a
// headless host on the wgpu software backend.
//
// # Logging
//
// Logging is disabled by default. Use SetLogger or WithLogger to enable it.
package waterfall
