// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpuhost runs waterfall matrices without a window.
//
// Headless opens a wgpu HAL device on the CPU software backend (or the noop
// backend for tests) and exposes it as a gpucontext.DeviceProvider, the same
// contract a gogpu window host implements. Target is an offscreen render
// texture usable as a waterfall.DisplayTarget, and Run drives any
// waterfall.Lifecycle with a fixed frame clock:
//
//	host, err := gpuhost.NewHeadless(gpuhost.Software)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer host.Close()
//
//	m, _ := waterfall.New(512, 1024, waterfall.Real)
//	err = gpuhost.Run(ctx, host, m, gpuhost.RunConfig{Frames: 600})
//
// # Thread Safety
//
// Headless and Target are not safe for concurrent use. Run calls the
// lifecycle from the calling goroutine only.
package gpuhost
