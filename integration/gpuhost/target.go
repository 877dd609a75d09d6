// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpuhost

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/waterfall"
)

// Target is an offscreen color texture that a matrix can draw into in place
// of a window surface.
type Target struct {
	device  hal.Device
	texture hal.Texture
	view    hal.TextureView
	format  gputypes.TextureFormat
	width   int
	height  int
}

var _ waterfall.DisplayTarget = (*Target)(nil)

// NewTarget creates a width x height render target on the host device. A
// format of gputypes.TextureFormatUndefined uses BGRA8Unorm.
func (h *Headless) NewTarget(width, height int, format gputypes.TextureFormat) (*Target, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gpuhost: invalid target size %dx%d", width, height)
	}
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatBGRA8Unorm
	}

	texture, err := h.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "gpuhost_target",
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("gpuhost: create target texture: %w", err)
	}
	view, err := h.device.CreateTextureView(texture, &hal.TextureViewDescriptor{
		Label:         "gpuhost_target_view",
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		h.device.DestroyTexture(texture)
		return nil, fmt.Errorf("gpuhost: create target view: %w", err)
	}
	return &Target{
		device:  h.device,
		texture: texture,
		view:    view,
		format:  format,
		width:   width,
		height:  height,
	}, nil
}

// Format returns the color format of the target.
func (t *Target) Format() gputypes.TextureFormat { return t.format }

// View returns the view to draw into, or nil after Destroy.
func (t *Target) View() hal.TextureView { return t.view }

// Texture returns the target texture, or nil after Destroy.
func (t *Target) Texture() hal.Texture { return t.texture }

// Size returns the target size in pixels.
func (t *Target) Size() (width, height int) { return t.width, t.height }

// Destroy releases the texture. Safe to call more than once.
func (t *Target) Destroy() {
	if t.view != nil {
		t.device.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.texture != nil {
		t.device.DestroyTexture(t.texture)
		t.texture = nil
	}
}
