package waterfall

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Lifecycle is the contract between a GPU-owning host (a window, an
// offscreen loop) and a pipeline that renders through it. The host calls
// every method from its render goroutine.
type Lifecycle interface {
	// OnContextReady is called once the device is available, and again
	// after every context loss.
	OnContextReady(provider gpucontext.DeviceProvider) error
	// OnFrame is called once per displayed frame.
	OnFrame() error
	// OnContextLost is called before the device goes away.
	OnContextLost()
}

var _ Lifecycle = (*Matrix)(nil)

// halProvider is implemented by providers that give direct access to the
// wgpu HAL objects behind gpucontext.Device and gpucontext.Queue.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// limitsProvider is optionally implemented by providers that know the
// device limits. Providers without it are assumed to meet the WebGPU
// defaults.
type limitsProvider interface {
	Limits() gputypes.Limits
}

// DisplayTarget supplies the texture the matrix is drawn into each frame.
type DisplayTarget interface {
	// Format is the color format of the views returned by View.
	Format() gputypes.TextureFormat
	// View returns the view to draw into this frame, or nil to skip
	// drawing.
	View() hal.TextureView
}

// halFromProvider extracts the HAL device, queue and limits.
func halFromProvider(provider gpucontext.DeviceProvider) (hal.Device, hal.Queue, gputypes.Limits, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, nil, gputypes.Limits{}, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, gputypes.Limits{}, fmt.Errorf("%w: HalDevice is %T", ErrNoHAL, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, gputypes.Limits{}, fmt.Errorf("%w: HalQueue is %T", ErrNoHAL, hp.HalQueue())
	}
	limits := gputypes.DefaultLimits()
	if lp, ok := provider.(limitsProvider); ok {
		limits = lp.Limits()
	}
	return device, queue, limits, nil
}
