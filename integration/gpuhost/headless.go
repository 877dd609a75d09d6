// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpuhost

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
)

// Common errors returned by Headless operations.
var (
	// ErrClosed is returned when the host has been closed.
	ErrClosed = errors.New("gpuhost: host is closed")

	// ErrNoAdapter is returned when the backend exposes no adapter.
	ErrNoAdapter = errors.New("gpuhost: no adapter available")

	// ErrUnknownBackend is returned for a Backend value outside the
	// declared constants.
	ErrUnknownBackend = errors.New("gpuhost: unknown backend")
)

// Backend selects the HAL implementation behind a Headless host.
type Backend int

const (
	// Software renders on the CPU. Buffers, copies and draws are executed.
	Software Backend = iota
	// Noop accepts every call and executes nothing. Buffer contents are
	// kept, texture contents are not.
	Noop
)

// String returns the backend name.
func (b Backend) String() string {
	switch b {
	case Software:
		return "software"
	case Noop:
		return "noop"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend converts a backend name back to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "software":
		return Software, nil
	case "noop":
		return Noop, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

func (b Backend) api() (hal.Backend, error) {
	switch b {
	case Software:
		return software.API{}, nil
	case Noop:
		return noop.API{}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownBackend, b)
	}
}

// HeadlessOption configures a Headless host.
type HeadlessOption func(*headlessOptions)

type headlessOptions struct {
	limits        *gputypes.Limits
	surfaceFormat gputypes.TextureFormat
}

// WithLimits overrides the limits reported to consumers. The device itself
// is still opened with the adapter's limits; this is used to exercise
// geometry clamping on backends that accept any size.
func WithLimits(limits gputypes.Limits) HeadlessOption {
	return func(o *headlessOptions) {
		o.limits = &limits
	}
}

// WithSurfaceFormat sets the format reported by SurfaceFormat. The default
// is gputypes.TextureFormatUndefined, meaning no surface.
func WithSurfaceFormat(format gputypes.TextureFormat) HeadlessOption {
	return func(o *headlessOptions) {
		o.surfaceFormat = format
	}
}

// Headless is a gpucontext.DeviceProvider over a HAL device with no window.
// Besides the DeviceProvider methods it implements HalDevice, HalQueue and
// Limits, which waterfall.Matrix uses to reach the HAL objects.
type Headless struct {
	backend  Backend
	opts     headlessOptions
	instance hal.Instance
	info     gputypes.AdapterInfo
	limits   gputypes.Limits
	device   hal.Device
	queue    hal.Queue
	closed   bool
}

var _ gpucontext.DeviceProvider = (*Headless)(nil)

// NewHeadless opens the first adapter of backend.
func NewHeadless(backend Backend, opts ...HeadlessOption) (*Headless, error) {
	var o headlessOptions
	for _, opt := range opts {
		opt(&o)
	}

	api, err := backend.api()
	if err != nil {
		return nil, err
	}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("gpuhost: create %v instance: %w", backend, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: %v backend", ErrNoAdapter, backend)
	}
	exposed := adapters[0]

	limits := exposed.Capabilities.Limits
	if limits == (gputypes.Limits{}) {
		limits = gputypes.DefaultLimits()
	}
	open, err := exposed.Adapter.Open(0, limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpuhost: open %v device: %w", backend, err)
	}

	if o.limits != nil {
		limits = *o.limits
	}
	return &Headless{
		backend:  backend,
		opts:     o,
		instance: instance,
		info:     exposed.Info,
		limits:   limits,
		device:   open.Device,
		queue:    open.Queue,
	}, nil
}

// Backend returns the HAL backend in use.
func (h *Headless) Backend() Backend { return h.backend }

// Device implements gpucontext.DeviceProvider. It returns the hal.Device.
func (h *Headless) Device() gpucontext.Device { return h.device }

// Queue implements gpucontext.DeviceProvider. It returns the hal.Queue.
func (h *Headless) Queue() gpucontext.Queue { return h.queue }

// SurfaceFormat implements gpucontext.DeviceProvider.
func (h *Headless) SurfaceFormat() gputypes.TextureFormat { return h.opts.surfaceFormat }

// Adapter implements gpucontext.DeviceProvider. Headless does not expose its
// adapter.
func (h *Headless) Adapter() gpucontext.Adapter { return nil }

// AdapterInfo implements gpucontext.DeviceProvider.
func (h *Headless) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{
		Name: h.info.Name,
		Type: adapterType(h.info.DeviceType),
	}
}

// HalDevice returns the hal.Device as any.
func (h *Headless) HalDevice() any {
	if h.closed {
		return nil
	}
	return h.device
}

// HalQueue returns the hal.Queue as any.
func (h *Headless) HalQueue() any {
	if h.closed {
		return nil
	}
	return h.queue
}

// Limits returns the device limits, or the override set by WithLimits.
func (h *Headless) Limits() gputypes.Limits { return h.limits }

// Close waits for the device to go idle and destroys it. Resources created
// on the device must be released first. Safe to call more than once.
func (h *Headless) Close() {
	if h.closed {
		return
	}
	h.closed = true
	_ = h.device.WaitIdle()
	h.device.Destroy()
	h.instance.Destroy()
	h.device, h.queue = nil, nil
}

func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeVirtualGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}
