package waterfall

import "errors"

var (
	// ErrInvalidDimensions is returned by New for non-positive sizes.
	ErrInvalidDimensions = errors.New("waterfall: invalid matrix dimensions")

	// ErrInvalidKind is returned by New for an unknown ElementKind.
	ErrInvalidKind = errors.New("waterfall: invalid element kind")

	// ErrNotReady is returned by frame operations before the GPU context
	// is ready or after it was lost.
	ErrNotReady = errors.New("waterfall: GPU context not ready")

	// ErrNoHAL is returned when a device provider does not expose the
	// HAL device and queue.
	ErrNoHAL = errors.New("waterfall: provider does not expose HAL device and queue")

	// ErrDeviceTooSmall is returned when the device limits leave no room
	// for a single row.
	ErrDeviceTooSmall = errors.New("waterfall: device limits too small for matrix")
)
