package waterfall

import (
	"log/slog"
)

// DefaultStatsInterval is the number of frames between statistics log lines.
const DefaultStatsInterval = 1000

// Option configures a Matrix during creation.
//
// Example:
//
//	m, err := waterfall.New(4096, 1024, waterfall.Complex,
//	    waterfall.WithLabel("spectrum"),
//	    waterfall.WithStatsInterval(600),
//	)
type Option func(*options)

type options struct {
	logger        *slog.Logger
	label         string
	statsInterval int
	queueCapacity int
	display       DisplayTarget
}

func defaultOptions() options {
	return options{
		label:         "matrix",
		statsInterval: DefaultStatsInterval,
	}
}

// WithLogger sets a logger for this matrix only, overriding the package
// logger configured by SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLabel sets the debug label used for GPU objects and log lines.
func WithLabel(label string) Option {
	return func(o *options) {
		if label != "" {
			o.label = label
		}
	}
}

// WithStatsInterval sets how many frames pass between statistics log lines.
// Zero or a negative value disables the periodic log.
func WithStatsInterval(frames int) Option {
	return func(o *options) {
		o.statsInterval = frames
	}
}

// WithQueueCapacity sets the number of pending row updates each queue half
// holds. The default is twice the matrix height: a half is drained every
// other frame, so it may collect two frames' worth of inserts.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		o.queueCapacity = n
	}
}

// WithDisplay draws the matrix into target at the end of every frame using
// the built-in display shader.
func WithDisplay(target DisplayTarget) Option {
	return func(o *options) {
		o.display = target
	}
}
