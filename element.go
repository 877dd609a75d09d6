package waterfall

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ElementKind is the sample type of a matrix. It is fixed when the matrix is
// created and determines the byte layout of rows and the texture format.
type ElementKind uint8

const (
	// Real samples are single float32 values stored in an R32Float texture.
	Real ElementKind = iota
	// Complex samples are interleaved (re, im) float32 pairs stored in an
	// RG32Float texture.
	Complex
)

// String returns the kind name.
func (k ElementKind) String() string {
	switch k {
	case Real:
		return "real"
	case Complex:
		return "complex"
	default:
		return fmt.Sprintf("ElementKind(%d)", uint8(k))
	}
}

// Valid reports whether k is Real or Complex.
func (k ElementKind) Valid() bool { return k == Real || k == Complex }

// ValuesPerSample returns the number of float32 values in one sample.
func (k ElementKind) ValuesPerSample() int {
	if k == Complex {
		return 2
	}
	return 1
}

// BytesPerSample returns the size of one sample in bytes.
func (k ElementKind) BytesPerSample() int { return 4 * k.ValuesPerSample() }

// TextureFormat returns the GPU texture format holding samples of kind k.
func (k ElementKind) TextureFormat() gputypes.TextureFormat {
	if k == Complex {
		return gputypes.TextureFormatRG32Float
	}
	return gputypes.TextureFormatR32Float
}
