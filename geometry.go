package waterfall

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/waterfall/internal/downscale"
	"github.com/gogpu/waterfall/internal/gpu"
)

// Geometry is the shape of a matrix on the GPU.
type Geometry struct {
	// Height is the number of texture rows. It may be lower than the
	// requested row count when the device cannot hold that many.
	Height int
	// Width is the number of texture columns.
	Width int
	// InputWidth is the number of columns of inserted rows.
	InputWidth int
	// Factor is the pooling factor mapping inserted rows onto texture
	// rows: InputWidth == Width * Factor.
	Factor int
	// Kind is the sample type.
	Kind ElementKind
}

// String returns a compact description such as "1024x4096 real (÷2)".
func (g Geometry) String() string {
	s := fmt.Sprintf("%dx%d %s", g.Width, g.Height, g.Kind)
	if g.Factor > 1 {
		s += fmt.Sprintf(" (÷%d)", g.Factor)
	}
	return s
}

// RowPitch returns the byte distance between rows in an upload buffer.
func (g Geometry) RowPitch() uint64 {
	return gpu.RowPitch(g.Width, g.Kind.BytesPerSample())
}

// RowValues returns the number of float32 values an inserted row holds.
func (g Geometry) RowValues() int { return g.InputWidth * g.Kind.ValuesPerSample() }

// ResolveGeometry fits a rows x cols matrix of kind into the device limits.
//
// Height is clamped to MaxTextureDimension2D and to the number of rows that
// fit in one buffer of MaxBufferSize bytes; the excess rows are never shown.
// A width above MaxTextureDimension2D is divided by the smallest integer
// factor that brings it within the limit and divides it exactly. Zero limits
// are treated as unlimited.
func ResolveGeometry(rows, cols int, kind ElementKind, limits gputypes.Limits) Geometry {
	maxDim := int(limits.MaxTextureDimension2D)

	g := Geometry{Height: rows, InputWidth: cols, Kind: kind}
	g.Width, g.Factor = downscale.ChooseWidth(cols, maxDim)

	if maxDim > 0 && g.Height > maxDim {
		g.Height = maxDim
	}
	if limits.MaxBufferSize > 0 {
		if fit := limits.MaxBufferSize / g.RowPitch(); uint64(g.Height) > fit {
			g.Height = int(fit)
		}
	}
	return g
}
