// Package downscale reduces oversized matrix rows to a device-supported
// width by max-magnitude pooling.
//
// Rows are flat float32 slices. Real rows hold one value per sample; complex
// rows interleave (re, im) pairs and are pooled pair-wise, so a complex
// sample is never split across windows.
package downscale

import (
	"errors"
	"fmt"
)

// ErrNotDivisible is returned when an input width is not an exact multiple
// of the requested output width.
var ErrNotDivisible = errors.New("downscale: input width is not a multiple of target width")

// Factor returns the integer pooling factor mapping inputLen samples onto
// targetLen samples. The ratio must be exact.
func Factor(inputLen, targetLen int) (int, error) {
	if inputLen <= 0 || targetLen <= 0 {
		return 0, fmt.Errorf("downscale: invalid lengths %d -> %d", inputLen, targetLen)
	}
	if inputLen%targetLen != 0 {
		return 0, fmt.Errorf("%w: %d -> %d", ErrNotDivisible, inputLen, targetLen)
	}
	return inputLen / targetLen, nil
}

// ChooseWidth picks the smallest factor that brings inputWidth within
// maxDim while dividing it exactly. It returns the reduced width and the
// factor. Widths already within the limit are returned with factor 1.
//
// A prime inputWidth larger than maxDim degrades to factor == inputWidth
// (width 1); callers that care should pick friendlier column counts.
func ChooseWidth(inputWidth, maxDim int) (width, factor int) {
	if inputWidth <= maxDim || maxDim <= 0 {
		return inputWidth, 1
	}
	f := (inputWidth + maxDim - 1) / maxDim
	for inputWidth%f != 0 {
		f++
	}
	return inputWidth / f, f
}

// Real pools a row of real samples by factor, keeping the value of largest
// absolute magnitude in every window. Ties keep the earliest value.
//
// A factor of 1 returns row itself. Panics if len(row) is not a multiple of
// factor.
func Real(row []float32, factor int) []float32 {
	if factor == 1 {
		return row
	}
	checkLen(len(row), factor, 1)

	out := make([]float32, len(row)/factor)
	for i := range out {
		window := row[i*factor : (i+1)*factor]
		best := window[0]
		bestMag := abs32(best)
		for _, v := range window[1:] {
			if m := abs32(v); m > bestMag {
				best, bestMag = v, m
			}
		}
		out[i] = best
	}
	return out
}

// Complex pools a row of interleaved (re, im) samples by factor, keeping the
// sample of largest modulus in every window. Ties keep the earliest sample.
//
// A factor of 1 returns row itself. Panics if len(row) is not a multiple of
// 2*factor.
func Complex(row []float32, factor int) []float32 {
	if factor == 1 {
		return row
	}
	checkLen(len(row), factor, 2)

	n := len(row) / (2 * factor)
	out := make([]float32, 2*n)
	for i := range n {
		base := i * factor * 2
		bestRe, bestIm := row[base], row[base+1]
		bestMag := bestRe*bestRe + bestIm*bestIm
		for j := 1; j < factor; j++ {
			re, im := row[base+2*j], row[base+2*j+1]
			// Squared modulus orders the same as modulus.
			if m := re*re + im*im; m > bestMag {
				bestRe, bestIm, bestMag = re, im, m
			}
		}
		out[2*i] = bestRe
		out[2*i+1] = bestIm
	}
	return out
}

// Row dispatches to Real or Complex.
func Row(row []float32, factor int, complex bool) []float32 {
	if complex {
		return Complex(row, factor)
	}
	return Real(row, factor)
}

func checkLen(n, factor, valuesPerSample int) {
	if factor < 1 {
		panic(fmt.Sprintf("downscale: invalid factor %d", factor))
	}
	if n%(factor*valuesPerSample) != 0 {
		panic(fmt.Sprintf("downscale: row of %d values is not a multiple of window %d×%d",
			n, factor, valuesPerSample))
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
