package gpu

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func TestCompileMatrixShader(t *testing.T) {
	words, err := compileWGSL(matrixShaderSource)
	if err != nil {
		t.Fatalf("compileWGSL failed: %v", err)
	}
	if len(words) < 5 {
		t.Fatalf("SPIR-V has %d words, want a header at least", len(words))
	}
	const spirvMagic = 0x07230203
	if words[0] != spirvMagic {
		t.Errorf("SPIR-V magic = %#x, want %#x", words[0], spirvMagic)
	}
}

func TestCompileInvalidShader(t *testing.T) {
	if _, err := compileWGSL("fn broken( {"); err == nil {
		t.Error("compileWGSL should reject invalid WGSL")
	}
}

// countingEncoderDevice records the number of draw passes.
type countingEncoderDevice struct {
	hal.Device
	encoders int
}

func (d *countingEncoderDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	d.encoders++
	return d.Device.CreateCommandEncoder(desc)
}

func TestMatrixRenderer(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	counting := &countingEncoderDevice{Device: device}
	fb := newTestBuffers(t, counting, queue, 4, 4)
	defer fb.Destroy()

	r, err := NewMatrixRenderer(counting, queue, RendererConfig{TargetFormat: gputypes.TextureFormatBGRA8Unorm})
	if err != nil {
		t.Fatalf("NewMatrixRenderer failed: %v", err)
	}
	defer r.Destroy()

	if err := r.Render(fb.TextureView()); !errors.Is(err, ErrNoSource) {
		t.Errorf("Render without source = %v, want %v", err, ErrNoSource)
	}

	if err := r.SetSource(fb.TextureView()); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	before := counting.encoders
	if err := r.Render(fb.TextureView()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if counting.encoders != before+1 {
		t.Errorf("Render created %d encoders, want 1", counting.encoders-before)
	}

	// Rebinding replaces the previous bind group.
	if err := r.SetSource(fb.TextureView()); err != nil {
		t.Fatalf("second SetSource failed: %v", err)
	}
}

func TestMatrixRendererParams(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	r, err := NewMatrixRenderer(device, queue, RendererConfig{Complex: true})
	if err != nil {
		t.Fatalf("NewMatrixRenderer failed: %v", err)
	}
	defer r.Destroy()

	if got := r.params; got.Gain != 1 || got.Polar {
		t.Errorf("default params = %+v, want gain 1, cartesian", got)
	}
	want := DisplayParams{Polar: true, Gain: 0.5}
	if err := r.SetParams(want); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	if got := r.params; got != want {
		t.Errorf("params = %+v, want %+v", got, want)
	}
	r.Destroy()
	r.Destroy()
}
