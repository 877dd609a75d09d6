package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoSource is returned when rendering before a texture view is bound.
var ErrNoSource = errors.New("gpu: matrix renderer has no source texture")

const paramsSize = 16

// DisplayParams controls how the matrix texture is shown.
type DisplayParams struct {
	// Polar maps rows to the radius and columns to the angle.
	Polar bool
	// Gain scales sample values before clamping to [0, 1].
	Gain float32
}

// RendererConfig describes a MatrixRenderer.
type RendererConfig struct {
	Label        string
	TargetFormat gputypes.TextureFormat
	Complex      bool
}

// MatrixRenderer draws a matrix texture as a fullscreen triangle.
type MatrixRenderer struct {
	device hal.Device
	queue  hal.Queue
	cfg    RendererConfig

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	uniforms   hal.Buffer
	bindGroup  hal.BindGroup

	params DisplayParams
}

// NewMatrixRenderer compiles the display shader and builds the pipeline.
func NewMatrixRenderer(device hal.Device, queue hal.Queue, cfg RendererConfig) (*MatrixRenderer, error) {
	if cfg.Label == "" {
		cfg.Label = "matrix"
	}
	if cfg.TargetFormat == gputypes.TextureFormatUndefined {
		cfg.TargetFormat = gputypes.TextureFormatBGRA8Unorm
	}
	r := &MatrixRenderer{
		device: device,
		queue:  queue,
		cfg:    cfg,
		params: DisplayParams{Gain: 1},
	}
	if err := r.init(); err != nil {
		r.Destroy()
		return nil, err
	}
	slogger().Debug("matrix renderer created", "label", cfg.Label, "target", cfg.TargetFormat)
	return r, nil
}

func (r *MatrixRenderer) init() error {
	shader, err := createShaderModule(r.device, r.cfg.Label+"_shader", matrixShaderSource)
	if err != nil {
		return err
	}
	r.shader = shader

	// Binding 0: display params (uniform, fragment)
	// Binding 1: matrix texture (unfilterable float, fragment)
	layout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: r.cfg.Label + "_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeUnfilterableFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	r.bindLayout = layout

	pipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            r.cfg.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{r.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	r.pipeLayout = pipeLayout

	pipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  r.cfg.Label + "_pipeline",
		Layout: r.pipeLayout,
		Vertex: hal.VertexState{
			Module:     r.shader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     r.shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    r.cfg.TargetFormat,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("create render pipeline: %w", err)
	}
	r.pipeline = pipeline

	uniforms, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: r.cfg.Label + "_params",
		Size:  paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create params buffer: %w", err)
	}
	r.uniforms = uniforms
	return r.writeParams()
}

// SetSource binds the texture view to sample from. Call it again whenever
// the matrix texture is recreated.
func (r *MatrixRenderer) SetSource(view hal.TextureView) error {
	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
		r.bindGroup = nil
	}
	group, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  r.cfg.Label + "_bind_group",
		Layout: r.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.uniforms.NativeHandle(), Size: paramsSize}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: view.NativeHandle()}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	r.bindGroup = group
	return nil
}

// SetParams updates the display parameters.
func (r *MatrixRenderer) SetParams(p DisplayParams) error {
	r.params = p
	return r.writeParams()
}

func (r *MatrixRenderer) writeParams() error {
	var buf [paramsSize]byte
	if r.params.Polar {
		binary.LittleEndian.PutUint32(buf[0:], 1)
	}
	if r.cfg.Complex {
		binary.LittleEndian.PutUint32(buf[4:], 1)
	}
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(r.params.Gain))
	if err := r.queue.WriteBuffer(r.uniforms, 0, buf[:]); err != nil {
		return fmt.Errorf("write display params: %w", err)
	}
	return nil
}

// Record encodes a render pass that clears target and draws the matrix.
func (r *MatrixRenderer) Record(encoder hal.CommandEncoder, target hal.TextureView) error {
	if r.bindGroup == nil {
		return ErrNoSource
	}
	pass := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: r.cfg.Label + "_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       target,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	pass.SetPipeline(r.pipeline)
	pass.SetBindGroup(0, r.bindGroup, nil)
	// A single fullscreen triangle.
	pass.Draw(3, 1, 0, 0)
	pass.End()
	return nil
}

// Render records and submits a draw into target.
func (r *MatrixRenderer) Render(target hal.TextureView) error {
	encoder, err := r.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: r.cfg.Label + "_draw_encoder",
	})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(r.cfg.Label + "_draw"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	if err := r.Record(encoder, target); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer r.device.FreeCommandBuffer(cmd)
	if _, err := r.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return fmt.Errorf("submit draw: %w", err)
	}
	return nil
}

// Destroy releases all GPU objects. Safe to call more than once.
func (r *MatrixRenderer) Destroy() {
	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
		r.bindGroup = nil
	}
	if r.uniforms != nil {
		r.device.DestroyBuffer(r.uniforms)
		r.uniforms = nil
	}
	if r.pipeline != nil {
		r.device.DestroyRenderPipeline(r.pipeline)
		r.pipeline = nil
	}
	if r.pipeLayout != nil {
		r.device.DestroyPipelineLayout(r.pipeLayout)
		r.pipeLayout = nil
	}
	if r.bindLayout != nil {
		r.device.DestroyBindGroupLayout(r.bindLayout)
		r.bindLayout = nil
	}
	if r.shader != nil {
		r.device.DestroyShaderModule(r.shader)
		r.shader = nil
	}
}
