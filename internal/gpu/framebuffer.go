package gpu

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Frame buffer errors.
var (
	// ErrDestroyed is returned when operating on released frame buffers.
	ErrDestroyed = errors.New("gpu: frame buffers have been destroyed")

	// ErrInvalidGeometry is returned for non-positive matrix dimensions.
	ErrInvalidGeometry = errors.New("gpu: invalid matrix geometry")

	// ErrMapFailed is returned when an upload range cannot be mapped.
	ErrMapFailed = errors.New("gpu: buffer mapping failed")

	// ErrRowRange is returned when a batch does not fit inside the matrix.
	ErrRowRange = errors.New("gpu: row range out of bounds")
)

// RowPitchAlignment is the byte alignment of consecutive rows in a pixel
// buffer. WebGPU requires BytesPerRow of buffer/texture copies to be a
// multiple of 256.
const RowPitchAlignment = 256

// RowPitch returns the aligned byte distance between rows of width samples.
func RowPitch(width, bytesPerSample int) uint64 {
	n := uint64(width) * uint64(bytesPerSample)
	return (n + RowPitchAlignment - 1) &^ (RowPitchAlignment - 1)
}

// FrameBufferConfig describes the matrix held by a FrameBuffers.
type FrameBufferConfig struct {
	Label          string
	Width          int
	Height         int
	Format         gputypes.TextureFormat
	BytesPerSample int
}

// FrameBuffers owns the two upload buffers and the sampled texture of one
// matrix.
//
// At any time one buffer has the upload role (rows are written into it by
// the CPU) and the other the copy role (its contents are copied into the
// texture). Swap exchanges the roles once per frame, so the texture always
// reflects the upload that completed during the previous frame.
//
// FrameBuffers is not safe for concurrent use; it belongs to the frame
// goroutine.
type FrameBuffers struct {
	device hal.Device
	queue  hal.Queue
	cfg    FrameBufferConfig

	pitch   uint64
	payload uint64

	buffers  [2]hal.Buffer
	lastUse  [2]uint64
	inflight [2]hal.CommandBuffer

	texture      hal.Texture
	view         hal.TextureView
	textureUsage gputypes.TextureUsage

	copyIndex   int
	uploadIndex int

	destroyed bool
}

// NewFrameBuffers allocates both upload buffers and the texture.
func NewFrameBuffers(device hal.Device, queue hal.Queue, cfg FrameBufferConfig) (*FrameBuffers, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.BytesPerSample <= 0 {
		return nil, fmt.Errorf("%w: %dx%d, %d bytes per sample",
			ErrInvalidGeometry, cfg.Width, cfg.Height, cfg.BytesPerSample)
	}
	if cfg.Label == "" {
		cfg.Label = "matrix"
	}

	f := &FrameBuffers{
		device:      device,
		queue:       queue,
		cfg:         cfg,
		pitch:       RowPitch(cfg.Width, cfg.BytesPerSample),
		payload:     uint64(cfg.Width) * uint64(cfg.BytesPerSample),
		copyIndex:   0,
		uploadIndex: 1,
	}
	size := f.pitch * uint64(cfg.Height)

	for i := range f.buffers {
		buf, err := device.CreateBuffer(&hal.BufferDescriptor{
			Label: fmt.Sprintf("%s_upload_%d", cfg.Label, i),
			Size:  size,
			Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
		})
		if err != nil {
			f.Destroy()
			return nil, fmt.Errorf("create upload buffer %d: %w", i, err)
		}
		f.buffers[i] = buf
	}

	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label: cfg.Label + "_texture",
		Size: hal.Extent3D{
			Width:              uint32(cfg.Width),
			Height:             uint32(cfg.Height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        cfg.Format,
		Usage: gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc |
			gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		f.Destroy()
		return nil, fmt.Errorf("create matrix texture: %w", err)
	}
	f.texture = tex

	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         cfg.Label + "_view",
		Format:        cfg.Format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		f.Destroy()
		return nil, fmt.Errorf("create matrix texture view: %w", err)
	}
	f.view = view

	slogger().Debug("frame buffers created",
		"label", cfg.Label,
		"width", cfg.Width,
		"height", cfg.Height,
		"format", cfg.Format,
		"pitch", f.pitch,
		"buffer_bytes", size,
	)
	return f, nil
}

// UploadIndex returns the slot currently in the upload role.
func (f *FrameBuffers) UploadIndex() int { return f.uploadIndex }

// Buffer returns the upload buffer in slot i.
func (f *FrameBuffers) Buffer(i int) hal.Buffer { return f.buffers[i] }

// Texture returns the sampled matrix texture.
func (f *FrameBuffers) Texture() hal.Texture { return f.texture }

// TextureView returns a view of the matrix texture for binding.
func (f *FrameBuffers) TextureView() hal.TextureView { return f.view }

// Swap exchanges the upload and copy roles.
func (f *FrameBuffers) Swap() {
	f.copyIndex, f.uploadIndex = f.uploadIndex, f.copyIndex
}

// UploadReady reports whether the upload-role buffer is no longer read by
// a submitted copy. Completed command buffers are released as a side effect.
func (f *FrameBuffers) UploadReady() bool {
	f.reclaim()
	return f.inflight[f.uploadIndex] == nil
}

func (f *FrameBuffers) reclaim() {
	done := f.queue.PollCompleted()
	for i, cmd := range f.inflight {
		if cmd != nil && done >= f.lastUse[i] {
			f.device.FreeCommandBuffer(cmd)
			f.inflight[i] = nil
		}
	}
}

// SyncTexture copies the whole copy-role buffer into the texture.
func (f *FrameBuffers) SyncTexture() error {
	if f.destroyed {
		return ErrDestroyed
	}
	f.reclaim()

	src := f.copyIndex
	if f.inflight[src] != nil {
		// The previous copy out of this buffer is still running and the
		// buffer has not been written since; nothing new to copy.
		return nil
	}

	encoder, err := f.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: f.cfg.Label + "_sync_encoder",
	})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(f.cfg.Label + "_sync"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	f.transition(encoder, gputypes.TextureUsageCopyDst)
	encoder.CopyBufferToTexture(f.buffers[src], f.texture, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(f.pitch),
			RowsPerImage: uint32(f.cfg.Height),
		},
		TextureBase: hal.ImageCopyTexture{
			Texture: f.texture,
			Aspect:  gputypes.TextureAspectAll,
		},
		Size: f.extent(),
	}})
	f.transition(encoder, gputypes.TextureUsageTextureBinding)

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	idx, err := f.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		f.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("submit texture sync: %w", err)
	}
	f.lastUse[src] = idx
	f.inflight[src] = cmd
	return nil
}

// WriteRows copies rows into the upload buffer in slot buf, starting at
// matrix row start. The byte range covering the rows is mapped write-only,
// filled and unmapped.
//
// Every row must hold at least Width*BytesPerSample bytes of float32
// values; shorter rows panic.
func (f *FrameBuffers) WriteRows(buf, start int, rows [][]float32) error {
	if f.destroyed {
		return ErrDestroyed
	}
	if len(rows) == 0 {
		return nil
	}
	if start < 0 || start+len(rows) > f.cfg.Height {
		return fmt.Errorf("%w: rows [%d, %d) of %d", ErrRowRange, start, start+len(rows), f.cfg.Height)
	}

	offset := uint64(start) * f.pitch
	size := uint64(len(rows)) * f.pitch
	mapping, err := f.device.MapBuffer(f.buffers[buf], offset, size)
	if err != nil {
		return fmt.Errorf("%w: offset %d size %d: %w", ErrMapFailed, offset, size, err)
	}
	if mapping.Ptr == nil {
		return fmt.Errorf("%w: nil mapping", ErrMapFailed)
	}

	dst := unsafe.Slice((*byte)(mapping.Ptr), size)
	for i, row := range rows {
		if uint64(len(row))*4 < f.payload {
			_ = f.device.UnmapBuffer(f.buffers[buf])
			panic(fmt.Sprintf("gpu: row %d has %d values, need %d bytes", start+i, len(row), f.payload))
		}
		src := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(row))), f.payload)
		copy(dst[uint64(i)*f.pitch:], src)
	}

	if err := f.device.UnmapBuffer(f.buffers[buf]); err != nil {
		return fmt.Errorf("unmap upload buffer: %w", err)
	}
	return nil
}

// ReadTexture copies the texture back to host memory and returns it as
// tightly packed rows of Width*BytesPerSample bytes. It waits for the
// device to go idle and is meant for diagnostics and export, not for the
// per-frame path.
func (f *FrameBuffers) ReadTexture() ([]byte, error) {
	if f.destroyed {
		return nil, ErrDestroyed
	}
	size := f.pitch * uint64(f.cfg.Height)
	staging, err := f.device.CreateBuffer(&hal.BufferDescriptor{
		Label: f.cfg.Label + "_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create readback buffer: %w", err)
	}
	defer f.device.DestroyBuffer(staging)

	encoder, err := f.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: f.cfg.Label + "_readback_encoder",
	})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(f.cfg.Label + "_readback"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	f.transition(encoder, gputypes.TextureUsageCopySrc)
	encoder.CopyTextureToBuffer(f.texture, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(f.pitch),
			RowsPerImage: uint32(f.cfg.Height),
		},
		TextureBase: hal.ImageCopyTexture{
			Texture: f.texture,
			Aspect:  gputypes.TextureAspectAll,
		},
		Size: f.extent(),
	}})
	f.transition(encoder, gputypes.TextureUsageTextureBinding)

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	defer f.device.FreeCommandBuffer(cmd)

	if _, err := f.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return nil, fmt.Errorf("submit readback: %w", err)
	}
	if err := f.device.WaitIdle(); err != nil {
		return nil, fmt.Errorf("wait for GPU: %w", err)
	}

	mapping, err := f.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("%w: readback: %w", ErrMapFailed, err)
	}
	src := unsafe.Slice((*byte)(mapping.Ptr), size)
	out := make([]byte, f.payload*uint64(f.cfg.Height))
	for row := range uint64(f.cfg.Height) {
		copy(out[row*f.payload:(row+1)*f.payload], src[row*f.pitch:])
	}
	if err := f.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("unmap readback buffer: %w", err)
	}
	return out, nil
}

// Destroy releases both buffers and the texture. It waits for in-flight
// copies first. Safe to call more than once.
func (f *FrameBuffers) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true

	if err := f.device.WaitIdle(); err != nil {
		slogger().Warn("frame buffers: wait idle failed", "label", f.cfg.Label, "err", err)
	}
	for i, cmd := range f.inflight {
		if cmd != nil {
			f.device.FreeCommandBuffer(cmd)
			f.inflight[i] = nil
		}
	}
	if f.view != nil {
		f.device.DestroyTextureView(f.view)
		f.view = nil
	}
	if f.texture != nil {
		f.device.DestroyTexture(f.texture)
		f.texture = nil
	}
	for i, buf := range f.buffers {
		if buf != nil {
			f.device.DestroyBuffer(buf)
			f.buffers[i] = nil
		}
	}
}

func (f *FrameBuffers) extent() hal.Extent3D {
	return hal.Extent3D{
		Width:              uint32(f.cfg.Width),
		Height:             uint32(f.cfg.Height),
		DepthOrArrayLayers: 1,
	}
}

func (f *FrameBuffers) transition(encoder hal.CommandEncoder, to gputypes.TextureUsage) {
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: f.texture,
		Range: hal.TextureRange{
			Aspect:          gputypes.TextureAspectAll,
			MipLevelCount:   1,
			ArrayLayerCount: 1,
		},
		Usage: hal.TextureUsageTransition{
			OldUsage: f.textureUsage,
			NewUsage: to,
		},
	}})
	f.textureUsage = to
}
