package waterfall

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/waterfall/internal/downscale"
	"github.com/gogpu/waterfall/internal/gpu"
	"github.com/gogpu/waterfall/internal/rowqueue"
	"github.com/gogpu/waterfall/internal/upload"
)

// pipeline is the producer-visible state. It is replaced as a whole when
// the geometry changes so the producer never pairs a geometry with queues
// sized or shaped for another.
type pipeline struct {
	geom  Geometry
	pairs *rowqueue.Pair
}

// Matrix streams rows of samples into a GPU texture.
//
// Exactly one producer goroutine calls Insert and Append. Exactly one render
// goroutine calls Init/OnContextReady, Frame/OnFrame, Snapshot,
// OnContextLost and Close. Stats, Geometry and SetDisplay are safe from any
// goroutine.
//
// Rows become visible with one frame of latency: a frame copies the buffer
// filled during the previous frame into the texture, then fills the other
// buffer from the queue.
type Matrix struct {
	rows, cols int
	kind       ElementKind
	opts       options

	state    atomic.Pointer[pipeline]
	cursor   int
	rejected atomic.Uint64

	// drained is set once a frame has consumed from the current queue
	// pair; from then on its halves may hold different rows.
	drained bool

	// Render goroutine state.
	device   hal.Device
	queue    hal.Queue
	buffers  *gpu.FrameBuffers
	renderer *gpu.MatrixRenderer

	display atomic.Pointer[gpu.DisplayParams]
	applied *gpu.DisplayParams

	copyTime    ema
	uploadTime  ema
	windowStart time.Time
	windowCount int

	mu    sync.Mutex
	stats Stats
}

// New creates a matrix of rows x cols samples of the given kind. GPU
// resources are allocated later by Init or OnContextReady; rows inserted
// before that are queued.
func New(rows, cols int, kind ElementKind, opts ...Option) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, cols, rows)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKind, kind)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Matrix{rows: rows, cols: cols, kind: kind, opts: o}
	g := ResolveGeometry(rows, cols, kind, gputypes.Limits{})
	m.state.Store(&pipeline{geom: g, pairs: rowqueue.New(m.queueCapacity(g))})
	m.display.Store(&gpu.DisplayParams{Gain: 1})
	return m, nil
}

func (m *Matrix) queueCapacity(g Geometry) int {
	if m.opts.queueCapacity > 0 {
		return m.opts.queueCapacity
	}
	return 2 * g.Height
}

func (m *Matrix) log() *slog.Logger {
	if m.opts.logger != nil {
		return m.opts.logger
	}
	return Logger()
}

// Kind returns the sample type.
func (m *Matrix) Kind() ElementKind { return m.kind }

// Geometry returns the current matrix geometry. Before the first Init it
// reflects the requested size.
func (m *Matrix) Geometry() Geometry { return m.state.Load().geom }

// Insert queues values as the new content of row. It returns false without
// queueing when row is outside [0, Height) or the queues are full.
//
// values must hold Geometry().RowValues() float32 values (complex samples
// interleave re, im); any other length panics. Rows wider than the texture
// are pooled down here, on the producer goroutine. values must not be
// modified after Insert returns true.
//
// Insert also returns false when Init replaced the queues while the row
// was being queued; the row was not kept and may be inserted again.
func (m *Matrix) Insert(row int, values []float32) bool {
	st := m.state.Load()
	if row < 0 || row >= st.geom.Height {
		return false
	}
	if want := st.geom.RowValues(); len(values) != want {
		panic(fmt.Sprintf("waterfall: row has %d values, want %d", len(values), want))
	}
	scaled := downscale.Row(values, st.geom.Factor, m.kind == Complex)
	if !st.pairs.Push(rowqueue.Entry{Row: row, Values: scaled}) {
		m.rejected.Add(1)
		return false
	}
	return m.state.Load() == st
}

// Append inserts values at the append cursor and advances the cursor,
// wrapping at the matrix height. It reports whether the row was queued;
// the cursor advances either way.
func (m *Matrix) Append(values []float32) bool {
	height := m.state.Load().geom.Height
	if m.cursor >= height {
		m.cursor = 0
	}
	ok := m.Insert(m.cursor, values)
	m.cursor = (m.cursor + 1) % height
	return ok
}

// SetDisplay sets the display parameters used by the built-in display
// shader from the next frame on.
func (m *Matrix) SetDisplay(polar bool, gain float32) {
	m.display.Store(&gpu.DisplayParams{Polar: polar, Gain: gain})
}

// OnContextReady implements Lifecycle. The provider must expose its HAL
// device and queue through HalDevice() and HalQueue().
func (m *Matrix) OnContextReady(provider gpucontext.DeviceProvider) error {
	device, queue, limits, err := halFromProvider(provider)
	if err != nil {
		return err
	}
	info := provider.AdapterInfo()
	m.log().Info("waterfall: context ready", "label", m.opts.label, "adapter", info.Name)
	return m.Init(device, queue, limits)
}

// OnFrame implements Lifecycle.
func (m *Matrix) OnFrame() error { return m.Frame() }

// OnContextLost implements Lifecycle. GPU resources are released. Queued
// rows survive only if no frame has run since they were queued; see Init.
func (m *Matrix) OnContextLost() {
	m.log().Info("waterfall: context lost", "label", m.opts.label)
	m.release()
}

// Close releases GPU resources. Safe to call more than once.
func (m *Matrix) Close() { m.release() }

// Init allocates GPU resources on device. The geometry is fitted to limits.
//
// Both upload buffers start out zeroed, so the queues are replaced and
// their rows discarded when the geometry changed (rows were pooled for the
// old width) or when a frame has already drained one half (the halves no
// longer match the fresh buffers). Rows queued before the first Init are
// kept.
func (m *Matrix) Init(device hal.Device, queue hal.Queue, limits gputypes.Limits) error {
	m.release()

	g := ResolveGeometry(m.rows, m.cols, m.kind, limits)
	if g.Height < 1 || g.Width < 1 {
		return fmt.Errorf("%w: %dx%d %s", ErrDeviceTooSmall, m.cols, m.rows, m.kind)
	}
	if old := m.state.Load(); old.geom != g || m.drained {
		m.state.Store(&pipeline{geom: g, pairs: rowqueue.New(m.queueCapacity(g))})
		m.drained = false
		discarded := max(old.pairs.Half(0).Discard(), old.pairs.Half(1).Discard())
		m.addDiscarded(discarded)
		if discarded > 0 {
			m.log().Warn("waterfall: queues reset, discarding queued rows",
				"label", m.opts.label, "from", old.geom, "to", g, "rows", discarded)
		}
	}
	if g.Height < m.rows {
		m.log().Warn("waterfall: height clamped to device limit",
			"label", m.opts.label, "requested", m.rows, "height", g.Height)
	}
	if g.Factor > 1 {
		m.log().Info("waterfall: downscaling rows to device limit",
			"label", m.opts.label, "input_width", g.InputWidth, "width", g.Width, "factor", g.Factor)
	}

	buffers, err := gpu.NewFrameBuffers(device, queue, gpu.FrameBufferConfig{
		Label:          m.opts.label,
		Width:          g.Width,
		Height:         g.Height,
		Format:         m.kind.TextureFormat(),
		BytesPerSample: m.kind.BytesPerSample(),
	})
	if err != nil {
		return fmt.Errorf("waterfall: init frame buffers: %w", err)
	}

	var renderer *gpu.MatrixRenderer
	if m.opts.display != nil {
		renderer, err = gpu.NewMatrixRenderer(device, queue, gpu.RendererConfig{
			Label:        m.opts.label,
			TargetFormat: m.opts.display.Format(),
			Complex:      m.kind == Complex,
		})
		if err == nil {
			err = renderer.SetSource(buffers.TextureView())
		}
		if err != nil {
			if renderer != nil {
				renderer.Destroy()
			}
			buffers.Destroy()
			return fmt.Errorf("waterfall: init display: %w", err)
		}
	}

	m.device, m.queue = device, queue
	m.buffers, m.renderer = buffers, renderer
	m.applied = nil
	m.windowStart, m.windowCount = time.Now(), 0

	m.log().Info("waterfall: matrix ready", "label", m.opts.label, "geometry", g)
	return nil
}

func (m *Matrix) release() {
	if m.renderer != nil {
		m.renderer.Destroy()
		m.renderer = nil
	}
	if m.buffers != nil {
		m.buffers.Destroy()
		m.buffers = nil
	}
	m.device, m.queue = nil, nil
}

// Frame runs one frame: swap buffer roles, copy the buffer filled last
// frame into the texture, drain the queue half belonging to the new upload
// buffer, and draw if a display target is configured.
//
// Mapping failures drop the affected rows and are only logged. Errors from
// the texture sync or the draw are returned after the frame completes.
func (m *Matrix) Frame() error {
	fb := m.buffers
	if fb == nil {
		return ErrNotReady
	}
	st := m.state.Load()

	fb.Swap()

	start := time.Now()
	syncErr := fb.SyncTexture()
	m.copyTime.add(float64(time.Since(start)))
	if syncErr != nil {
		m.log().Warn("waterfall: texture sync failed", "label", m.opts.label, "err", syncErr)
	}

	start = time.Now()
	var res upload.Result
	skipped := !fb.UploadReady()
	if !skipped {
		buf := fb.UploadIndex()
		res = upload.Drain(st.pairs.Half(buf), st.geom.Height, func(b upload.Batch) error {
			return fb.WriteRows(buf, b.Start, b.Rows)
		})
		m.drained = true
		if res.Failed > 0 {
			m.log().Warn("waterfall: dropped upload batches",
				"label", m.opts.label, "failed", res.Failed, "err", res.Err)
		}
	}
	m.uploadTime.add(float64(time.Since(start)))

	drawErr := m.draw()

	m.record(res, skipped, st)
	if syncErr != nil {
		return fmt.Errorf("waterfall: texture sync: %w", syncErr)
	}
	return drawErr
}

func (m *Matrix) draw() error {
	if m.renderer == nil {
		return nil
	}
	if p := m.display.Load(); p != m.applied {
		if err := m.renderer.SetParams(*p); err != nil {
			return fmt.Errorf("waterfall: display params: %w", err)
		}
		m.applied = p
	}
	view := m.opts.display.View()
	if view == nil {
		return nil
	}
	if err := m.renderer.Render(view); err != nil {
		return fmt.Errorf("waterfall: draw: %w", err)
	}
	return nil
}

func (m *Matrix) record(res upload.Result, skipped bool, st *pipeline) {
	m.windowCount++

	m.mu.Lock()
	s := &m.stats
	s.Frames++
	s.CopyTime = m.copyTime.duration()
	s.UploadTime = m.uploadTime.duration()
	s.Batches += uint64(res.Batches)
	s.Rows += uint64(res.Rows)
	s.Superseded += uint64(res.Superseded)
	s.FailedBatches += uint64(res.Failed)
	s.Discarded += uint64(res.Dropped)
	if skipped {
		s.SkippedUploads++
	}
	frames := s.Frames
	m.mu.Unlock()

	m.log().Debug("waterfall: frame",
		"label", m.opts.label,
		"batches", res.Batches,
		"rows", res.Rows,
		"skipped", skipped,
		"pending", st.pairs.Half(0).Len(),
	)

	interval := m.opts.statsInterval
	if interval <= 0 || frames%uint64(interval) != 0 {
		return
	}
	elapsed := time.Since(m.windowStart)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(m.windowCount) / elapsed.Seconds()
	}
	m.windowStart, m.windowCount = time.Now(), 0

	m.mu.Lock()
	m.stats.FPS = fps
	m.mu.Unlock()

	m.log().Info("waterfall: frame stats",
		"label", m.opts.label,
		"copy_time", m.copyTime.duration(),
		"upload_time", m.uploadTime.duration(),
		"fps", fps,
	)
}

func (m *Matrix) addDiscarded(n int) {
	m.mu.Lock()
	m.stats.Discarded += uint64(n)
	m.mu.Unlock()
}

// Stats returns a snapshot of the pipeline counters.
func (m *Matrix) Stats() Stats {
	m.mu.Lock()
	s := m.stats
	m.mu.Unlock()
	s.Rejected = m.rejected.Load()
	s.Pending = m.state.Load().pairs.Half(0).Len()
	return s
}

// TextureView returns the view of the matrix texture for hosts that sample
// it with their own pipeline, or nil before Init.
func (m *Matrix) TextureView() hal.TextureView {
	if m.buffers == nil {
		return nil
	}
	return m.buffers.TextureView()
}

// Texture returns the matrix texture, or nil before Init.
func (m *Matrix) Texture() hal.Texture {
	if m.buffers == nil {
		return nil
	}
	return m.buffers.Texture()
}

// Snapshot reads the texture back and returns its rows. Each row holds
// Width*ValuesPerSample values. It stalls until the GPU is idle and is
// intended for diagnostics and export.
func (m *Matrix) Snapshot() ([][]float32, error) {
	if m.buffers == nil {
		return nil, ErrNotReady
	}
	data, err := m.buffers.ReadTexture()
	if err != nil {
		return nil, fmt.Errorf("waterfall: snapshot: %w", err)
	}
	g := m.Geometry()
	n := g.Width * g.Kind.ValuesPerSample()
	rows := make([][]float32, g.Height)
	for r := range rows {
		row := make([]float32, n)
		base := r * n * 4
		for i := range row {
			row[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[base+i*4:]))
		}
		rows[r] = row
	}
	return rows, nil
}
