package gpu

import (
	"errors"
	"math"
	"testing"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice creates a noop device and queue for testing.
// Returns the device, queue, and a cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

// failingMapDevice rejects every MapBuffer call.
type failingMapDevice struct {
	hal.Device
	calls int
}

func (d *failingMapDevice) MapBuffer(hal.Buffer, uint64, uint64) (hal.BufferMapping, error) {
	d.calls++
	return hal.BufferMapping{}, hal.ErrInvalidMapRange
}

// laggingQueue reports submissions as complete only up to completed.
type laggingQueue struct {
	hal.Queue
	completed uint64
}

func (q *laggingQueue) PollCompleted() uint64 { return q.completed }

func newTestBuffers(t *testing.T, device hal.Device, queue hal.Queue, width, height int) *FrameBuffers {
	t.Helper()
	fb, err := NewFrameBuffers(device, queue, FrameBufferConfig{
		Label:          "test",
		Width:          width,
		Height:         height,
		Format:         gputypes.TextureFormatR32Float,
		BytesPerSample: 4,
	})
	if err != nil {
		t.Fatalf("NewFrameBuffers failed: %v", err)
	}
	return fb
}

// readRow returns the float32 payload of one matrix row in buffer slot buf.
func readRow(t *testing.T, device hal.Device, fb *FrameBuffers, buf, row int) []float32 {
	t.Helper()
	cfg := fb.cfg
	values := cfg.Width * cfg.BytesPerSample / 4
	mapping, err := device.MapBuffer(fb.Buffer(buf), uint64(row)*fb.pitch, uint64(values)*4)
	if err != nil {
		t.Fatalf("MapBuffer(row %d) failed: %v", row, err)
	}
	defer func() { _ = device.UnmapBuffer(fb.Buffer(buf)) }()
	out := make([]float32, values)
	copy(out, unsafe.Slice((*float32)(mapping.Ptr), values))
	return out
}

func TestRowPitch(t *testing.T) {
	tests := []struct {
		width, bps int
		want       uint64
	}{
		{1, 4, 256},
		{2, 4, 256},
		{64, 4, 256},
		{65, 4, 512},
		{32, 8, 256},
		{100, 8, 1024},
	}
	for _, tt := range tests {
		if got := RowPitch(tt.width, tt.bps); got != tt.want {
			t.Errorf("RowPitch(%d, %d) = %d, want %d", tt.width, tt.bps, got, tt.want)
		}
	}
}

func TestNewFrameBuffersInvalid(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	_, err := NewFrameBuffers(device, queue, FrameBufferConfig{Width: 0, Height: 4, BytesPerSample: 4})
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("NewFrameBuffers(width=0) error = %v, want %v", err, ErrInvalidGeometry)
	}
}

func TestFrameBuffersRoles(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	fb := newTestBuffers(t, device, queue, 2, 4)
	defer fb.Destroy()
	if fb.copyIndex != 0 || fb.UploadIndex() != 1 {
		t.Fatalf("initial roles = copy %d upload %d, want copy 0 upload 1", fb.copyIndex, fb.UploadIndex())
	}
	for i := range 5 {
		fb.Swap()
		if fb.copyIndex == fb.UploadIndex() {
			t.Fatalf("frame %d: copy and upload share slot %d", i, fb.copyIndex)
		}
	}
	if fb.copyIndex != 1 || fb.UploadIndex() != 0 {
		t.Errorf("after 5 swaps roles = copy %d upload %d, want copy 1 upload 0", fb.copyIndex, fb.UploadIndex())
	}
	if fb.Texture() == nil || fb.TextureView() == nil {
		t.Error("texture and view should be allocated")
	}
}

func TestWriteRows(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	fb := newTestBuffers(t, device, queue, 2, 4)
	defer fb.Destroy()
	if err := fb.WriteRows(1, 1, [][]float32{{3, 4}, {5, 6}}); err != nil {
		t.Fatalf("WriteRows failed: %v", err)
	}

	want := map[int][]float32{0: {0, 0}, 1: {3, 4}, 2: {5, 6}, 3: {0, 0}}
	for row, w := range want {
		got := readRow(t, device, fb, 1, row)
		if got[0] != w[0] || got[1] != w[1] {
			t.Errorf("buffer 1 row %d = %v, want %v", row, got, w)
		}
	}
	// The other slot is untouched.
	if got := readRow(t, device, fb, 0, 1); got[0] != 0 || got[1] != 0 {
		t.Errorf("buffer 0 row 1 = %v, want zeros", got)
	}
}

func TestWriteRowsLongerRowTruncated(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	fb := newTestBuffers(t, device, queue, 2, 2)
	defer fb.Destroy()
	if err := fb.WriteRows(0, 0, [][]float32{{1, 2, 99, 99}, {3, 4}}); err != nil {
		t.Fatalf("WriteRows failed: %v", err)
	}
	if got := readRow(t, device, fb, 0, 1); got[0] != 3 || got[1] != 4 {
		t.Errorf("row 1 = %v, want [3 4]", got)
	}
}

func TestWriteRowsOutOfRange(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	fb := newTestBuffers(t, device, queue, 2, 4)
	defer fb.Destroy()
	err := fb.WriteRows(0, 3, [][]float32{{1, 2}, {3, 4}})
	if !errors.Is(err, ErrRowRange) {
		t.Errorf("WriteRows past end error = %v, want %v", err, ErrRowRange)
	}
	if err := fb.WriteRows(0, 0, nil); err != nil {
		t.Errorf("WriteRows(nil) = %v, want nil", err)
	}
}

func TestWriteRowsShortRowPanics(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	fb := newTestBuffers(t, device, queue, 4, 2)
	defer fb.Destroy()
	defer func() {
		if recover() == nil {
			t.Error("WriteRows with a short row should panic")
		}
	}()
	_ = fb.WriteRows(0, 0, [][]float32{{1, 2}})
}

func TestWriteRowsMapFailure(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	failing := &failingMapDevice{Device: device}
	fb := newTestBuffers(t, failing, queue, 2, 4)
	defer fb.Destroy()
	err := fb.WriteRows(0, 0, [][]float32{{1, 2}})
	if !errors.Is(err, ErrMapFailed) {
		t.Errorf("WriteRows error = %v, want %v", err, ErrMapFailed)
	}
	if !errors.Is(err, hal.ErrInvalidMapRange) {
		t.Errorf("WriteRows error = %v, should wrap %v", err, hal.ErrInvalidMapRange)
	}
	if failing.calls != 1 {
		t.Errorf("MapBuffer calls = %d, want 1", failing.calls)
	}
}

func TestComplexLayout(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	fb, err := NewFrameBuffers(device, queue, FrameBufferConfig{
		Width:          3,
		Height:         2,
		Format:         gputypes.TextureFormatRG32Float,
		BytesPerSample: 8,
	})
	if err != nil {
		t.Fatalf("NewFrameBuffers failed: %v", err)
	}
	defer fb.Destroy()

	row := []float32{1, -1, 2, -2, float32(math.Pi), 0}
	if err := fb.WriteRows(0, 1, [][]float32{row}); err != nil {
		t.Fatalf("WriteRows failed: %v", err)
	}
	got := readRow(t, device, fb, 0, 1)
	for i := range row {
		if got[i] != row[i] {
			t.Fatalf("complex row = %v, want %v", got, row)
		}
	}
}

func TestSyncTextureAndUploadReady(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	lag := &laggingQueue{Queue: queue}
	fb := newTestBuffers(t, device, lag, 2, 4)
	defer fb.Destroy()

	fb.Swap() // copy 1, upload 0
	if err := fb.SyncTexture(); err != nil {
		t.Fatalf("SyncTexture failed: %v", err)
	}
	if !fb.UploadReady() {
		t.Error("slot 0 was never submitted; it should be ready")
	}

	fb.Swap() // copy 0, upload 1: slot 1 was just copied and is still in flight
	if fb.UploadReady() {
		t.Error("UploadReady() = true while the copy from slot 1 is in flight")
	}

	lag.completed = lag.Queue.PollCompleted()
	if !fb.UploadReady() {
		t.Error("UploadReady() = false after the copy completed")
	}
}

func TestSyncTextureSkipsInflightSource(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	lag := &laggingQueue{Queue: queue}
	fb := newTestBuffers(t, device, lag, 2, 4)
	defer fb.Destroy()

	if err := fb.SyncTexture(); err != nil {
		t.Fatalf("SyncTexture failed: %v", err)
	}
	before := lag.Queue.PollCompleted()
	if err := fb.SyncTexture(); err != nil {
		t.Fatalf("second SyncTexture failed: %v", err)
	}
	if after := lag.Queue.PollCompleted(); after != before {
		t.Errorf("second SyncTexture submitted again (%d -> %d) while the first was in flight", before, after)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	fb, err := NewFrameBuffers(device, queue, FrameBufferConfig{
		Width: 2, Height: 2, Format: gputypes.TextureFormatR32Float, BytesPerSample: 4,
	})
	if err != nil {
		t.Fatalf("NewFrameBuffers failed: %v", err)
	}
	fb.Destroy()
	fb.Destroy()

	if err := fb.SyncTexture(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("SyncTexture after Destroy = %v, want %v", err, ErrDestroyed)
	}
	if err := fb.WriteRows(0, 0, [][]float32{{1, 2}}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("WriteRows after Destroy = %v, want %v", err, ErrDestroyed)
	}
	if _, err := fb.ReadTexture(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("ReadTexture after Destroy = %v, want %v", err, ErrDestroyed)
	}
}

func TestReadTextureShape(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	fb := newTestBuffers(t, device, queue, 3, 5)
	defer fb.Destroy()
	data, err := fb.ReadTexture()
	if err != nil {
		t.Fatalf("ReadTexture failed: %v", err)
	}
	if len(data) != 3*5*4 {
		t.Errorf("len(ReadTexture()) = %d, want %d", len(data), 3*5*4)
	}
}
