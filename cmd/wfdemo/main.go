// Command wfdemo streams a synthetic spectrogram through a waterfall matrix
// on a headless GPU device and saves the resulting texture as a PNG.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/gogpu/waterfall"
	"github.com/gogpu/waterfall/integration/gpuhost"
)

func main() {
	var (
		rows     = flag.Int("rows", 256, "matrix rows")
		cols     = flag.Int("cols", 1024, "input samples per row")
		complexF = flag.Bool("complex", false, "stream complex samples")
		frames   = flag.Int("frames", 600, "frames to run")
		fps      = flag.Int("fps", 60, "frame rate, 0 for unthrottled")
		maxDim   = flag.Int("maxdim", 256, "override the device texture limit, 0 keeps the adapter's")
		backend  = flag.String("backend", "software", "HAL backend: software or noop")
		output   = flag.String("output", "waterfall.png", "output file")
		outW     = flag.Int("out-width", 512, "output image width")
		outH     = flag.Int("out-height", 512, "output image height")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	waterfall.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	b, err := gpuhost.ParseBackend(*backend)
	if err != nil {
		log.Fatal(err)
	}
	if err := checkBackend(b, *complexF); err != nil {
		log.Fatal(err)
	}
	var hostOpts []gpuhost.HeadlessOption
	if *maxDim > 0 {
		limits := gputypes.DefaultLimits()
		limits.MaxTextureDimension2D = uint32(*maxDim)
		hostOpts = append(hostOpts, gpuhost.WithLimits(limits))
	}
	host, err := gpuhost.NewHeadless(b, hostOpts...)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer host.Close()

	kind := waterfall.Real
	if *complexF {
		kind = waterfall.Complex
	}
	m, err := waterfall.New(*rows, *cols, kind, waterfall.WithLabel("wfdemo"), waterfall.WithStatsInterval(120))
	if err != nil {
		log.Fatalf("Failed to create matrix: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	produceCtx, stopProducer := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		produce(produceCtx, m, *cols, kind)
	}()

	var interval time.Duration
	if *fps > 0 {
		interval = time.Second / time.Duration(*fps)
	}
	var snapshot [][]float32
	err = gpuhost.Run(ctx, host, m, gpuhost.RunConfig{
		Frames:   *frames,
		Interval: interval,
		AfterFrame: func(frame int) error {
			if frame != *frames-1 {
				return nil
			}
			var err error
			snapshot, err = m.Snapshot()
			return err
		},
	})
	stopProducer()
	wg.Wait()
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	if snapshot == nil {
		log.Printf("Interrupted, no snapshot taken")
		return
	}

	log.Printf("Stats: %v", m.Stats())
	if err := savePNG(*output, heatmap(snapshot, kind), *outW, *outH); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	log.Printf("Snapshot saved to %s (%v)\n", *output, m.Geometry())
}

// produce appends rows of a drifting tone over noise until ctx is done.
func produce(ctx context.Context, m *waterfall.Matrix, cols int, kind waterfall.ElementKind) {
	row := 0
	for t := 0; ctx.Err() == nil; t++ {
		values := synthRow(t, cols, kind)
		height := m.Geometry().Height
		for !m.Insert(row%height, values) {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Millisecond)
			height = m.Geometry().Height
		}
		row = (row + 1) % height
	}
}

func synthRow(t, cols int, kind waterfall.ElementKind) []float32 {
	center := float64(cols) * (0.5 + 0.4*math.Sin(float64(t)/90))
	values := make([]float32, cols*kind.ValuesPerSample())
	for i := range cols {
		d := (float64(i) - center) / 6
		amp := math.Exp(-d*d) + 0.05*rand.Float64()
		if kind == waterfall.Complex {
			phase := float64(t+i) / 10
			values[2*i] = float32(amp * math.Cos(phase))
			values[2*i+1] = float32(amp * math.Sin(phase))
			continue
		}
		values[i] = float32(amp)
	}
	return values
}

// heatmap maps magnitudes to gray levels, normalized to the largest one.
func heatmap(rows [][]float32, kind waterfall.ElementKind) *image.Gray {
	vps := kind.ValuesPerSample()
	w := len(rows[0]) / vps
	img := image.NewGray(image.Rect(0, 0, w, len(rows)))

	mag := func(row []float32, i int) float64 {
		if vps == 2 {
			return math.Hypot(float64(row[2*i]), float64(row[2*i+1]))
		}
		return math.Abs(float64(row[i]))
	}
	peak := 0.0
	for _, row := range rows {
		for i := range w {
			peak = max(peak, mag(row, i))
		}
	}
	if peak == 0 {
		return img
	}
	for y, row := range rows {
		for x := range w {
			img.SetGray(x, y, color.Gray{Y: uint8(255 * mag(row, x) / peak)})
		}
	}
	return img
}

func savePNG(path string, src image.Image, w, h int) error {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// checkBackend rejects combinations whose snapshot would be wrong. The
// software backend copies textures as 4 bytes per texel, which truncates
// the 8-byte complex samples.
func checkBackend(b gpuhost.Backend, complexSamples bool) error {
	if complexSamples && b == gpuhost.Software {
		return fmt.Errorf("-complex is not supported with -backend %s: snapshots need 8-byte texel copies", b)
	}
	return nil
}
