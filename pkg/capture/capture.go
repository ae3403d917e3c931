// Package capture implements the screen-capture backend: display
// enumeration, the adaptive-FPS capture loop, and the watched
// CaptureOpts contract (blank screen, crop, pause, FPS ceiling).
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethan/screencaster/pkg/codec"
	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

// Display describes one capturable monitor.
type Display struct {
	ID          string
	Name        string
	Width       int
	Height      int
	ScaleFactor float64
}

// Backend is the capability set every capture implementation (OS-
// specific or generic) must provide, allowing the coordinator to
// select an implementation at construction time without dynamic
// dispatch baked into the call sites.
type Backend interface {
	ListDisplays() ([]Display, error)
	SelectDisplay(id string) error
	SelectedDisplay() (Display, bool)
	// CaptureFrame blocks until the next raw frame is available, or
	// returns an error on a transient surface-acquisition failure
	// (logged and retried by the caller on the next tick).
	CaptureFrame(ctx context.Context) (pipeline.RawFrame, error)
}

type captureState int32

const (
	stateIdle captureState = iota
	statePlaying
	statePaused
	stateStopped
)

// Capturer drives Backend through the adaptive-FPS loop described by
// the spec: read CaptureOpts, capture or substitute a black frame,
// crop, encode, and non-blocking send to output. Pressure from send
// failures throttles FPS down; low pressure and fast frames let it
// climb back toward MaxFPS.
type Capturer struct {
	backend Backend
	state   atomic.Int32

	optsMu     sync.Mutex
	opts       *pipeline.OptsWatch
	blackFrame pipeline.RawFrame
	blackDims  [2]int

	health *pipeline.Health
	log    *logger.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCapturer wraps backend with the adaptive-FPS coordinator.
func NewCapturer(backend Backend, opts *pipeline.OptsWatch, health *pipeline.Health, log *logger.Logger) *Capturer {
	return &Capturer{
		backend: backend,
		opts:    opts,
		health:  health,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// ListDisplays enumerates capturable displays.
func (c *Capturer) ListDisplays() ([]Display, error) {
	return c.backend.ListDisplays()
}

// SelectDisplay fails if capture is currently running, mirroring the
// source's "cannot reselect mid-capture" constraint.
func (c *Capturer) SelectDisplay(id string) error {
	if captureState(c.state.Load()) == statePlaying {
		return fmt.Errorf("cannot select display while capture is running")
	}
	return c.backend.SelectDisplay(id)
}

// StartCapture spawns the capture loop writing encoded frames to
// output via enc. It returns immediately; call StopCapture to terminate.
func (c *Capturer) StartCapture(ctx context.Context, enc *codec.VideoEncoder, output chan<- pipeline.EncodedFrame, clock *pipeline.MediaClock) {
	c.state.Store(int32(statePlaying))
	go c.runLoop(ctx, enc, output, clock)
}

// StopCapture cancels the loop; safe to call more than once.
func (c *Capturer) StopCapture() {
	if captureState(c.state.Swap(int32(stateStopped))) == stateStopped {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

const (
	minFPS          = 15
	pressurePenalty = 3
	pressureCap     = 100
	pressureFloor   = 0
)

func (c *Capturer) runLoop(ctx context.Context, enc *codec.VideoEncoder, output chan<- pipeline.EncodedFrame, clock *pipeline.MediaClock) {
	defer close(c.doneCh)

	currentFPS := int(clampFPS(c.opts.Get().MaxFPS))
	pressure := 0
	lastCrop := c.opts.Get().Crop
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()
	var frames, drops uint64

	// Token-bucket smoothing sits under the pressure-score throttle:
	// currentFPS decides the target rate, the limiter absorbs
	// scheduling jitter around it instead of a raw fixed sleep.
	limiter := rate.NewLimiter(rate.Limit(currentFPS), 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-statsTicker.C:
			c.log.DebugCapture("capture loop stats", "fps", currentFPS, "pressure", pressure, "frames", frames, "drops", drops)
		default:
		}

		budgetMs := 1000 / currentFPS
		tickStart := time.Now()

		opts := c.opts.Get()
		if opts.Paused {
			select {
			case <-time.After(time.Duration(budgetMs) * time.Millisecond):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
			continue
		}

		if cropChanged(lastCrop, opts.Crop) {
			c.log.DebugCapture("crop changed, recreating encoder", "crop", opts.Crop)
			w, h := enc.Dimensions()
			if opts.Crop != nil {
				e := opts.Crop.Even()
				w, h = e.W, e.H
			}
			_ = enc.Recreate(w, h)
			c.blackDims = [2]int{}
			enc.ForceIDR()
			lastCrop = opts.Crop
		}

		frame, err := c.nextFrame(ctx, opts, enc)
		if err != nil {
			c.log.Warn("capture surface error, continuing", "error", err)
			time.Sleep(time.Duration(budgetMs) * time.Millisecond)
			continue
		}

		encoded, err := enc.Encode(frame, clock.VideoNow())
		if err != nil {
			c.log.Warn("encode error, skipping frame", "error", err)
			continue
		}
		encoded.CorrelationID = clock.NextCorrelationID()

		select {
		case output <- encoded:
			frames++
			pressure = max0(pressure - 1)
			c.health.RecordFrame(len(encoded.Data), encoded.IsKeyframe)
		default:
			drops++
			pressure = minInt(pressure+pressurePenalty, pressureCap)
			currentFPS = maxInt(currentFPS-5, minFPS)
			enc.ForceIDR()
			c.health.RecordFrameDrop()
		}

		elapsed := time.Since(tickStart)
		elapsedMs := int(elapsed.Milliseconds())

		prevFPS := currentFPS
		if elapsedMs > budgetMs || pressure > 20 {
			currentFPS = maxInt(currentFPS-3, minFPS)
		} else if elapsedMs < budgetMs*55/100 && pressure < 5 {
			maxFPS := int(clampFPS(c.opts.Get().MaxFPS))
			currentFPS = minInt(currentFPS+1, maxFPS)
		}
		if currentFPS != prevFPS {
			limiter.SetLimit(rate.Limit(currentFPS))
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}
}

func (c *Capturer) nextFrame(ctx context.Context, opts pipeline.CaptureOpts, enc *codec.VideoEncoder) (pipeline.RawFrame, error) {
	if opts.BlankScreen {
		w, h := enc.Dimensions()
		if c.blackDims != [2]int{w, h} {
			c.blackFrame = blackNV12(w, h)
			c.blackDims = [2]int{w, h}
		}
		return c.blackFrame, nil
	}

	frame, err := c.backend.CaptureFrame(ctx)
	if err != nil {
		return pipeline.RawFrame{}, err
	}

	if opts.Crop != nil {
		frame = cropNV12(frame, opts.Crop.Even())
	}
	return frame, nil
}

func cropChanged(a, b *pipeline.CropRect) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}

// blackNV12 builds a solid-black NV12 frame: luminance 0, chrominance
// 128 (neutral chroma), at even dimensions.
func blackNV12(w, h int) pipeline.RawFrame {
	w, h = w+w%2, h+h%2
	luma := make([]byte, w*h)
	chroma := make([]byte, w*h/2)
	for i := range chroma {
		chroma[i] = 128
	}
	return pipeline.RawFrame{Width: w, Height: h, Luma: luma, LumaStride: w, Chroma: chroma, ChromaStride: w}
}

// cropNV12 extracts a sub-rectangle from an NV12 frame on the CPU.
func cropNV12(src pipeline.RawFrame, crop pipeline.CropRect) pipeline.RawFrame {
	w, h := crop.W, crop.H
	if crop.X+w > src.Width {
		w = src.Width - crop.X
	}
	if crop.Y+h > src.Height {
		h = src.Height - crop.Y
	}
	w, h = w+w%2, h+h%2
	// Rounding up must not step past the source edge; round down instead.
	if crop.X+w > src.Width {
		w -= 2
	}
	if crop.Y+h > src.Height {
		h -= 2
	}

	luma := make([]byte, w*h)
	for row := 0; row < h; row++ {
		srcOff := (crop.Y+row)*src.LumaStride + crop.X
		copy(luma[row*w:(row+1)*w], src.Luma[srcOff:srcOff+w])
	}

	chromaH := h / 2
	chroma := make([]byte, w*chromaH)
	for row := 0; row < chromaH; row++ {
		srcOff := (crop.Y/2+row)*src.ChromaStride + crop.X
		copy(chroma[row*w:(row+1)*w], src.Chroma[srcOff:srcOff+w])
	}

	return pipeline.RawFrame{Width: w, Height: h, Luma: luma, LumaStride: w, Chroma: chroma, ChromaStride: w}
}

func clampFPS(max uint32) uint32 {
	if max < minFPS {
		return minFPS
	}
	return max
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
