package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/ethan/screencaster/pkg/pipeline"
)

// GenericBackend captures one X11 display via GStreamer's ximagesrc,
// converting to NV12 on the fly; no other source element is tried. It is the portable backend used when no OS-specific capture
// API (Windows Graphics Capture, etc.) is available.
type GenericBackend struct {
	mu       sync.Mutex
	selected Display
	hasSel   bool

	pipeline *gst.Pipeline
	appsink  *app.Sink
	frameCh  chan pipeline.RawFrame
}

// NewGenericBackend builds a backend targeting displayID, or the
// first enumerated display if displayID is empty.
func NewGenericBackend(displayID string) (*GenericBackend, error) {
	InitGStreamer()
	b := &GenericBackend{frameCh: make(chan pipeline.RawFrame, 2)}

	displays, err := b.ListDisplays()
	if err != nil {
		return nil, err
	}
	target := displays[0]
	if displayID != "" {
		found := false
		for _, d := range displays {
			if d.ID == displayID {
				target = d
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("display %q not found", displayID)
		}
	}

	if err := b.selectAndStart(target); err != nil {
		return nil, err
	}
	return b, nil
}

// ListDisplays enumerates capturable outputs. The generic backend has
// no portable multi-monitor enumeration API without platform-specific
// bindings, so it reports one synthetic entry describing the X
// display's root window; OS-specific backends (not built in this
// portable fallback) enumerate real monitors.
func (b *GenericBackend) ListDisplays() ([]Display, error) {
	return []Display{{ID: "0", Name: "Primary Display", Width: 1920, Height: 1080, ScaleFactor: 1.0}}, nil
}

// SelectDisplay switches the capture target.
func (b *GenericBackend) SelectDisplay(id string) error {
	displays, err := b.ListDisplays()
	if err != nil {
		return err
	}
	for _, d := range displays {
		if d.ID == id {
			return b.selectAndStart(d)
		}
	}
	return fmt.Errorf("display %q not found", id)
}

// SelectedDisplay returns the currently selected display, if any.
func (b *GenericBackend) SelectedDisplay() (Display, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected, b.hasSel
}

func (b *GenericBackend) selectAndStart(d Display) error {
	b.mu.Lock()
	if b.pipeline != nil {
		b.pipeline.SetState(gst.StateNull)
		b.pipeline = nil
	}
	b.mu.Unlock()

	w, h := d.Width+d.Width%2, d.Height+d.Height%2
	pipelineStr := fmt.Sprintf(
		"ximagesrc use-damage=false ! videoscale ! videoconvert ! "+
			"video/x-raw,format=NV12,width=%d,height=%d ! appsink name=capturesink",
		w, h)

	pl, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("parse capture pipeline: %w", err)
	}

	sinkElem, err := pl.GetElementByName("capturesink")
	if err != nil {
		pl.SetState(gst.StateNull)
		return fmt.Errorf("capturesink missing: %w", err)
	}
	sink := app.SinkFromElement(sinkElem)
	sink.SetProperty("emit-signals", true)
	sink.SetProperty("max-buffers", uint(1))
	sink.SetProperty("drop", true)
	sink.SetProperty("sync", false)
	sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
		return b.onNewSample(s, w, h)
	}})

	if err := pl.SetState(gst.StatePlaying); err != nil {
		pl.SetState(gst.StateNull)
		return fmt.Errorf("start capture pipeline: %w", err)
	}

	b.mu.Lock()
	b.pipeline = pl
	b.appsink = sink
	b.selected = d
	b.hasSel = true
	b.mu.Unlock()
	return nil
}

func (b *GenericBackend) onNewSample(sink *app.Sink, w, h int) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	raw := mapInfo.Bytes()
	lumaSize := w * h
	chromaSize := w * h / 2
	if len(raw) < lumaSize+chromaSize {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := pipeline.RawFrame{
		Width: w, Height: h,
		Luma:         append([]byte(nil), raw[:lumaSize]...),
		LumaStride:   w,
		Chroma:       append([]byte(nil), raw[lumaSize:lumaSize+chromaSize]...),
		ChromaStride: w,
	}
	buffer.Unmap()

	select {
	case b.frameCh <- frame:
	default:
	}
	return gst.FlowOK
}

// CaptureFrame blocks until the next frame arrives or ctx is canceled.
func (b *GenericBackend) CaptureFrame(ctx context.Context) (pipeline.RawFrame, error) {
	select {
	case f := <-b.frameCh:
		return f, nil
	case <-ctx.Done():
		return pipeline.RawFrame{}, ctx.Err()
	case <-time.After(2 * time.Second):
		return pipeline.RawFrame{}, fmt.Errorf("capture timed out waiting for a frame")
	}
}

// Close tears down the capture pipeline.
func (b *GenericBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pipeline != nil {
		b.pipeline.SetState(gst.StateNull)
	}
	return nil
}
