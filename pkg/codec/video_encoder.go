package codec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

var gstInitOnce sync.Once

// InitGStreamer initializes the GStreamer library. Safe to call more
// than once.
func InitGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// encoderCandidate is one ranked choice for the H.264 encoder element,
// tried in order until one initializes.
type encoderCandidate struct {
	name string
	elem string
}

// encoderCandidates ranks hardware encoders first, falling back to the
// software encoder, which always initializes if GStreamer's good-plugins
// are present.
var encoderCandidates = []encoderCandidate{
	{name: "nvh264enc", elem: "nvh264enc"},
	{name: "vaapih264enc", elem: "vaapih264enc"},
	{name: "v4l2h264enc", elem: "v4l2h264enc"},
	{name: "x264enc", elem: "x264enc tune=zerolatency speed-preset=ultrafast bitrate=4000 key-int-max=120"},
}

// VideoEncoder wraps a GStreamer appsrc->encoder->appsink pipeline that
// accepts NV12 raw frames and emits Annex-B H.264 access units. It
// supports in-place dimension changes (Recreate) for crop changes and
// consumes a shared force-IDR flag each Encode call.
type VideoEncoder struct {
	log *logger.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink
	codecName string
	width, height int

	forceIDR *atomic.Bool

	outCh chan pipeline.EncodedFrame
}

// NewVideoEncoder tries each ranked candidate in turn, returning the
// first that builds and transitions to Playing. It panics if none do,
// matching the source's "no usable encoder is a fatal misconfiguration"
// behavior.
func NewVideoEncoder(width, height int, forceIDR *atomic.Bool, log *logger.Logger) *VideoEncoder {
	InitGStreamer()

	e := &VideoEncoder{
		log:      log,
		width:    width,
		height:   height,
		forceIDR: forceIDR,
		outCh:    make(chan pipeline.EncodedFrame, 4),
	}

	if err := e.build(width, height); err != nil {
		panic(fmt.Sprintf("no usable H.264 encoder available: %v", err))
	}
	return e
}

func (e *VideoEncoder) build(width, height int) error {
	var lastErr error
	for _, cand := range encoderCandidates {
		pipelineStr := fmt.Sprintf(
			"appsrc name=videosrc format=time is-live=true do-timestamp=false caps=video/x-raw,format=NV12,width=%d,height=%d,framerate=0/1 ! "+
				"%s ! h264parse config-interval=-1 ! video/x-h264,stream-format=byte-stream,alignment=au ! appsink name=videosink",
			width, height, cand.elem)

		pl, err := gst.NewPipelineFromString(pipelineStr)
		if err != nil {
			lastErr = fmt.Errorf("%s: parse: %w", cand.name, err)
			continue
		}
		if err := pl.SetState(gst.StatePlaying); err != nil {
			pl.SetState(gst.StateNull)
			lastErr = fmt.Errorf("%s: play: %w", cand.name, err)
			continue
		}

		srcElem, err := pl.GetElementByName("videosrc")
		if err != nil {
			pl.SetState(gst.StateNull)
			lastErr = fmt.Errorf("%s: videosrc missing: %w", cand.name, err)
			continue
		}
		sinkElem, err := pl.GetElementByName("videosink")
		if err != nil {
			pl.SetState(gst.StateNull)
			lastErr = fmt.Errorf("%s: videosink missing: %w", cand.name, err)
			continue
		}

		sink := app.SinkFromElement(sinkElem)
		sink.SetProperty("emit-signals", true)
		sink.SetProperty("sync", false)
		sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: e.onNewSample})

		e.pipeline = pl
		e.appsrc = app.SrcFromElement(srcElem)
		e.appsink = sink
		e.codecName = cand.name
		e.width, e.height = width, height
		e.log.Info("video encoder initialized", "codec", cand.name, "width", width, "height", height)
		return nil
	}
	return lastErr
}

func (e *VideoEncoder) onNewSample(sink *app.Sink) gst.FlowReturn {
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
	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())
	buffer.Unmap()

	isKeyframe := !buffer.HasFlags(gst.BufferFlagDeltaUnit)

	select {
	case e.outCh <- pipeline.EncodedFrame{Data: data, IsKeyframe: isKeyframe, Width: e.width, Height: e.height}:
	default:
	}
	return gst.FlowOK
}

// Dimensions returns the encoder's current width/height.
func (e *VideoEncoder) Dimensions() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width, e.height
}

// ForceIDR requests a keyframe on the next Encode call.
func (e *VideoEncoder) ForceIDR() {
	if e.forceIDR != nil {
		e.forceIDR.Store(true)
	}
}

// Recreate tears down and rebuilds the pipeline at new dimensions,
// trying candidates in the same ranked order.
func (e *VideoEncoder) Recreate(width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pipeline != nil {
		e.pipeline.SetState(gst.StateNull)
	}
	return e.build(width, height)
}

// Encode pushes one raw NV12 frame into the pipeline stamped with pts,
// consuming (swap-false) the shared force-IDR flag by requesting a
// keyframe unit via a custom downstream event, then returns the next
// encoded access unit produced. Encoders are pipelined internally by
// GStreamer, so the returned frame may lag the pushed frame by one or
// more calls; callers should treat Encode as a streaming call, not a
// strict request/response pair.
func (e *VideoEncoder) Encode(frame pipeline.RawFrame, pts pipeline.Timestamp) (pipeline.EncodedFrame, error) {
	e.mu.Lock()
	src := e.appsrc
	e.mu.Unlock()
	if src == nil {
		return pipeline.EncodedFrame{}, fmt.Errorf("encoder not initialized")
	}

	if e.forceIDR != nil && e.forceIDR.CompareAndSwap(true, false) {
		e.requestKeyframe()
	}

	planeSize := frame.Width * frame.Height
	buf := make([]byte, 0, planeSize+planeSize/2)
	buf = append(buf, frame.Luma...)
	buf = append(buf, frame.Chroma...)

	gbuf := gst.NewBufferFromBytes(buf)
	gbuf.SetPresentationTimestamp(gst.ClockTime(pts.AsDuration()))
	if ret := src.PushBuffer(gbuf); ret != gst.FlowOK {
		return pipeline.EncodedFrame{}, fmt.Errorf("push buffer: flow %v", ret)
	}

	select {
	case ef := <-e.outCh:
		ef.PTS = pts
		ef.DTS = pts
		return ef, nil
	case <-time.After(500 * time.Millisecond):
		return pipeline.EncodedFrame{}, fmt.Errorf("encoder timed out producing output")
	}
}

// requestKeyframe sends a custom downstream GstForceKeyUnit event into
// the pipeline, the standard GStreamer mechanism for out-of-band IDR
// requests (used by encoders that support GstForceKeyUnit).
func (e *VideoEncoder) requestKeyframe() {
	e.mu.Lock()
	pl := e.pipeline
	e.mu.Unlock()
	if pl == nil {
		return
	}
	structure := gst.NewStructure("GstForceKeyUnit")
	structure.SetValue("all-headers", true)
	event := gst.NewCustomEvent(gst.EventTypeCustomDownstream, structure)
	pl.SendEvent(event)
}

// Close tears down the pipeline.
func (e *VideoEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pipeline != nil {
		e.pipeline.SetState(gst.StateNull)
	}
	return nil
}
