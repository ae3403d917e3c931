package codec

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

var decoderCandidates = []encoderCandidate{
	{name: "nvh264dec", elem: "nvh264dec"},
	{name: "vaapih264dec", elem: "vaapih264dec"},
	{name: "v4l2h264dec", elem: "v4l2h264dec"},
	{name: "avdec_h264", elem: "avdec_h264"},
}

// VideoDecoder wraps a GStreamer appsrc->decoder->appsink pipeline
// that accepts Annex-B H.264 access units and emits decoded I420
// frames. It tracks a consecutive-decode-failure counter, resetting it
// after 10 successful decodes, matching the decode-stage resilience
// described for the receiver pipeline.
type VideoDecoder struct {
	log *logger.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsrc   *app.Source
	codecName string

	consecutiveFailures int
	successesSinceReset int

	outCh chan pipeline.VideoFrame
	errCh chan error
}

// NewVideoDecoder tries each ranked candidate in turn, returning the
// first that builds and transitions to Playing.
func NewVideoDecoder(log *logger.Logger) (*VideoDecoder, error) {
	InitGStreamer()

	d := &VideoDecoder{
		log:   log,
		outCh: make(chan pipeline.VideoFrame, 4),
		errCh: make(chan error, 1),
	}

	var lastErr error
	for _, cand := range decoderCandidates {
		pipelineStr := fmt.Sprintf(
			"appsrc name=videosrc format=time is-live=true do-timestamp=false caps=video/x-h264,stream-format=byte-stream,alignment=au ! "+
				"h264parse ! %s ! videoconvert ! video/x-raw,format=I420 ! appsink name=videosink",
			cand.elem)

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
		sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: d.onNewSample})

		d.pipeline = pl
		d.appsrc = app.SrcFromElement(srcElem)
		d.codecName = cand.name
		d.log.Info("video decoder initialized", "codec", cand.name)
		return d, nil
	}
	return nil, fmt.Errorf("no usable H.264 decoder available: %w", lastErr)
}

func (d *VideoDecoder) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	caps := sample.GetCaps()
	if buffer == nil || caps == nil {
		return gst.FlowOK
	}
	structure := caps.GetStructureAt(0)
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, _ := toInt(width)
	h, _ := toInt(height)
	if w == 0 || h == 0 {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	raw := mapInfo.Bytes()
	ySize := w * h
	cSize := (w / 2) * (h / 2)
	if len(raw) < ySize+2*cSize {
		buffer.Unmap()
		return gst.FlowOK
	}
	y := append([]byte(nil), raw[:ySize]...)
	u := append([]byte(nil), raw[ySize:ySize+cSize]...)
	v := append([]byte(nil), raw[ySize+cSize:ySize+2*cSize]...)
	buffer.Unmap()

	frame := pipeline.VideoFrame{Width: w, Height: h, Y: y, U: u, V: v}
	select {
	case d.outCh <- frame:
	default:
	}
	return gst.FlowOK
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// Decode pushes one Annex-B access unit and returns the next decoded
// frame. It tracks consecutive failures, resetting the counter after
// 10 consecutive successes.
func (d *VideoDecoder) Decode(au pipeline.AccessUnit) (pipeline.VideoFrame, error) {
	d.mu.Lock()
	src := d.appsrc
	d.mu.Unlock()
	if src == nil {
		return pipeline.VideoFrame{}, fmt.Errorf("decoder not initialized")
	}

	gbuf := gst.NewBufferFromBytes(au.Data)
	if ret := src.PushBuffer(gbuf); ret != gst.FlowOK {
		d.recordFailure()
		return pipeline.VideoFrame{}, fmt.Errorf("push buffer: flow %v", ret)
	}

	select {
	case frame := <-d.outCh:
		d.recordSuccess()
		return frame, nil
	case <-time.After(250 * time.Millisecond):
		d.recordFailure()
		return pipeline.VideoFrame{}, fmt.Errorf("decoder timed out producing output")
	}
}

func (d *VideoDecoder) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFailures++
	d.successesSinceReset = 0
}

func (d *VideoDecoder) recordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.successesSinceReset++
	if d.successesSinceReset >= 10 {
		d.consecutiveFailures = 0
		d.successesSinceReset = 0
	}
}

// ConsecutiveFailures returns the current run of decode failures not
// yet offset by 10 consecutive successes.
func (d *VideoDecoder) ConsecutiveFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveFailures
}

// Close tears down the pipeline.
func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipeline != nil {
		d.pipeline.SetState(gst.StateNull)
	}
	return nil
}
