// Package audio implements the sender-side loopback capture and Opus
// encoding path, and the receiver-side Opus decode and playback ring
// buffer.
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

const (
	sampleRate   = 48000
	frameMillis  = 10
	samplesPerFrame = sampleRate * frameMillis / 1000
)

// Capturer owns two linked GStreamer pipelines: the first captures the
// system audio monitor source at its native channel count and hands
// raw S16LE PCM to Go; Downmix reduces that PCM to stereo per spec's
// exact channel rule (rather than leaving channel reduction to
// audioconvert's own mixing matrix); the stereo PCM is then pushed
// into the second pipeline, which frames and Opus-encodes it.
type Capturer struct {
	log *logger.Logger

	mu          sync.Mutex
	rawPipeline *gst.Pipeline
	rawSink     *app.Sink

	encPipeline *gst.Pipeline
	encSrc      *app.Source
	encSink     *app.Sink

	outCh chan pipeline.AudioFrame
}

// NewCapturer builds and starts the loopback capture pipeline. device
// is the PulseAudio/PipeWire monitor source name; empty selects the
// default monitor.
func NewCapturer(device string, log *logger.Logger) (*Capturer, error) {
	initGStreamer()

	src := "pulsesrc"
	if device != "" {
		src = fmt.Sprintf("pulsesrc device=%s", device)
	}
	rawPipelineStr := fmt.Sprintf(
		"%s ! audioconvert ! audioresample ! audio/x-raw,format=S16LE,rate=%d ! appsink name=rawsink",
		src, sampleRate)
	encPipelineStr := fmt.Sprintf(
		"appsrc name=encsrc format=time is-live=true do-timestamp=true caps=audio/x-raw,format=S16LE,rate=%d,channels=2,layout=interleaved ! "+
			"opusenc frame-size=%d bitrate=64000 ! appsink name=encsink",
		sampleRate, frameMillis)

	rawPl, err := gst.NewPipelineFromString(rawPipelineStr)
	if err != nil {
		return nil, fmt.Errorf("parse audio capture pipeline: %w", err)
	}
	rawSinkElem, err := rawPl.GetElementByName("rawsink")
	if err != nil {
		rawPl.SetState(gst.StateNull)
		return nil, fmt.Errorf("rawsink missing: %w", err)
	}
	rawSink := app.SinkFromElement(rawSinkElem)
	rawSink.SetProperty("emit-signals", true)
	rawSink.SetProperty("sync", false)

	encPl, err := gst.NewPipelineFromString(encPipelineStr)
	if err != nil {
		rawPl.SetState(gst.StateNull)
		return nil, fmt.Errorf("parse audio encode pipeline: %w", err)
	}
	encSrcElem, err := encPl.GetElementByName("encsrc")
	if err != nil {
		rawPl.SetState(gst.StateNull)
		encPl.SetState(gst.StateNull)
		return nil, fmt.Errorf("encsrc missing: %w", err)
	}
	encSinkElem, err := encPl.GetElementByName("encsink")
	if err != nil {
		rawPl.SetState(gst.StateNull)
		encPl.SetState(gst.StateNull)
		return nil, fmt.Errorf("encsink missing: %w", err)
	}
	encSink := app.SinkFromElement(encSinkElem)
	encSink.SetProperty("emit-signals", true)
	encSink.SetProperty("sync", false)

	c := &Capturer{
		log:         log,
		rawPipeline: rawPl,
		rawSink:     rawSink,
		encPipeline: encPl,
		encSrc:      app.SrcFromElement(encSrcElem),
		encSink:     encSink,
		outCh:       make(chan pipeline.AudioFrame, 16),
	}
	rawSink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: c.onRawSample})
	encSink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: c.onEncodedSample})

	if err := encPl.SetState(gst.StatePlaying); err != nil {
		rawPl.SetState(gst.StateNull)
		return nil, fmt.Errorf("start audio encode pipeline: %w", err)
	}
	if err := rawPl.SetState(gst.StatePlaying); err != nil {
		encPl.SetState(gst.StateNull)
		return nil, fmt.Errorf("start audio capture pipeline: %w", err)
	}
	return c, nil
}

// onRawSample receives native-channel-count PCM from the capture
// pipeline, downmixes it to stereo per the spec's channel rule, and
// pushes the result into the encode pipeline's appsrc.
func (c *Capturer) onRawSample(sink *app.Sink) gst.FlowReturn {
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
	chVal, _ := structure.GetValue("channels")
	channels, ok := toInt(chVal)
	if !ok || channels <= 0 {
		channels = 2
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	raw := append([]byte(nil), mapInfo.Bytes()...)
	buffer.Unmap()

	stereo := Downmix(raw, channels)

	c.mu.Lock()
	encSrc := c.encSrc
	c.mu.Unlock()
	if encSrc == nil {
		return gst.FlowOK
	}
	gbuf := gst.NewBufferFromBytes(stereo)
	if ret := encSrc.PushBuffer(gbuf); ret != gst.FlowOK {
		c.log.Debug("downmixed buffer push failed", "flow", ret)
	}
	return gst.FlowOK
}

func (c *Capturer) onEncodedSample(sink *app.Sink) gst.FlowReturn {
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

	select {
	case c.outCh <- pipeline.AudioFrame{Data: data}:
	default:
		c.log.Debug("audio capture frame dropped, output channel full")
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

// Frames returns the channel of captured Opus packets (PTS unset;
// callers stamp PTS from the media clock on receipt).
func (c *Capturer) Frames() <-chan pipeline.AudioFrame {
	return c.outCh
}

// Close tears down both pipelines.
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rawPipeline != nil {
		c.rawPipeline.SetState(gst.StateNull)
	}
	if c.encPipeline != nil {
		c.encPipeline.SetState(gst.StateNull)
	}
	return nil
}

// Downmix applies the channel-reduction rule to interleaved S16LE PCM
// with srcChannels channels, producing interleaved stereo: 0 channels
// yields silence, 1 channel is duplicated to both output channels, 2
// or more channels uses the first two verbatim.
func Downmix(pcm []byte, srcChannels int) []byte {
	const bytesPerSample = 2
	if srcChannels <= 0 {
		return make([]byte, len(pcm))
	}
	frameBytes := srcChannels * bytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2*bytesPerSample)

	for i := 0; i < frames; i++ {
		srcOff := i * frameBytes
		dstOff := i * 2 * bytesPerSample
		switch {
		case srcChannels == 1:
			copy(out[dstOff:dstOff+bytesPerSample], pcm[srcOff:srcOff+bytesPerSample])
			copy(out[dstOff+bytesPerSample:dstOff+2*bytesPerSample], pcm[srcOff:srcOff+bytesPerSample])
		default:
			copy(out[dstOff:dstOff+2*bytesPerSample], pcm[srcOff:srcOff+2*bytesPerSample])
		}
	}
	return out
}

// FrameDuration is the nominal duration of one Opus frame at the
// fixed 10ms framing used by the capture pipeline.
func FrameDuration() time.Duration {
	return frameMillis * time.Millisecond
}
