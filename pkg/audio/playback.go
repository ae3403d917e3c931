package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

// Player decodes inbound Opus packets into float32 stereo PCM and
// feeds a bounded ring buffer consumed by the audio device callback.
type Player struct {
	log *logger.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsrc   *app.Source

	ring *RingBuffer
}

// NewPlayer builds an Opus-decode pipeline writing into a ring buffer
// of capacity samples.
func NewPlayer(capacity int, log *logger.Logger) (*Player, error) {
	initGStreamer()

	pipelineStr := fmt.Sprintf(
		"appsrc name=audiosrc format=time is-live=true do-timestamp=false caps=audio/x-opus ! " +
			"opusdec ! audioconvert ! audio/x-raw,format=F32LE,rate=%d,channels=2 ! appsink name=audiosink",
		sampleRate)

	pl, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("parse audio playback pipeline: %w", err)
	}

	srcElem, err := pl.GetElementByName("audiosrc")
	if err != nil {
		pl.SetState(gst.StateNull)
		return nil, fmt.Errorf("audiosrc missing: %w", err)
	}
	sinkElem, err := pl.GetElementByName("audiosink")
	if err != nil {
		pl.SetState(gst.StateNull)
		return nil, fmt.Errorf("audiosink missing: %w", err)
	}

	p := &Player{log: log, pipeline: pl, appsrc: app.SrcFromElement(srcElem), ring: NewRingBuffer(capacity)}

	sink := app.SinkFromElement(sinkElem)
	sink.SetProperty("emit-signals", true)
	sink.SetProperty("sync", false)
	sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: p.onNewSample})

	if err := pl.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start audio playback pipeline: %w", err)
	}
	return p, nil
}

func (p *Player) onNewSample(sink *app.Sink) gst.FlowReturn {
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
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = bytesToFloat32(raw[i*4 : i*4+4])
	}
	buffer.Unmap()

	p.ring.Write(samples)
	return gst.FlowOK
}

func bytesToFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

// DecodePacket pushes one Opus packet into the decode pipeline. The
// decoded PCM reaches the ring buffer asynchronously via onNewSample.
func (p *Player) DecodePacket(pkt pipeline.AudioFrame) error {
	p.mu.Lock()
	src := p.appsrc
	p.mu.Unlock()
	if src == nil {
		return fmt.Errorf("player not initialized")
	}
	buf := gst.NewBufferFromBytes(pkt.Data)
	if ret := src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("push opus packet: flow %v", ret)
	}
	return nil
}

// Run drains in into DecodePacket until ctx is canceled or in closes.
func (p *Player) Run(ctx context.Context, in <-chan pipeline.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			if err := p.DecodePacket(pkt); err != nil {
				p.log.Warn("opus decode push failed", "error", err)
			}
		}
	}
}

// DeviceRead drains len(dst) samples for the device callback,
// advancing tracker by the equivalent playback duration. This is the
// single-consumer side of the ring buffer's SPSC contract.
func (p *Player) DeviceRead(dst []float32, tracker AudioPlaybackTrackerAdvancer) {
	p.ring.Read(dst)
	stereoFrames := len(dst) / 2
	tracker.Advance(time.Duration(stereoFrames) * time.Second / sampleRate)
}

// DroppedSamples returns the cumulative overflow-eviction count.
func (p *Player) DroppedSamples() uint64 {
	return p.ring.Dropped()
}

// Close tears down the pipeline.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipeline != nil {
		p.pipeline.SetState(gst.StateNull)
	}
	return nil
}

// AudioPlaybackTrackerAdvancer is the minimal interface DeviceRead
// needs from receiver.AudioPlaybackTracker, avoiding a dependency
// cycle between pkg/audio and pkg/pipeline/receiver.
type AudioPlaybackTrackerAdvancer interface {
	Advance(d time.Duration)
}
