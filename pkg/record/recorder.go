// Package record implements the MP4/MOV recorder: a muxing pipeline
// that runs alongside the live path without affecting it, seeded from
// the first video access unit carrying SPS/PPS.
package record

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/ethan/screencaster/pkg/codec"
	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

const (
	videoTimeBase = 90000
	audioTimeBase = 48000
)

// Recorder writes the live stream to a container file. It drains
// stale packets, waits for the first video AU carrying SPS+PPS to seed
// extradata and the time origin, and buffers audio that arrives first.
// Each lane keeps a strictly increasing DTS counter in its own time
// base, but the buffers pushed into the muxer carry only a PTS (the
// packet's offset from the time origin): no DTS is set on them, and
// PTS >= DTS is not enforced.
type Recorder struct {
	log *logger.Logger

	mu          sync.Mutex
	pipeline    *gst.Pipeline
	videoSrc    *app.Source
	audioSrc    *app.Source
	usingOpus   bool

	t0set    bool
	t0Micros int64

	hasVideoDTS  bool
	lastVideoDTS int64
	hasAudioDTS  bool
	lastAudioDTS int64

	audioBacklog []pipeline.SavePacket
}

// NewRecorder constructs a recorder. The outputPath argument is not
// retained: the file written is the outputPath passed to Run (.mov
// selects qtmux, anything else mp4mux). The pipeline is built lazily
// on the first qualifying video packet, once extradata is known.
func NewRecorder(outputPath string, log *logger.Logger) *Recorder {
	return &Recorder{log: log, audioBacklog: make([]pipeline.SavePacket, 0, 16)}
}

// Run consumes packets from in until ctx is canceled or in closes.
// Stale packets queued before Run was called are drained first so a
// late-starting recorder does not open with a backlog of old frames.
func (r *Recorder) Run(ctx context.Context, in <-chan pipeline.SavePacket, outputPath string) error {
	r.drainStale(in)

	for {
		select {
		case <-ctx.Done():
			return r.Close()
		case pkt, ok := <-in:
			if !ok {
				return r.Close()
			}
			if err := r.handlePacket(pkt, outputPath); err != nil {
				r.log.Warn("recorder packet handling failed", "error", err)
			}
			// Batch up to 9 more packets already queued before yielding
			// back to select, reducing per-packet scheduling overhead.
			for i := 0; i < 9; i++ {
				select {
				case pkt, ok := <-in:
					if !ok {
						return r.Close()
					}
					if err := r.handlePacket(pkt, outputPath); err != nil {
						r.log.Warn("recorder packet handling failed", "error", err)
					}
				default:
					i = 9
				}
			}
		}
	}
}

func (r *Recorder) drainStale(in <-chan pipeline.SavePacket) {
	for {
		select {
		case <-in:
		default:
			return
		}
	}
}

func (r *Recorder) handlePacket(pkt pipeline.SavePacket, outputPath string) error {
	if !r.t0set {
		if pkt.Kind == pipeline.SaveAudio {
			r.audioBacklog = append(r.audioBacklog, pkt)
			return nil
		}
		sps, pps, ok := codec.ExtractSPSPPS(pkt.Data)
		if !ok {
			return nil
		}
		r.t0Micros = pkt.TSMicros
		r.t0set = true
		if err := r.build(outputPath, sps, pps); err != nil {
			return fmt.Errorf("build recorder pipeline: %w", err)
		}
		if err := r.writeVideo(pkt); err != nil {
			return err
		}
		for _, backlog := range r.audioBacklog {
			if err := r.writeAudio(backlog); err != nil {
				r.log.Warn("backlog audio write failed", "error", err)
			}
		}
		r.audioBacklog = nil
		return nil
	}

	if pkt.Kind == pipeline.SaveVideo {
		return r.writeVideo(pkt)
	}
	return r.writeAudio(pkt)
}

func (r *Recorder) build(outputPath string, sps, pps []byte) error {
	muxer := "mp4mux"
	ext := "mp4"
	if len(outputPath) > 4 && outputPath[len(outputPath)-4:] == ".mov" {
		muxer = "qtmux"
		ext = "mov"
	}
	_ = ext

	pipelineStr := fmt.Sprintf(
		"appsrc name=vsrc format=time is-live=true do-timestamp=false caps=video/x-h264,stream-format=byte-stream,alignment=au ! "+
			"h264parse config-interval=-1 ! %s name=mux ! filesink location=%s "+
			"appsrc name=asrc format=time is-live=true do-timestamp=false caps=audio/x-opus ! "+
			"opusparse ! opusdec ! audioconvert ! avenc_aac bitrate=128000 ! aacparse ! mux.",
		muxer, outputPath)

	pl, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		r.log.Warn("aac transcode pipeline failed to build, falling back to opus passthrough", "error", err)
		return r.buildOpusPassthrough(outputPath, muxer)
	}

	vsrcElem, err := pl.GetElementByName("vsrc")
	if err != nil {
		pl.SetState(gst.StateNull)
		return err
	}
	asrcElem, err := pl.GetElementByName("asrc")
	if err != nil {
		pl.SetState(gst.StateNull)
		return err
	}

	if err := pl.SetState(gst.StatePlaying); err != nil {
		pl.SetState(gst.StateNull)
		return r.buildOpusPassthrough(outputPath, muxer)
	}

	r.pipeline = pl
	r.videoSrc = app.SrcFromElement(vsrcElem)
	r.audioSrc = app.SrcFromElement(asrcElem)
	r.usingOpus = false
	r.log.Info("recorder pipeline started", "output", outputPath, "muxer", muxer, "audio_codec", "aac")
	return nil
}

// buildOpusPassthrough is the fallback container pipeline used when
// AAC transcoding cannot be initialized (missing avenc_aac plugin).
func (r *Recorder) buildOpusPassthrough(outputPath, muxer string) error {
	pipelineStr := fmt.Sprintf(
		"appsrc name=vsrc format=time is-live=true do-timestamp=false caps=video/x-h264,stream-format=byte-stream,alignment=au ! "+
			"h264parse config-interval=-1 ! %s name=mux ! filesink location=%s "+
			"appsrc name=asrc format=time is-live=true do-timestamp=false caps=audio/x-opus ! opusparse ! mux.",
		muxer, outputPath)

	pl, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("build opus passthrough pipeline: %w", err)
	}
	vsrcElem, err := pl.GetElementByName("vsrc")
	if err != nil {
		pl.SetState(gst.StateNull)
		return err
	}
	asrcElem, err := pl.GetElementByName("asrc")
	if err != nil {
		pl.SetState(gst.StateNull)
		return err
	}
	if err := pl.SetState(gst.StatePlaying); err != nil {
		pl.SetState(gst.StateNull)
		return fmt.Errorf("play opus passthrough pipeline: %w", err)
	}

	r.pipeline = pl
	r.videoSrc = app.SrcFromElement(vsrcElem)
	r.audioSrc = app.SrcFromElement(asrcElem)
	r.usingOpus = true
	r.log.Info("recorder pipeline started", "output", outputPath, "muxer", muxer, "audio_codec", "opus")
	return nil
}

func (r *Recorder) writeVideo(pkt pipeline.SavePacket) error {
	relUs := relativeUs(pkt.TSMicros, r.t0Micros)
	dts := relUs * videoTimeBase / 1_000_000
	if r.hasVideoDTS && dts <= r.lastVideoDTS {
		dts = r.lastVideoDTS + 1
	}
	r.lastVideoDTS = dts
	r.hasVideoDTS = true

	r.mu.Lock()
	src := r.videoSrc
	r.mu.Unlock()
	if src == nil {
		return nil
	}
	buf := gst.NewBufferFromBytes(pkt.Data)
	buf.SetPresentationTimestamp(gst.ClockTime(time.Duration(relUs) * time.Microsecond))
	if ret := src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("push video buffer: flow %v", ret)
	}
	return nil
}

func (r *Recorder) writeAudio(pkt pipeline.SavePacket) error {
	relUs := relativeUs(pkt.TSMicros, r.t0Micros)
	dts := relUs * audioTimeBase / 1_000_000
	if r.hasAudioDTS && dts <= r.lastAudioDTS {
		dts = r.lastAudioDTS + 1
	}
	r.lastAudioDTS = dts
	r.hasAudioDTS = true

	r.mu.Lock()
	src := r.audioSrc
	r.mu.Unlock()
	if src == nil {
		return nil
	}
	buf := gst.NewBufferFromBytes(pkt.Data)
	buf.SetPresentationTimestamp(gst.ClockTime(time.Duration(relUs) * time.Microsecond))
	if ret := src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("push audio buffer: flow %v", ret)
	}
	return nil
}

// relativeUs returns max(0, ts - t0), matching the recorder's
// packet-timestamping rule.
func relativeUs(ts, t0 int64) int64 {
	rel := ts - t0
	if rel < 0 {
		return 0
	}
	return rel
}

// Close sends EOS and tears down the pipeline.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.videoSrc != nil {
		r.videoSrc.EndStream()
	}
	if r.audioSrc != nil {
		r.audioSrc.EndStream()
	}
	if r.pipeline != nil {
		r.pipeline.SetState(gst.StateNull)
	}
	return nil
}
