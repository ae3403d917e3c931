package receiver

import (
	"context"

	"github.com/ethan/screencaster/pkg/codec"
	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

// DecodeStage depacketizes reordered RTP packets into access units,
// decodes them, and stamps the result with presentation timestamps and
// a fresh correlation ID for the sync stage.
type DecodeStage struct {
	depacketizer *codec.H264Depacketizer
	decoder      *codec.VideoDecoder
	clock        *pipeline.MediaClock
	health       *pipeline.Health
	log          *logger.Logger

	waitingForKeyframe bool
}

// NewDecodeStage wires a depacketizer and decoder behind one stage.
func NewDecodeStage(decoder *codec.VideoDecoder, clock *pipeline.MediaClock, health *pipeline.Health, log *logger.Logger) *DecodeStage {
	return &DecodeStage{
		depacketizer:       codec.NewH264Depacketizer(),
		decoder:            decoder,
		clock:              clock,
		health:             health,
		log:                log,
		waitingForKeyframe: true,
	}
}

// Run consumes RtpPacket from in and emits TimedVideoFrame to out until
// ctx is canceled or in closes.
func (s *DecodeStage) Run(ctx context.Context, in <-chan pipeline.RtpPacket, out chan<- pipeline.TimedVideoFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			s.handlePacket(pkt, out)
		}
	}
}

func (s *DecodeStage) handlePacket(pkt pipeline.RtpPacket, out chan<- pipeline.TimedVideoFrame) {
	au, complete := s.depacketizer.Push(pkt.Payload, pkt.Marker)
	if !complete {
		return
	}

	if s.waitingForKeyframe {
		if !containsKeyframeNAL(au.Data) {
			s.log.DebugNAL("dropping access unit, waiting for keyframe")
			return
		}
		s.waitingForKeyframe = false
	}

	frame, err := s.decoder.Decode(au)
	if err != nil {
		s.health.RecordDecodeFailure()
		s.log.Warn("decode failed", "error", err, "consecutive_failures", s.decoder.ConsecutiveFailures())
		if s.decoder.ConsecutiveFailures() >= 10 {
			s.log.Warn("resetting depacketizer after repeated decode failures")
			s.depacketizer.Reset()
			s.waitingForKeyframe = true
		}
		return
	}

	timed := pipeline.TimedVideoFrame{
		Frame:         frame,
		PTS:           pkt.ReceivedAt,
		CorrelationID: s.clock.NextCorrelationID(),
		IsKeyframe:    containsKeyframeNAL(au.Data),
	}

	select {
	case out <- timed:
	default:
		s.health.RecordFrameDrop()
		s.log.Debug("decoded frame dropped, sync queue full")
	}
}

// containsKeyframeNAL reports whether an Annex-B access unit contains
// an IDR slice (5), SPS (7), or PPS (8) NAL unit.
func containsKeyframeNAL(data []byte) bool {
	return codec.ContainsAnyNALType(data, 5, 7, 8)
}
