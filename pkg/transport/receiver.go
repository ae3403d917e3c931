package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
	"github.com/pion/webrtc/v4"
)

// Receiver owns the local peer connection to the caster and dispatches
// inbound RTP packets to the reorder stage (video) or decode input
// (audio), keyed by track MIME type.
type Receiver struct {
	log        *logger.Logger
	pc         *webrtc.PeerConnection
	videoOut   chan<- pipeline.RtpPacket
	audioOut   chan<- pipeline.AudioFrame
	clock      *pipeline.MediaClock
}

// NewReceiver creates a peer connection registered for H.264/Opus and
// wires OnTrack to dispatch by MIME type.
func NewReceiver(iceServers []string, videoOut chan<- pipeline.RtpPacket, audioOut chan<- pipeline.AudioFrame, clock *pipeline.MediaClock, log *logger.Logger) (*Receiver, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register h264 codec: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	var ices []webrtc.ICEServer
	if len(iceServers) > 0 {
		ices = append(ices, webrtc.ICEServer{URLs: iceServers})
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ices})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	r := &Receiver{log: log, pc: pc, videoOut: videoOut, audioOut: audioOut, clock: clock}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		mime := track.Codec().MimeType
		switch {
		case strings.EqualFold(mime, webrtc.MimeTypeH264):
			r.readVideoTrack(track)
		case strings.EqualFold(mime, webrtc.MimeTypeOpus):
			r.readAudioTrack(track)
		}
	})

	return r, nil
}

// PeerConnection exposes the connection for signaling negotiation.
func (r *Receiver) PeerConnection() *webrtc.PeerConnection {
	return r.pc
}

func (r *Receiver) readVideoTrack(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.log.Debug("video track closed", "error", err)
			return
		}
		p := pipeline.RtpPacket{
			Payload:    pkt.Payload,
			Marker:     pkt.Marker,
			Sequence:   pkt.SequenceNumber,
			RTPTime:    pkt.Timestamp,
			ReceivedAt: r.clock.VideoNow(),
		}
		select {
		case r.videoOut <- p:
		default:
			r.log.Debug("video rtp channel full, packet dropped")
		}
	}
}

func (r *Receiver) readAudioTrack(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.log.Debug("audio track closed", "error", err)
			return
		}
		f := pipeline.AudioFrame{Data: pkt.Payload, PTS: r.clock.AudioNow()}
		select {
		case r.audioOut <- f:
		default:
			r.log.Debug("audio channel full, packet dropped")
		}
	}
}

// Close tears down the peer connection.
func (r *Receiver) Close(_ context.Context) error {
	return r.pc.Close()
}
