// Package transport owns the WebRTC transmitter and receiver: per-peer
// RTCP/ICE state, fan-out of encoded samples to every connected peer,
// and dispatch of inbound RTP packets to the reorder stage (video) or
// decode input (audio) keyed by track MIME type.
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// PeerLifecycle enumerates the states a peer connection moves through.
type PeerLifecycle int

const (
	PeerConnecting PeerLifecycle = iota
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

// LifecycleEvent is published on a shared channel rather than through
// a back-pointer into the transmitter, so peers never hold a
// reference to the table that owns them.
type LifecycleEvent struct {
	PeerID string
	State  PeerLifecycle
}

// Peer owns one WebRTC peer connection's media tracks and RTCP
// readers. It never reaches back into the Transmitter; lifecycle
// changes are pushed onto Events for the transmitter to drain.
type Peer struct {
	ID     string
	log    *logger.Logger
	pc     *webrtc.PeerConnection
	events chan<- LifecycleEvent

	videoTrack *webrtc.TrackLocalStaticRTP
	audioTrack *webrtc.TrackLocalStaticRTP

	h264Payloader *codecs.H264Payloader
	videoSeqNum   atomic.Uint32
	audioSeqNum   atomic.Uint32

	forceIDR *atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connStateMu sync.RWMutex
	connState   webrtc.PeerConnectionState
}

// NewPeer builds the RTCP-registered media engine, peer connection,
// and local video/audio tracks for one remote peer. forceIDR is the
// shared flag the encoder consumes; a PLI/FIR from this peer sets it.
func NewPeer(ctx context.Context, id string, iceServers []string, forceIDR *atomic.Bool, events chan<- LifecycleEvent, log *logger.Logger) (*Peer, error) {
	pctx, cancel := context.WithCancel(ctx)

	p := &Peer{
		ID:            id,
		log:           log.With("peer", id),
		events:        events,
		h264Payloader: &codecs.H264Payloader{},
		forceIDR:      forceIDR,
		ctx:           pctx,
		cancel:        cancel,
		connState:     webrtc.PeerConnectionStateNew,
	}
	p.videoSeqNum.Store(uint32(time.Now().UnixNano()) & 0xFFFF)

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 96,
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
		cancel()
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	p.pc = pc

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.connStateMu.Lock()
		p.connState = state
		p.connStateMu.Unlock()
		p.log.Info("peer connection state changed", "state", state.String())

		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.publish(PeerConnected)
		case webrtc.PeerConnectionStateDisconnected:
			p.publish(PeerDisconnected)
		case webrtc.PeerConnectionStateFailed:
			p.publish(PeerFailed)
		case webrtc.PeerConnectionStateClosed:
			p.publish(PeerClosed)
		}
	})

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}, "video", "screencaster")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create video track: %w", err)
	}
	p.videoTrack = videoTrack
	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "screencaster")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	p.audioTrack = audioTrack
	audioSender, err := pc.AddTrack(audioTrack)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	p.startRTCPReader(videoSender, "video")
	p.startRTCPReader(audioSender, "audio")

	return p, nil
}

func (p *Peer) publish(state PeerLifecycle) {
	select {
	case p.events <- LifecycleEvent{PeerID: p.ID, State: state}:
	default:
		p.log.Warn("lifecycle event dropped, events channel full", "state", state)
	}
}

// PeerConnection exposes the underlying connection for offer/answer
// negotiation performed by the signaling layer.
func (p *Peer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

// ConnectionState returns the cached connection state without
// blocking on pc.ConnectionState().
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.connStateMu.RLock()
	defer p.connStateMu.RUnlock()
	return p.connState
}

// WriteVideoSample fragments one Annex-B-free raw H.264 NAL payload
// set into MTU-sized RTP packets and writes them non-blocking; marker
// is set on the last packet of the last NAL unit.
func (p *Peer) WriteVideoSample(nalus [][]byte, rtpTimestamp uint32) error {
	const mtu = 1200
	seq := uint16(p.videoSeqNum.Load())

	for naluIdx, nalu := range nalus {
		payloads := p.h264Payloader.Payload(mtu, nalu)
		for i, payload := range payloads {
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    96,
					SequenceNumber: seq,
					Timestamp:      rtpTimestamp,
					Marker:         naluIdx == len(nalus)-1 && i == len(payloads)-1,
				},
				Payload: payload,
			}
			if err := p.videoTrack.WriteRTP(pkt); err != nil {
				if err == io.ErrClosedPipe {
					return nil
				}
				return fmt.Errorf("write video rtp: %w", err)
			}
			seq++
		}
	}
	p.videoSeqNum.Store(uint32(seq))
	return nil
}

// WriteAudioSample writes one Opus packet as a single RTP packet.
func (p *Peer) WriteAudioSample(data []byte, rtpTimestamp uint32) error {
	seq := uint16(p.audioSeqNum.Load())
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: seq,
			Timestamp:      rtpTimestamp,
		},
		Payload: data,
	}
	p.audioSeqNum.Store(uint32(seq + 1))
	if err := p.audioTrack.WriteRTP(pkt); err != nil {
		if err == io.ErrClosedPipe {
			return nil
		}
		return fmt.Errorf("write audio rtp: %w", err)
	}
	return nil
}

func (p *Peer) startRTCPReader(sender *webrtc.RTPSender, trackType string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.readRTCP(sender, trackType)
	}()
}

var lastIDRRequest atomic.Int64

// readRTCP handles PLI/FIR by requesting an IDR from the shared
// encoder flag, rate-limited to once per 200ms across all peers so a
// thundering herd of keyframe requests does not stall the encoder.
func (p *Peer) readRTCP(sender *webrtc.RTPSender, trackType string) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			select {
			case <-p.ctx.Done():
				return
			default:
				if err == io.EOF || err == io.ErrClosedPipe {
					return
				}
				p.log.Error("rtcp read error", "track", trackType, "error", err)
				return
			}
		}

		for _, pkt := range packets {
			switch v := pkt.(type) {
			case *rtcp.PictureLossIndication:
				p.requestIDR("PLI", v.MediaSSRC)
			case *rtcp.FullIntraRequest:
				p.requestIDR("FIR", v.MediaSSRC)
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				p.log.Debug("remb received", "track", trackType, "bitrate_bps", v.Bitrate)
			case *rtcp.ReceiverReport:
				p.log.Debug("receiver report", "track", trackType, "reports", len(v.Reports))
			}
		}
	}
}

func (p *Peer) requestIDR(kind string, ssrc uint32) {
	now := time.Now().UnixMilli()
	last := lastIDRRequest.Load()
	if now-last < 200 {
		return
	}
	if lastIDRRequest.CompareAndSwap(last, now) {
		p.forceIDR.Store(true)
		p.log.Warn("keyframe requested", "via", kind, "ssrc", ssrc)
	}
}

// Close tears down the peer connection and waits for its RTCP readers
// to exit.
func (p *Peer) Close() error {
	p.cancel()
	p.wg.Wait()
	if p.pc != nil {
		return p.pc.Close()
	}
	return nil
}
