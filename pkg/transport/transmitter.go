package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

// Transmitter owns the peer table and fans out encoded samples to
// every connected peer. It never holds a back-pointer from Peer; each
// Peer instead publishes lifecycle changes onto a shared channel that
// the transmitter drains once per fan-out iteration, per the
// message-passing re-architecture of the source's cyclic transmitter/
// peer relationship.
type Transmitter struct {
	log      *logger.Logger
	health   *pipeline.Health
	forceIDR atomic.Bool

	mu    sync.RWMutex
	peers map[string]*Peer

	events chan LifecycleEvent

	videoIn <-chan pipeline.EncodedFrame
	audioIn <-chan pipeline.AudioFrame
}

// NewTransmitter wires a transmitter reading encoded video/audio
// frames from videoIn/audioIn and fanning them out to all registered
// peers.
func NewTransmitter(videoIn <-chan pipeline.EncodedFrame, audioIn <-chan pipeline.AudioFrame, health *pipeline.Health, log *logger.Logger) *Transmitter {
	return &Transmitter{
		log:     log,
		health:  health,
		peers:   make(map[string]*Peer),
		events:  make(chan LifecycleEvent, 32),
		videoIn: videoIn,
		audioIn: audioIn,
	}
}

// ForceIDR returns the atomic flag consumed (swap-false) by the
// encoder. Any peer receiving a PLI/FIR sets it.
func (t *Transmitter) ForceIDR() *atomic.Bool {
	return &t.forceIDR
}

// AddPeer registers a newly negotiated peer for fan-out. A peer joining
// mid-GOP has no usable decoder entry point until the next keyframe, so
// joining forces one rather than waiting out key-int-max.
func (t *Transmitter) AddPeer(p *Peer) {
	t.mu.Lock()
	t.peers[p.ID] = p
	t.mu.Unlock()
	t.forceIDR.Store(true)
}

// RemovePeer closes and unregisters a peer.
func (t *Transmitter) RemovePeer(id string) {
	t.mu.Lock()
	p, ok := t.peers[id]
	delete(t.peers, id)
	t.mu.Unlock()
	if ok {
		_ = p.Close()
	}
}

// PeerCount returns the number of currently registered peers.
func (t *Transmitter) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Run fans out video and audio frames until ctx is canceled or both
// input channels close. Lifecycle events are drained every iteration
// so a peer that just failed is dropped before the next frame reaches
// it.
func (t *Transmitter) Run(ctx context.Context) {
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-t.events:
			if !ok {
				continue
			}
			t.handleLifecycle(ev)

		case f, ok := <-t.videoIn:
			if !ok {
				t.videoIn = nil
				if t.audioIn == nil {
					return
				}
				continue
			}
			t.drainEvents()
			t.fanOutVideo(f)

		case f, ok := <-t.audioIn:
			if !ok {
				t.audioIn = nil
				if t.videoIn == nil {
					return
				}
				continue
			}
			t.drainEvents()
			t.fanOutAudio(f)

		case <-statsTicker.C:
			t.log.Info("transmitter stats", "peers", t.PeerCount())
		}
	}
}

// Events returns the channel peers publish lifecycle changes to; used
// when constructing new Peer instances via NewPeer.
func (t *Transmitter) Events() chan<- LifecycleEvent {
	return t.events
}

func (t *Transmitter) drainEvents() {
	for {
		select {
		case ev := <-t.events:
			t.handleLifecycle(ev)
		default:
			return
		}
	}
}

func (t *Transmitter) handleLifecycle(ev LifecycleEvent) {
	switch ev.State {
	case PeerDisconnected, PeerFailed, PeerClosed:
		t.log.Info("dropping peer from fan-out", "peer", ev.PeerID, "state", ev.State)
		t.RemovePeer(ev.PeerID)
	}
}

func (t *Transmitter) fanOutVideo(f pipeline.EncodedFrame) {
	nalus := splitAnnexB(f.Data)
	rtpTS := uint32(f.PTS.Micros() * 90000 / 1_000_000)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, p := range t.peers {
		if err := p.WriteVideoSample(nalus, rtpTS); err != nil {
			t.log.Warn("video write failed, peer unaffected others", "peer", id, "error", err)
			t.health.RecordNetworkError()
		}
	}
	t.health.RecordFrame(len(f.Data), f.IsKeyframe)
}

func (t *Transmitter) fanOutAudio(f pipeline.AudioFrame) {
	rtpTS := uint32(f.PTS.Micros() * 48000 / 1_000_000)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, p := range t.peers {
		if err := p.WriteAudioSample(f.Data, rtpTS); err != nil {
			t.log.Warn("audio write failed, peer unaffected others", "peer", id, "error", err)
			t.health.RecordNetworkError()
		}
	}
}

// splitAnnexB splits an Annex-B byte stream into individual NAL units
// (without start codes), for payloading by the H.264 RTP packetizer.
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	starts := []int{}
	for i := 0; i+4 <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			starts = append(starts, i+4)
		}
	}
	for i, s := range starts {
		e := len(data)
		if i+1 < len(starts) {
			e = starts[i+1] - 4
		}
		if s < e {
			nalus = append(nalus, data[s:e])
		}
	}
	return nalus
}
