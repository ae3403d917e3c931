// Package receiver implements the receiver-side pipeline stages: the
// jitter buffer (reorder stage) and the A/V sync stage.
package receiver

import (
	"context"
	"sort"
	"time"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

// ReorderConfig configures the jitter buffer.
type ReorderConfig struct {
	JitterDelay       time.Duration
	MaxBufferSize     int
	MaxReorderDistance uint16
}

// DefaultReorderConfig matches the recommended 150ms jitter delay.
func DefaultReorderConfig() ReorderConfig {
	return ReorderConfig{
		JitterDelay:        150 * time.Millisecond,
		MaxBufferSize:      400,
		MaxReorderDistance: 60,
	}
}

type bufferedPacket struct {
	packet    pipeline.RtpPacket
	bufferedAt time.Time
}

// JitterStats is a snapshot of jitter-buffer counters, logged
// periodically by ReorderStage.
type JitterStats struct {
	Released   uint64
	Lost       uint64
	Duplicates uint64
	Evicted    uint64
	Buffered   int
}

// JitterBuffer absorbs network reordering and emits packets in
// strictly ascending sequence-number order (wrap-around aware) after a
// configurable holdoff.
type JitterBuffer struct {
	cfg      ReorderConfig
	packets  []bufferedPacket
	expected uint16
	hasExpected bool

	stats JitterStats
}

// NewJitterBuffer creates an empty buffer using cfg.
func NewJitterBuffer(cfg ReorderConfig) *JitterBuffer {
	return &JitterBuffer{cfg: cfg}
}

// seqComesAfter reports whether a comes strictly after b in wrap-around
// 16-bit sequence space.
func seqComesAfter(a, b uint16) bool {
	diff := a - b
	return diff != 0 && diff < 0x8000
}

// Insert adds a packet to the buffer. Duplicates are rejected.
func (j *JitterBuffer) Insert(p pipeline.RtpPacket) {
	if !j.hasExpected {
		j.expected = p.Sequence
		j.hasExpected = true
	}

	for _, existing := range j.packets {
		if existing.packet.Sequence == p.Sequence {
			j.stats.Duplicates++
			return
		}
	}

	// If the new sequence precedes expected, revise expected downward
	// so we don't permanently skip it.
	if p.Sequence != j.expected && !seqComesAfter(p.Sequence, j.expected) {
		j.expected = p.Sequence
	}

	entry := bufferedPacket{packet: p, bufferedAt: time.Now()}
	idx := sort.Search(len(j.packets), func(i int) bool {
		return seqComesAfter(j.packets[i].packet.Sequence, p.Sequence) || j.packets[i].packet.Sequence == p.Sequence
	})
	j.packets = append(j.packets, bufferedPacket{})
	copy(j.packets[idx+1:], j.packets[idx:])
	j.packets[idx] = entry

	if len(j.packets) > j.cfg.MaxBufferSize {
		j.evictStale()
	}
}

// evictStale drops packets too far from expected; if the buffer is
// still oversized afterward, expected fast-forwards to the front of
// the buffer so the receiver makes progress instead of growing
// unbounded.
func (j *JitterBuffer) evictStale() {
	kept := j.packets[:0]
	for _, bp := range j.packets {
		dist := bp.packet.Sequence - j.expected
		if dist >= j.cfg.MaxReorderDistance && dist < 0x8000 {
			j.stats.Evicted++
			continue
		}
		kept = append(kept, bp)
	}
	j.packets = kept

	if len(j.packets) > j.cfg.MaxBufferSize && len(j.packets) > 0 {
		j.expected = j.packets[0].packet.Sequence
	}
}

// DrainReady releases every packet at the front of the buffer that
// matches expected and has aged at least JitterDelay, or whose
// declared-lost timeout (2x JitterDelay) has elapsed.
func (j *JitterBuffer) DrainReady() []pipeline.RtpPacket {
	var out []pipeline.RtpPacket
	now := time.Now()

	for {
		if len(j.packets) == 0 {
			break
		}
		front := j.packets[0]

		if front.packet.Sequence == j.expected {
			if now.Sub(front.bufferedAt) < j.cfg.JitterDelay {
				break
			}
			out = append(out, front.packet)
			j.packets = j.packets[1:]
			j.expected++
			j.stats.Released++
			continue
		}

		if now.Sub(front.bufferedAt) > 2*j.cfg.JitterDelay {
			j.stats.Lost++
			j.expected++
			continue
		}

		break
	}

	return out
}

// DrainAll releases every remaining buffered packet in sequence order,
// used on input-channel close.
func (j *JitterBuffer) DrainAll() []pipeline.RtpPacket {
	out := make([]pipeline.RtpPacket, 0, len(j.packets))
	for _, bp := range j.packets {
		out = append(out, bp.packet)
		j.stats.Released++
	}
	j.packets = nil
	return out
}

// Stats returns a snapshot of the buffer's counters.
func (j *JitterBuffer) Stats() JitterStats {
	s := j.stats
	s.Buffered = len(j.packets)
	return s
}

// ReorderStage runs a JitterBuffer as a pipeline stage: it drains the
// input channel, inserts into the buffer, and periodically (every 5ms)
// flushes ready packets downstream — matching the sync stage's tick
// cadence so the two stages stay lockstep under load.
type ReorderStage struct {
	buffer *JitterBuffer
	in     <-chan pipeline.RtpPacket
	out    chan<- pipeline.RtpPacket
	health *pipeline.Health
	log    *logger.Logger
}

// NewReorderStage wires a stage reading in, writing to out, recording
// drop/loss counters on health.
func NewReorderStage(cfg ReorderConfig, in <-chan pipeline.RtpPacket, out chan<- pipeline.RtpPacket, health *pipeline.Health, log *logger.Logger) *ReorderStage {
	return &ReorderStage{
		buffer: NewJitterBuffer(cfg),
		in:     in,
		out:    out,
		health: health,
		log:    log,
	}
}

// Run blocks until ctx is canceled or the input channel closes.
func (s *ReorderStage) Run(ctx context.Context) {
	drainTicker := time.NewTicker(5 * time.Millisecond)
	defer drainTicker.Stop()
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case p, ok := <-s.in:
			if !ok {
				s.flush()
				return
			}
			s.buffer.Insert(p)
		case <-drainTicker.C:
			s.release(s.buffer.DrainReady())
		case <-statsTicker.C:
			st := s.buffer.Stats()
			s.log.Info("jitter buffer stats", "released", st.Released, "lost", st.Lost, "duplicates", st.Duplicates, "evicted", st.Evicted, "buffered", st.Buffered)
		}
	}
}

func (s *ReorderStage) flush() {
	s.release(s.buffer.DrainAll())
}

func (s *ReorderStage) release(packets []pipeline.RtpPacket) {
	for _, p := range packets {
		select {
		case s.out <- p:
		default:
			s.health.RecordFrameDrop()
		}
	}
}
