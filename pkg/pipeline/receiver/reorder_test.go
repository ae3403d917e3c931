package receiver

import (
	"testing"
	"time"

	"github.com/ethan/screencaster/pkg/pipeline"
	"github.com/stretchr/testify/assert"
)

func pkt(seq uint16) pipeline.RtpPacket {
	return pipeline.RtpPacket{Sequence: seq}
}

func TestJitterBufferInOrderDelivery(t *testing.T) {
	cfg := ReorderConfig{JitterDelay: 10 * time.Millisecond, MaxBufferSize: 100, MaxReorderDistance: 60}
	jb := NewJitterBuffer(cfg)

	for seq := uint16(100); seq <= 105; seq++ {
		jb.Insert(pkt(seq))
	}
	time.Sleep(15 * time.Millisecond)

	out := jb.DrainReady()
	assert.Len(t, out, 6)
	for i, p := range out {
		assert.Equal(t, uint16(100+i), p.Sequence)
	}
}

func TestJitterBufferOutOfOrderWithinWindow(t *testing.T) {
	cfg := ReorderConfig{JitterDelay: 10 * time.Millisecond, MaxBufferSize: 100, MaxReorderDistance: 60}
	jb := NewJitterBuffer(cfg)

	jb.Insert(pkt(10))
	jb.Insert(pkt(12))
	jb.Insert(pkt(11))
	jb.Insert(pkt(13))
	time.Sleep(15 * time.Millisecond)

	out := jb.DrainReady()
	seqs := make([]uint16, len(out))
	for i, p := range out {
		seqs[i] = p.Sequence
	}
	assert.Equal(t, []uint16{10, 11, 12, 13}, seqs)
}

func TestJitterBufferGapWithTimeout(t *testing.T) {
	cfg := ReorderConfig{JitterDelay: 50 * time.Millisecond, MaxBufferSize: 100, MaxReorderDistance: 60}
	jb := NewJitterBuffer(cfg)

	jb.Insert(pkt(10))
	jb.Insert(pkt(12))

	time.Sleep(60 * time.Millisecond)
	out := jb.DrainReady()
	seqs := []uint16{}
	for _, p := range out {
		seqs = append(seqs, p.Sequence)
	}
	assert.Contains(t, seqs, uint16(10))

	time.Sleep(60 * time.Millisecond)
	out = jb.DrainReady()
	for _, p := range out {
		seqs = append(seqs, p.Sequence)
	}
	assert.Contains(t, seqs, uint16(12))
	assert.Equal(t, uint64(1), jb.Stats().Lost)
}

func TestJitterBufferSequenceWrap(t *testing.T) {
	cfg := ReorderConfig{JitterDelay: 10 * time.Millisecond, MaxBufferSize: 100, MaxReorderDistance: 60}
	jb := NewJitterBuffer(cfg)

	jb.Insert(pkt(65535))
	jb.Insert(pkt(0))
	time.Sleep(15 * time.Millisecond)

	out := jb.DrainReady()
	assert.Len(t, out, 2)
	assert.Equal(t, uint16(65535), out[0].Sequence)
	assert.Equal(t, uint16(0), out[1].Sequence)
}

func TestJitterBufferDuplicatesEmittedOnce(t *testing.T) {
	cfg := DefaultReorderConfig()
	cfg.JitterDelay = 5 * time.Millisecond
	jb := NewJitterBuffer(cfg)

	jb.Insert(pkt(5))
	jb.Insert(pkt(5))
	jb.Insert(pkt(5))

	assert.Equal(t, uint64(2), jb.Stats().Duplicates)

	time.Sleep(10 * time.Millisecond)
	out := jb.DrainReady()
	assert.Len(t, out, 1)
}

func TestJitterBufferOverflowEviction(t *testing.T) {
	cfg := ReorderConfig{JitterDelay: time.Hour, MaxBufferSize: 10, MaxReorderDistance: 5}
	jb := NewJitterBuffer(cfg)

	jb.Insert(pkt(0))
	for seq := uint16(1); seq < 20; seq++ {
		jb.Insert(pkt(seq))
	}

	assert.LessOrEqual(t, len(jb.packets), cfg.MaxBufferSize)
}

func TestJitterBufferDrainAllOnShutdown(t *testing.T) {
	cfg := ReorderConfig{JitterDelay: time.Hour, MaxBufferSize: 100, MaxReorderDistance: 60}
	jb := NewJitterBuffer(cfg)

	jb.Insert(pkt(1))
	jb.Insert(pkt(2))
	jb.Insert(pkt(3))

	out := jb.DrainAll()
	assert.Len(t, out, 3)
}
