// Package codec adapts raw RTP payload bytes to and from H.264 Annex-B
// access units, and wires the GStreamer-backed encode/decode pipelines
// used by the capture and decode stages.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/ethan/screencaster/pkg/pipeline"
)

// NAL unit type numbers relevant to RFC 6184 depacketization.
const (
	NALUTypeIFrame = 5
	NALUTypeSPS    = 7
	NALUTypePPS    = 8
	NALUTypeSTAPA  = 24
	NALUTypeFUA    = 28
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264Depacketizer reconstructs Annex-B H.264 access units from
// payloaded RTP packets per RFC 6184. It gates emission on having seen
// an IDR (or an SPS+PPS pair) at least once since construction or the
// last Reset, because a decoder has no usable entry point before
// that.
type H264Depacketizer struct {
	buffer        []byte
	inFUAFragment bool
	seenIDR       bool
}

// NewH264Depacketizer returns a depacketizer armed to wait for the
// first keyframe.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{buffer: make([]byte, 0, 256*1024)}
}

// Push feeds one RTP payload (with its marker bit) into the
// depacketizer. It returns a complete access unit, and true, whenever
// the marker bit closes out a buffered access unit that is eligible
// for emission (post keyframe-gate).
func (d *H264Depacketizer) Push(payload []byte, marker bool) (pipeline.AccessUnit, bool) {
	if len(payload) == 0 {
		return pipeline.AccessUnit{}, false
	}

	naluType := payload[0] & 0x1F

	switch naluType {
	case NALUTypeFUA:
		d.pushFUA(payload)
	case NALUTypeSTAPA:
		d.pushSTAPA(payload)
	default:
		d.pushNAL(payload)
		d.inFUAFragment = false
	}

	if !marker {
		return pipeline.AccessUnit{}, false
	}
	return d.drainAU()
}

func (d *H264Depacketizer) pushFUA(payload []byte) {
	if len(payload) < 2 {
		return
	}
	fuIndicator := payload[0]
	fuHeader := payload[1]
	fragment := payload[2:]

	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1F

	if start {
		if d.inFUAFragment {
			// A new start arrived while a previous fragment was still
			// incomplete: discard it rather than glue the new NAL onto
			// its leftover bytes.
			d.buffer = d.buffer[:0]
		}
		header := (fuIndicator & 0xE0) | naluType
		d.pushNALHeader(header)
		d.inFUAFragment = true
	} else if !d.inFUAFragment {
		// Middle/end fragment with no prior start: drop it.
		return
	}

	d.buffer = append(d.buffer, fragment...)

	if end {
		d.inFUAFragment = false
	}
}

func (d *H264Depacketizer) pushSTAPA(payload []byte) {
	rest := payload[1:]
	for len(rest) > 2 {
		size := binary.BigEndian.Uint16(rest[:2])
		rest = rest[2:]
		if len(rest) < int(size) {
			return
		}
		nal := rest[:size]
		rest = rest[size:]
		d.pushNAL(nal)
	}
}

// pushNALHeader starts a fresh NAL in the buffer with an explicit
// reconstructed header byte (used for FU-A reassembly).
func (d *H264Depacketizer) pushNALHeader(header byte) {
	d.buffer = append(d.buffer, annexBStartCode...)
	d.buffer = append(d.buffer, header)
}

// pushNAL appends a complete NAL unit with its Annex-B start code.
func (d *H264Depacketizer) pushNAL(nal []byte) {
	d.buffer = append(d.buffer, annexBStartCode...)
	d.buffer = append(d.buffer, nal...)
}

// drainAU closes out the buffered access unit. If no IDR (or SPS+PPS)
// has ever been seen, the AU is discarded because a decoder attached
// downstream cannot use it as an entry point.
func (d *H264Depacketizer) drainAU() (pipeline.AccessUnit, bool) {
	data := d.buffer
	d.buffer = make([]byte, 0, 256*1024)
	d.inFUAFragment = false

	if len(data) == 0 {
		return pipeline.AccessUnit{}, false
	}

	if !d.seenIDR {
		if containsNALType(data, NALUTypeIFrame) || (containsNALType(data, NALUTypeSPS) && containsNALType(data, NALUTypePPS)) {
			d.seenIDR = true
		} else {
			return pipeline.AccessUnit{}, false
		}
	}

	return pipeline.AccessUnit{Data: data}, true
}

// Reset clears all buffered state and re-arms the keyframe gate.
func (d *H264Depacketizer) Reset() {
	d.buffer = d.buffer[:0]
	d.inFUAFragment = false
	d.seenIDR = false
}

// containsNALType scans an Annex-B byte stream for any NAL unit of the
// given type.
func containsNALType(data []byte, naluType byte) bool {
	for i := 0; i+4 <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			if i+4 < len(data) && data[i+4]&0x1F == naluType {
				return true
			}
		}
	}
	return false
}

// ContainsAnyNALType reports whether data contains a NAL unit matching
// any of the given types.
func ContainsAnyNALType(data []byte, types ...byte) bool {
	for _, t := range types {
		if containsNALType(data, t) {
			return true
		}
	}
	return false
}

// ExtractSPSPPS scans an Annex-B access unit for the first SPS and PPS
// NAL units, returning their raw bytes (without start code) for use as
// container extradata. It returns ok=false if either is missing.
func ExtractSPSPPS(data []byte) (sps, pps []byte, ok bool) {
	starts := findNALStarts(data)
	for i, start := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1] - 4
		}
		if start >= end {
			continue
		}
		naluType := data[start] & 0x1F
		switch naluType {
		case NALUTypeSPS:
			sps = append([]byte(nil), data[start:end]...)
		case NALUTypePPS:
			pps = append([]byte(nil), data[start:end]...)
		}
	}
	return sps, pps, sps != nil && pps != nil
}

// findNALStarts returns the byte offsets (just past each start code)
// of every NAL unit in an Annex-B stream.
func findNALStarts(data []byte) []int {
	var starts []int
	for i := 0; i+4 <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			starts = append(starts, i+4)
		}
	}
	return starts
}

// String aids debugging/logging call sites.
func (d *H264Depacketizer) String() string {
	return fmt.Sprintf("H264Depacketizer{buffered=%d seenIDR=%v}", len(d.buffer), d.seenIDR)
}
