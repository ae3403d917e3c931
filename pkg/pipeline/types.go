package pipeline

import "fmt"

// RawFrame is an NV12 frame produced by the capturer and consumed by
// the encoder: a full-size luminance plane and a half-size
// interleaved chrominance plane. Width and height are always even.
type RawFrame struct {
	Width, Height int
	Luma          []byte
	LumaStride    int
	Chroma        []byte
	ChromaStride  int
}

// EncodedFrame is H.264 Annex-B data produced by the encoder and
// consumed by the transmitter and the recorder.
type EncodedFrame struct {
	Data          []byte
	PTS           Timestamp
	DTS           Timestamp
	CorrelationID uint64
	IsKeyframe    bool
	Width, Height int
}

// RtpPacket is one inbound RTP packet, produced by the WebRTC
// receiver and consumed by the reorder stage.
type RtpPacket struct {
	Payload    []byte
	Marker     bool
	Sequence   uint16
	RTPTime    uint32
	ReceivedAt Timestamp
}

// AccessUnit is a complete Annex-B NAL sequence terminated by a
// marker-bit packet, produced by the depacketizer and consumed by the
// decoder.
type AccessUnit struct {
	Data []byte
}

// VideoFrame is a decoded YUV420p frame with stride padding stripped,
// produced by the decoder and consumed by the sync stage / render
// sink.
type VideoFrame struct {
	Width, Height int
	Y, U, V       []byte
}

// TimedVideoFrame is a VideoFrame stamped with presentation data by
// the decode stage for consumption by the sync stage.
type TimedVideoFrame struct {
	Frame         VideoFrame
	PTS           Timestamp
	CorrelationID uint64
	IsKeyframe    bool
}

// AudioFrame is an encoded Opus packet with a timestamp, produced by
// the audio capturer (sender side) or the WebRTC receiver (receiver
// side).
type AudioFrame struct {
	Data []byte
	PTS  Timestamp
}

// SaveKind tags the payload carried by a SavePacket.
type SaveKind int

const (
	SaveVideo SaveKind = iota
	SaveAudio
)

// SavePacket is the tagged union the recorder consumes from both
// inbound lanes.
type SavePacket struct {
	Kind   SaveKind
	Data   []byte
	TSMicros int64
}

func (p SavePacket) String() string {
	kind := "video"
	if p.Kind == SaveAudio {
		kind = "audio"
	}
	return fmt.Sprintf("SavePacket{%s, %d bytes, ts=%dus}", kind, len(p.Data), p.TSMicros)
}

// CropRect is a physical-pixel crop rectangle. Width and height are
// rounded up to even before being applied to the encoder.
type CropRect struct {
	X, Y, W, H int
}

// Even returns c with W and H rounded up to the nearest even value.
func (c CropRect) Even() CropRect {
	c.W = c.W + c.W%2
	c.H = c.H + c.H%2
	return c
}

// CaptureOpts is the watched runtime configuration for the capture
// loop: single writer (the coordinator, on behalf of the UI), many
// readers (capture loops).
type CaptureOpts struct {
	BlankScreen bool
	Crop        *CropRect
	Paused      bool
	MaxFPS      uint32
}

// DefaultCaptureOpts returns the baseline configuration: not blank, no
// crop, not paused, 30 fps ceiling.
func DefaultCaptureOpts() CaptureOpts {
	return CaptureOpts{MaxFPS: 30}
}
