// Package signaling implements offer/answer exchange: an HTTP server
// for the common case, and a manual copy/paste envelope (JSON -> gzip
// -> CRC16 -> base64) for the case where no direct HTTP path exists
// between caster and receiver.
package signaling

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sigurn/crc16"
)

// SessionDescription mirrors the subset of webrtc.SessionDescription
// needed for manual exchange, kept decoupled from pion's type so this
// package has no WebRTC import.
type SessionDescription struct {
	Type           string   `json:"type"`
	SDP            string   `json:"sdp"`
	ICECandidates  []string `json:"ice_candidates,omitempty"`
}

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Pack serializes desc to JSON, gzips it, appends a CRC16 of the
// compressed payload, and base64-encodes the result for copy/paste
// transport.
func Pack(desc SessionDescription) (string, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("marshal session description: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return "", fmt.Errorf("gzip session description: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("close gzip writer: %w", err)
	}

	compressed := buf.Bytes()
	checksum := crc16.Checksum(compressed, crcTable)

	framed := make([]byte, len(compressed)+2)
	copy(framed, compressed)
	binary.BigEndian.PutUint16(framed[len(compressed):], checksum)

	return base64.StdEncoding.EncodeToString(framed), nil
}

// Unpack reverses Pack, verifying the CRC16 before decompressing and
// unmarshaling. It satisfies pack(unpack(x)) == x for any valid x.
func Unpack(encoded string) (SessionDescription, error) {
	framed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("base64 decode: %w", err)
	}
	if len(framed) < 2 {
		return SessionDescription{}, fmt.Errorf("payload too short to contain a checksum")
	}

	compressed := framed[:len(framed)-2]
	wantChecksum := binary.BigEndian.Uint16(framed[len(framed)-2:])
	gotChecksum := crc16.Checksum(compressed, crcTable)
	if gotChecksum != wantChecksum {
		return SessionDescription{}, fmt.Errorf("checksum mismatch: got %04x want %04x", gotChecksum, wantChecksum)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return SessionDescription{}, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("decompress: %w", err)
	}

	var desc SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return SessionDescription{}, fmt.Errorf("unmarshal session description: %w", err)
	}
	return desc, nil
}
