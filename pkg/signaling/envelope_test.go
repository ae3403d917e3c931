package signaling

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	desc := SessionDescription{Type: "offer", SDP: "v=0\r\no=- 123 2 IN IP4 127.0.0.1\r\n"}

	encoded, err := Pack(desc)
	require.NoError(t, err)

	got, err := Unpack(encoded)
	require.NoError(t, err)
	assert.Equal(t, desc, got)
}

func TestUnpackRejectsCorruptedChecksum(t *testing.T) {
	desc := SessionDescription{Type: "answer", SDP: "v=0\r\n"}
	encoded, err := Pack(desc)
	require.NoError(t, err)

	framed, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	framed[len(framed)-1] ^= 0xFF
	_, err = Unpack(base64.StdEncoding.EncodeToString(framed))
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestUnpackRejectsTruncatedPayload(t *testing.T) {
	_, err := Unpack("YQ==")
	assert.Error(t, err)
}
