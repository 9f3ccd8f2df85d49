package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 3)
	}
	return p
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec(nil, nil)

	tests := []struct {
		name string
		msg  router.Message
	}{
		{"empty payload", router.Message{Destination: "robot/BI:x", Source: "reply", Payload: nil}},
		{"one byte", router.Message{Destination: "BI:x", Source: "a/b/c", Payload: []byte{0xff}}},
		{"large payload", router.Message{Destination: "STR:video", Source: "", Payload: payloadOf(70000)}},
		{"no addresses", router.Message{Payload: []byte{1, 2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := codec.Encode(tt.msg)
			require.NoError(t, err)

			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Destination, decoded.Destination)
			assert.Equal(t, tt.msg.Source, decoded.Source)
			assert.True(t, bytes.Equal(tt.msg.Payload, decoded.Payload))
			assert.Len(t, decoded.Payload, len(tt.msg.Payload))
		})
	}
}

func TestCodec_BackToBackFrames(t *testing.T) {
	codec := NewCodec(nil, nil)
	var buf bytes.Buffer

	for i := 0; i < 5; i++ {
		require.NoError(t, codec.WriteFrame(&buf, router.Message{Destination: "t", Payload: []byte{byte(i)}}))
	}

	r := bufio.NewReader(&buf)
	for i := 0; i < 5; i++ {
		msg, err := codec.ReadFrame(r)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, msg.Payload)
	}

	_, err := codec.ReadFrame(r)
	require.Error(t, err)
	assert.True(t, meshErrors.IsStreamClosed(err))
	assert.True(t, meshErrors.IsTransport(err))
}

func TestCodec_TamperDetection(t *testing.T) {
	codec := NewCodec(nil, nil)
	msg := router.Message{Destination: "dst", Source: "src", Payload: payloadOf(300)}
	encoded, err := codec.Encode(msg)
	require.NoError(t, err)

	headerLen := 2 + len(msg.Destination) + 2 + len(msg.Source) + 4
	beginStart := headerLen
	payloadStart := beginStart + 8
	endStart := payloadStart + len(msg.Payload)

	var offsets []int
	for i := beginStart; i < payloadStart; i++ {
		offsets = append(offsets, i)
	}
	for i := payloadStart; i < endStart; i += 17 {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, endStart-1)
	for i := endStart; i < len(encoded); i++ {
		offsets = append(offsets, i)
	}

	for _, off := range offsets {
		for _, flip := range []byte{0x01, 0x80, 0xff} {
			tampered := bytes.Clone(encoded)
			tampered[off] ^= flip

			_, err := codec.Decode(tampered)
			require.Error(t, err, "offset %d flip %#x", off, flip)
			assert.ErrorIs(t, err, ErrChecksumMismatch)
			assert.True(t, meshErrors.IsProtocol(err))
		}
	}
}

func TestCodec_AddressTamperCaughtByHeader(t *testing.T) {
	codec := NewCodec(nil, nil)
	encoded, err := codec.Encode(router.Message{Destination: "abc", Source: "xyz", Payload: []byte{1}})
	require.NoError(t, err)

	encoded[3] ^= 0x04 // second byte of destination
	_, err = codec.Decode(encoded)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCodec_NegativeLengthRejected(t *testing.T) {
	codec := NewCodec(nil, nil)
	encoded, err := codec.Encode(router.Message{Payload: []byte{1}})
	require.NoError(t, err)

	encoded[4] = 0x80 // high byte of length
	_, err = codec.Decode(encoded)
	assert.ErrorIs(t, err, ErrNegativeLength)
	assert.True(t, meshErrors.IsProtocol(err))
}

func TestCodec_MaxPayload(t *testing.T) {
	codec := NewCodec(nil, nil)
	encoded, err := codec.Encode(router.Message{Payload: payloadOf(100)})
	require.NoError(t, err)

	codec.MaxPayload = 50
	_, err = codec.Decode(encoded)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestCodec_AddressTooLong(t *testing.T) {
	codec := NewCodec(nil, nil)
	_, err := codec.Encode(router.Message{Destination: string(make([]byte, 70000))})
	assert.ErrorIs(t, err, ErrAddressTooLong)
}

func TestCodec_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.NewLinkMetrics(reg)
	codec := NewCodec(nil, m)

	var buf bytes.Buffer
	require.NoError(t, codec.WriteFrame(&buf, router.Message{Payload: payloadOf(OversizeThreshold + 1)}))
	_, err := codec.ReadFrame(&buf)
	require.NoError(t, err)

	encoded, err := codec.Encode(router.Message{Payload: []byte{1}})
	require.NoError(t, err)
	encoded[len(encoded)-1] ^= 1
	_, err = codec.Decode(encoded)
	require.Error(t, err)

	out := scrape(t, reg)
	assert.Contains(t, out, "robomesh_link_frames_sent_total 1")
	assert.Contains(t, out, "robomesh_link_frames_received_total 1")
	assert.Contains(t, out, "robomesh_link_checksum_failures_total 1")
	assert.Contains(t, out, "robomesh_link_oversized_frames_total 2")
}

func TestChecksum_OrderSensitiveSeed(t *testing.T) {
	assert.NotEqual(t, BeginChecksum(4, "a", "b"), BeginChecksum(4, "b", "a"))
	assert.NotEqual(t, BeginChecksum(4, "a", "b"), BeginChecksum(5, "a", "b"))
	assert.Equal(t, int64(7), Checksum(nil, 7))
	assert.Equal(t, int64(43*7+2), Checksum([]byte{2}, 7))
}
