package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHandshakeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		phoneNumber := rapid.Uint16().Draw(t, "phoneNumber")

		payload := EncodeHandshake(phoneNumber)
		frame := Encode(HandshakeRequest, payload)

		var dec Decoder
		dec.Feed(frame)
		got, ok := dec.Next()
		require.True(t, ok)
		assert.Equal(t, uint8(HandshakeRequest), got.ID)

		hs, err := DecodeHandshake(got.Payload)
		require.NoError(t, err)
		assert.Equal(t, phoneNumber, hs.PhoneNumber)
		assert.Equal(t, Magic, hs.Magic)
	})
}

func TestCallMessageRoundTrips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.Uint16().Draw(t, "from")
		to := rapid.Uint16().Draw(t, "to")

		frame := Encode(CallRequest, EncodeCallRequest(from, to))
		var dec Decoder
		dec.Feed(frame)
		got, ok := dec.Next()
		require.True(t, ok)

		req, err := DecodeCallRequest(got.Payload)
		require.NoError(t, err)
		assert.Equal(t, from, req.From)
		assert.Equal(t, to, req.To)
	})
}

func TestDecoderResyncsOnUnknownID(t *testing.T) {
	// A bogus byte sequence that looks like a start byte followed by
	// garbage must not desynchronise the decoder from a valid frame that
	// follows it.
	garbage := []byte{StartByte, 0xFF, 0xFF, 0xFF}
	valid := Encode(CallResponse, EncodeCallResponse(9090))

	var dec Decoder
	dec.Feed(append(garbage, valid...))

	frame, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, uint8(CallResponse), frame.ID)

	port, err := DecodeCallResponse(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(9090), port)
}

func TestDecoderWaitsOnPartialFrame(t *testing.T) {
	full := Encode(TerminateCall, EncodeTerminateCall(CallPutdown))

	var dec Decoder
	dec.Feed(full[:len(full)-1])
	_, ok := dec.Next()
	assert.False(t, ok)

	dec.Feed(full[len(full)-1:])
	frame, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, uint8(TerminateCall), frame.ID)
}

func TestDecoderHandlesBackToBackFrames(t *testing.T) {
	a := Encode(IncomingResponse, EncodeIncomingResponse(5))
	b := Encode(ClientTerminateCall, EncodeClientTerminateCall(CallPutdown, 6))

	var dec Decoder
	dec.Feed(append(a, b...))

	f1, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, uint8(IncomingResponse), f1.ID)

	f2, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, uint8(ClientTerminateCall), f2.ID)

	_, ok = dec.Next()
	assert.False(t, ok)
}
