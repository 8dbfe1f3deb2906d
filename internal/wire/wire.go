// Package wire implements the client-exchange signalling codec described by
// the intercom wire protocol: a one-byte start marker, a one-byte payload
// length, a one-byte message id, and the payload itself.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// StartByte marks the beginning of a message_wrapper frame.
const StartByte = 0xAA

// Message ids.
const (
	HandshakeRequest     = 1
	HandshakeResponse    = 2
	CallRequest          = 10
	CallResponse         = 11
	IncomingCall         = 12
	IncomingResponse     = 13
	TerminateCall        = 20
	ClientTerminateCall  = 21
)

// Terminate codes carried by TerminateCall / ClientTerminateCall.
const (
	CallPutdown = 1
	ServerError = 2
)

// Magic is the 4-byte handshake magic, "bro\0".
var Magic = [4]byte{'b', 'r', 'o', 0}

var (
	// ErrShortFrame is returned when a payload is too short for its message id.
	ErrShortFrame = errors.New("wire: payload too short")
	// ErrBadMagic is returned when a handshake payload's magic does not match.
	ErrBadMagic = errors.New("wire: bad handshake magic")
	// ErrUnknownID is returned when decoding an id this package does not know.
	ErrUnknownID = errors.New("wire: unknown message id")
)

// payloadLen gives the exact payload length expected for each known message
// id. A frame whose declared length disagrees is treated as a protocol
// error per the decoder resync rule, not a short-frame error.
var payloadLen = map[uint8]int{
	HandshakeRequest:    6,
	HandshakeResponse:   6,
	CallRequest:         4,
	CallResponse:        2,
	IncomingCall:        4,
	IncomingResponse:    2,
	TerminateCall:       1,
	ClientTerminateCall: 3,
}

// Frame is one decoded message_wrapper: an id and its raw payload.
type Frame struct {
	ID      uint8
	Payload []byte
}

// Encode wraps payload in a message_wrapper frame for the given id. The
// caller is responsible for passing a payload of the correct length for id;
// Encode does not validate against payloadLen so that tests can construct
// deliberately malformed frames.
func Encode(id uint8, payload []byte) []byte {
	out := make([]byte, 3+len(payload))
	out[0] = StartByte
	out[1] = byte(len(payload))
	out[2] = id
	copy(out[3:], payload)
	return out
}

// Decoder incrementally reassembles frames out of a byte stream, preserving
// any unread prefix across calls to Feed.
type Decoder struct {
	buf []byte
}

// Feed appends newly-read bytes to the decoder's internal buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next extracts the next well-formed frame from the buffered stream. It
// scans for StartByte, and when the declared length or id is not one this
// package recognises, it discards exactly one byte (the start marker) and
// resumes scanning from the next position — it never skips a full
// (possibly bogus) frame. If the buffer ends mid-frame, the unread prefix
// is preserved for the next Feed/Next round and Next returns ok=false.
func (d *Decoder) Next() (Frame, bool) {
	for {
		idx := bytes.IndexByte(d.buf, StartByte)
		if idx == -1 {
			d.buf = d.buf[:0]
			return Frame{}, false
		}
		if idx > 0 {
			d.buf = d.buf[idx:]
		}

		if len(d.buf) < 3 {
			return Frame{}, false
		}

		length := d.buf[1]
		id := d.buf[2]

		want, known := payloadLen[id]
		if !known || int(length) != want {
			// Invalid id/length for this declared message: drop the start
			// byte only, and rescan from the next byte.
			d.buf = d.buf[1:]
			continue
		}

		total := 3 + int(length)
		if len(d.buf) < total {
			return Frame{}, false
		}

		payload := make([]byte, length)
		copy(payload, d.buf[3:total])
		d.buf = d.buf[total:]
		return Frame{ID: id, Payload: payload}, true
	}
}

// Handshake is the payload of HANDSHAKE_REQUEST / HANDSHAKE_RESPONSE.
type Handshake struct {
	PhoneNumber uint16
	Magic       [4]byte
}

// EncodeHandshake builds the payload for HANDSHAKE_REQUEST/RESPONSE.
func EncodeHandshake(phoneNumber uint16) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], phoneNumber)
	copy(buf[2:6], Magic[:])
	return buf
}

// DecodeHandshake parses a HANDSHAKE_REQUEST/RESPONSE payload.
func DecodeHandshake(payload []byte) (Handshake, error) {
	if len(payload) < 6 {
		return Handshake{}, ErrShortFrame
	}
	var h Handshake
	h.PhoneNumber = binary.BigEndian.Uint16(payload[0:2])
	copy(h.Magic[:], payload[2:6])
	if h.Magic != Magic {
		return Handshake{}, ErrBadMagic
	}
	return h, nil
}

// CallRequestPayload is the CALL_REQUEST payload.
type CallRequestPayload struct {
	From uint16
	To   uint16
}

func EncodeCallRequest(from, to uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], from)
	binary.BigEndian.PutUint16(buf[2:4], to)
	return buf
}

func DecodeCallRequest(payload []byte) (CallRequestPayload, error) {
	if len(payload) < 4 {
		return CallRequestPayload{}, ErrShortFrame
	}
	return CallRequestPayload{
		From: binary.BigEndian.Uint16(payload[0:2]),
		To:   binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// EncodeCallResponse builds the CALL_RESPONSE payload.
func EncodeCallResponse(udpPort uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, udpPort)
	return buf
}

func DecodeCallResponse(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, ErrShortFrame
	}
	return binary.BigEndian.Uint16(payload), nil
}

// IncomingCallPayload is the INCOMING_CALL payload.
type IncomingCallPayload struct {
	From    uint16
	UDPPort uint16
}

func EncodeIncomingCall(from, udpPort uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], from)
	binary.BigEndian.PutUint16(buf[2:4], udpPort)
	return buf
}

func DecodeIncomingCall(payload []byte) (IncomingCallPayload, error) {
	if len(payload) < 4 {
		return IncomingCallPayload{}, ErrShortFrame
	}
	return IncomingCallPayload{
		From:    binary.BigEndian.Uint16(payload[0:2]),
		UDPPort: binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// EncodeIncomingResponse builds the INCOMING_RESPONSE payload.
func EncodeIncomingResponse(from uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, from)
	return buf
}

func DecodeIncomingResponse(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, ErrShortFrame
	}
	return binary.BigEndian.Uint16(payload), nil
}

// EncodeTerminateCall builds the TERMINATE_CALL payload.
func EncodeTerminateCall(errCode uint8) []byte {
	return []byte{errCode}
}

func DecodeTerminateCall(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, ErrShortFrame
	}
	return payload[0], nil
}

// ClientTerminateCallPayload is the CLIENT_TERMINATE_CALL payload.
type ClientTerminateCallPayload struct {
	ErrCode     uint8
	PhoneNumber uint16
}

func EncodeClientTerminateCall(errCode uint8, phoneNumber uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = errCode
	binary.BigEndian.PutUint16(buf[1:3], phoneNumber)
	return buf
}

func DecodeClientTerminateCall(payload []byte) (ClientTerminateCallPayload, error) {
	if len(payload) < 3 {
		return ClientTerminateCallPayload{}, ErrShortFrame
	}
	return ClientTerminateCallPayload{
		ErrCode:     payload[0],
		PhoneNumber: binary.BigEndian.Uint16(payload[1:3]),
	}, nil
}

// Name returns a human-readable name for a message id, for logging.
func Name(id uint8) string {
	switch id {
	case HandshakeRequest:
		return "HANDSHAKE_REQUEST"
	case HandshakeResponse:
		return "HANDSHAKE_RESPONSE"
	case CallRequest:
		return "CALL_REQUEST"
	case CallResponse:
		return "CALL_RESPONSE"
	case IncomingCall:
		return "INCOMING_CALL"
	case IncomingResponse:
		return "INCOMING_RESPONSE"
	case TerminateCall:
		return "TERMINATE_CALL"
	case ClientTerminateCall:
		return "CLIENT_TERMINATE_CALL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", id)
	}
}
