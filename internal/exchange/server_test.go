package exchange

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/rileyhorrix/intercom/internal/wire"
)

func startTestServer(t *testing.T) (string, func()) {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	srv, err := New("127.0.0.1:0", 9000, 9010, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	return srv.listener.Addr().String(), func() {
		cancel()
		srv.Close()
	}
}

// readFrame reads and decodes one frame from a connection with a short
// deadline, for use from tests only.
func readFrame(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	var dec wire.Decoder
	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if frame, ok := dec.Next(); ok {
			return frame
		}
		n, err := conn.Read(buf)
		require.NoError(t, err)
		dec.Feed(buf[:n])
	}
}

func handshake(t *testing.T, conn net.Conn, requested uint16) uint16 {
	t.Helper()
	_, err := conn.Write(wire.Encode(wire.HandshakeRequest, wire.EncodeHandshake(requested)))
	require.NoError(t, err)
	frame := readFrame(t, conn)
	require.Equal(t, uint8(wire.HandshakeResponse), frame.ID)
	hs, err := wire.DecodeHandshake(frame.Payload)
	require.NoError(t, err)
	return hs.PhoneNumber
}

func TestHandshakeAccept(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	assigned := handshake(t, conn, 5)
	require.Equal(t, uint16(5), assigned)
}

func TestHandshakeCollisionReassignsNumber(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	connA, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connA.Close()
	require.Equal(t, uint16(5), handshake(t, connA, 5))

	connB, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connB.Close()
	require.Equal(t, uint16(6), handshake(t, connB, 5))
}

func TestCallRoundTrip(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	connA, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connA.Close()
	a := handshake(t, connA, 5)

	connB, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connB.Close()
	b := handshake(t, connB, 6)

	_, err = connA.Write(wire.Encode(wire.CallRequest, wire.EncodeCallRequest(a, b)))
	require.NoError(t, err)

	respFrame := readFrame(t, connA)
	require.Equal(t, uint8(wire.CallResponse), respFrame.ID)
	port, err := wire.DecodeCallResponse(respFrame.Payload)
	require.NoError(t, err)

	incFrame := readFrame(t, connB)
	require.Equal(t, uint8(wire.IncomingCall), incFrame.ID)
	ic, err := wire.DecodeIncomingCall(incFrame.Payload)
	require.NoError(t, err)
	require.Equal(t, a, ic.From)
	require.Equal(t, port, ic.UDPPort)

	_, err = connB.Write(wire.Encode(wire.IncomingResponse, wire.EncodeIncomingResponse(a)))
	require.NoError(t, err)

	// Give the server a moment to process the promotion before terminating.
	time.Sleep(20 * time.Millisecond)

	_, err = connA.Write(wire.Encode(wire.ClientTerminateCall, wire.EncodeClientTerminateCall(wire.CallPutdown, a)))
	require.NoError(t, err)

	termFrame := readFrame(t, connB)
	require.Equal(t, uint8(wire.TerminateCall), termFrame.ID)
	code, err := wire.DecodeTerminateCall(termFrame.Payload)
	require.NoError(t, err)
	require.Equal(t, uint8(wire.CallPutdown), code)
}

func TestPortIsReusableAfterTerminationConfirms(t *testing.T) {
	// The pool only has 11 ports (9000-9010); cycling through more calls
	// than that only works if a terminated call's port is actually
	// returned to the pool once its relay confirms it stopped, not just
	// when termination is requested.
	addr, stop := startTestServer(t)
	defer stop()

	connA, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connA.Close()
	a := handshake(t, connA, 5)

	connB, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connB.Close()
	b := handshake(t, connB, 6)

	for i := 0; i < 20; i++ {
		_, err = connA.Write(wire.Encode(wire.CallRequest, wire.EncodeCallRequest(a, b)))
		require.NoError(t, err)

		resp := readFrame(t, connA)
		require.Equal(t, uint8(wire.CallResponse), resp.ID, "iteration %d: port pool likely exhausted", i)
		readFrame(t, connB) // IncomingCall

		_, err = connA.Write(wire.Encode(wire.ClientTerminateCall, wire.EncodeClientTerminateCall(wire.CallPutdown, a)))
		require.NoError(t, err)
		readFrame(t, connB) // TerminateCall notification

		// Give the relay goroutine a moment to confirm its own shutdown and
		// return its port to the pool before the next iteration allocates.
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCallRequestToUnknownNumberIsSilent(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	connA, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connA.Close()
	a := handshake(t, connA, 5)

	_, err = connA.Write(wire.Encode(wire.CallRequest, wire.EncodeCallRequest(a, 99)))
	require.NoError(t, err)

	connA.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	_, err = connA.Read(buf)
	ne, ok := err.(net.Error)
	require.True(t, ok && ne.Timeout(), "expected no response for a call to an unregistered number")
}
