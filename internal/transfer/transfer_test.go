package transfer

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/rileyhorrix/intercom/internal/ringbuf"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func TestEngineRelaysCaptureAndFillsPlayback(t *testing.T) {
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer peer.Close()

	capture := ringbuf.New(1024)
	playback := ringbuf.New(1024)
	defer capture.Close()
	defer playback.Close()

	e := New(capture, playback, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	defer e.Close()

	buf, n := capture.AcquireWrite(4)
	require.Equal(t, 4, n)
	copy(buf, []byte{1, 2, 3, 4})
	capture.CommitWrite(4)

	e.Start(Session{Addr: peer.LocalAddr().(*net.UDPAddr)})

	recvBuf := make([]byte, 16)
	peer.SetReadDeadline(time.Now().Add(time.Second))
	n2, from, err := peer.ReadFromUDP(recvBuf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, recvBuf[:n2])

	_, err = peer.WriteToUDP([]byte{9, 8, 7, 6}, from)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return playback.PointerDistance() >= 4
	}, time.Second, 5*time.Millisecond)

	out, got := playback.AcquireRead(4)
	require.Equal(t, 4, got)
	require.Equal(t, []byte{9, 8, 7, 6}, out)
}

func TestStartStopIsIdempotentAndReenterable(t *testing.T) {
	capture := ringbuf.New(64)
	playback := ringbuf.New(64)
	defer capture.Close()
	defer playback.Close()

	e := New(capture, playback, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	defer e.Close()

	peer, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer peer.Close()

	e.Start(Session{Addr: peer.LocalAddr().(*net.UDPAddr)})
	e.Stop()
	e.Stop()
	e.Start(Session{Addr: peer.LocalAddr().(*net.UDPAddr)})
}
