// Package transfer implements the data-plane loop that drains the capture
// ring buffer onto a UDP socket and fills the playback ring buffer from it,
// for the lifetime of one call session.
package transfer

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rileyhorrix/intercom/internal/ringbuf"
)

// chunkBytes bounds each tick's acquire size, per spec ("≤ 10000").
const chunkBytes = 10000

// pollTimeout is how long a single non-blocking-equivalent read/write
// attempt waits before being treated as EAGAIN/EWOULDBLOCK.
const pollTimeout = 2 * time.Millisecond

// Session describes the relay endpoint handed to the engine at start.
type Session struct {
	Addr *net.UDPAddr
}

// Engine is the transfer process's goroutine: it waits on a start
// condition between sessions, and runs a wait-free relay loop during one.
type Engine struct {
	capture  *ringbuf.RingBuffer
	playback *ringbuf.RingBuffer
	logger   *log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
	started atomic.Bool
	session Session

	done chan struct{}
}

// New creates a transfer engine bound to the two ring buffers it will
// relay. Call Run to start its background goroutine.
func New(capture, playback *ringbuf.RingBuffer, logger *log.Logger) *Engine {
	e := &Engine{
		capture:  capture,
		playback: playback,
		logger:   logger,
		done:     make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Run is the engine's main loop, meant to be started in its own goroutine
// immediately at audio-backend initialisation — the Go analogue of the
// source's fork-at-init transfer process.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		e.mu.Lock()
		for !e.started.Load() && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		session := e.session
		e.mu.Unlock()

		e.runSession(ctx, session)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Start publishes a session descriptor and flips the started flag, waking
// the engine's loop. The mutex is held only across the flag flip, never
// around I/O.
func (e *Engine) Start(session Session) {
	e.mu.Lock()
	e.session = session
	e.started.Store(true)
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Stop clears the started flag. The transfer loop notices at the next
// iteration boundary and returns to the wait state.
func (e *Engine) Stop() {
	e.started.Store(false)
}

// Close tears the engine down permanently and waits for its goroutine to
// exit.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.started.Store(false)
	e.cond.Broadcast()
	e.mu.Unlock()
	<-e.done
}

func (e *Engine) runSession(ctx context.Context, session Session) {
	conn, err := net.DialUDP("udp4", nil, session.Addr)
	if err != nil {
		e.logger.Error("transfer: dial relay", "addr", session.Addr, "err", err)
		return
	}
	defer conn.Close()

	e.logger.Info("transfer: session started", "relay", session.Addr)

	for e.started.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Fill the playback ring from the network.
		data, actual := e.playback.AcquireWrite(chunkBytes)
		if actual > 0 {
			conn.SetReadDeadline(time.Now().Add(pollTimeout))
			n, err := conn.Read(data[:actual])
			if err != nil {
				if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
					e.logger.Debug("transfer: recv", "err", err)
				}
				n = 0
			}
			e.playback.CommitWrite(n)
		}

		// Drain the capture ring onto the network.
		out, actualOut := e.capture.AcquireRead(chunkBytes)
		if actualOut > 0 {
			conn.SetWriteDeadline(time.Now().Add(pollTimeout))
			n, err := conn.Write(out[:actualOut])
			if err != nil {
				e.logger.Debug("transfer: send", "err", err)
				n = 0
			}
			e.capture.CommitRead(n)
		}
	}

	e.logger.Info("transfer: session stopped", "relay", session.Addr)
}
