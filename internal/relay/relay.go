// Package relay implements the exchange server's per-call UDP relay: one
// socket that learns its two peer addresses from the first datagram each
// sends, and forwards everything it receives from one peer to the other.
// Each call gets its own relay, run as a supervised goroutine and stopped
// by cancelling its context.
package relay

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"
)

// bufSize bounds a single relayed datagram.
const bufSize = 4096

// Relay forwards UDP datagrams between two endpoints that attach to a
// single port, learning each peer's address from the first packet it
// sends.
type Relay struct {
	Port   uint16
	logger *log.Logger

	mu    sync.Mutex
	peers [2]*net.UDPAddr

	done chan struct{}
}

// Listen opens the relay's UDP socket on Port. Call Run to start
// forwarding.
func Listen(port uint16, logger *log.Logger) (*Relay, *net.UDPConn, error) {
	addr := &net.UDPAddr{Port: int(port)}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: listen on port %d: %w", port, err)
	}
	return &Relay{Port: port, logger: logger, done: make(chan struct{})}, conn, nil
}

// Done is closed once Run has returned, i.e. once the relay has actually
// stopped forwarding and released its socket. A caller that cancelled the
// relay's context can wait on this to know termination is confirmed rather
// than merely requested.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Run reads datagrams from conn until ctx is cancelled, forwarding each
// one to whichever peer did not send it. The first two distinct source
// addresses seen become the call's two peers; a third distinct address is
// ignored.
func (r *Relay) Run(ctx context.Context, conn *net.UDPConn) {
	defer close(r.done)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, bufSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				r.logger.Debug("relay: read failed", "port", r.Port, "err", err)
				return
			}
		}

		dest := r.learnAndRoute(from)
		if dest == nil {
			continue
		}
		if _, err := conn.WriteToUDP(buf[:n], dest); err != nil {
			r.logger.Debug("relay: write failed", "port", r.Port, "err", err)
		}
	}
}

// learnAndRoute records from as one of the call's two peers if it is not
// already known, and returns the other peer to forward to (nil until both
// peers have been learned).
func (r *Relay) learnAndRoute(from *net.UDPAddr) *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, p := range r.peers {
		if p != nil && p.IP.Equal(from.IP) && p.Port == from.Port {
			idx = i
			break
		}
	}
	if idx == -1 {
		for i, p := range r.peers {
			if p == nil {
				r.peers[i] = from
				idx = i
				break
			}
		}
	}
	if idx == -1 {
		return nil
	}

	other := 1 - idx
	return r.peers[other]
}
