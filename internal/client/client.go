// Package client implements the call-control state machine: handshake,
// wait_for_call, external_call, ring and call. It owns the TCP signalling
// connection, polls local input, and drives the audio backend across a
// call's lifetime.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rileyhorrix/intercom/internal/audio"
	"github.com/rileyhorrix/intercom/internal/backend"
	"github.com/rileyhorrix/intercom/internal/config"
	"github.com/rileyhorrix/intercom/internal/dial"
	"github.com/rileyhorrix/intercom/internal/transfer"
	"github.com/rileyhorrix/intercom/internal/wire"
)

// State names the five call-control states.
type State int

const (
	StateHandshake State = iota
	StateWaitForCall
	StateExternalCall
	StateRing
	StateCall
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateWaitForCall:
		return "wait_for_call"
	case StateExternalCall:
		return "external_call"
	case StateRing:
		return "ring"
	case StateCall:
		return "call"
	default:
		return "unknown"
	}
}

// tickInterval bounds how often the machine polls the socket and local
// input outside the blocking handshake read.
const tickInterval = 10 * time.Millisecond

// audioBackend is the subset of backend.Backend the state machine drives.
// Narrowing to an interface lets tests exercise the state machine without
// a real sound device.
type audioBackend interface {
	Start(session transfer.Session) error
	Stop() error
	Close() error
}

// ringer is implemented by input sources that drive a physical ringer
// (GPIOSource). Asserted optionally, since the desktop stdin source has no
// ringer to drive.
type ringer interface {
	Ring(on bool)
}

// Machine is the client call-control loop.
type Machine struct {
	cfg    *config.ClientConfig
	logger *log.Logger
	input  dial.Source
	audio  audioBackend

	conn    net.Conn
	decoder wire.Decoder

	state       State
	phoneNumber uint16

	// external_call / ring bookkeeping
	peerNumber uint16
	relayPort  uint16
}

// New creates a call-control machine. Conn is the already-dialled TCP
// signalling connection.
func New(cfg *config.ClientConfig, conn net.Conn, input dial.Source, logger *log.Logger) (*Machine, error) {
	audioCfg := audio.DefaultConfig()
	audioCfg.UseDefaults = cfg.UseAudioDefaults

	be, err := backend.Init(audioCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("client: init audio backend: %w", err)
	}

	return newMachine(cfg, conn, input, be, logger), nil
}

// newMachine builds a Machine around an already-constructed audio
// backend, letting tests substitute a fake.
func newMachine(cfg *config.ClientConfig, conn net.Conn, input dial.Source, be audioBackend, logger *log.Logger) *Machine {
	return &Machine{
		cfg:         cfg,
		logger:      logger,
		input:       input,
		audio:       be,
		conn:        conn,
		state:       StateHandshake,
		phoneNumber: cfg.PhoneNumber,
	}
}

// Close tears down the audio backend and the signalling connection.
func (m *Machine) Close() error {
	m.audio.Close()
	return m.conn.Close()
}

// Run drives the state machine until ctx is cancelled or a fatal error
// occurs.
func (m *Machine) Run(ctx context.Context) error {
	if err := m.input.Start(); err != nil {
		return fmt.Errorf("client: start input: %w", err)
	}
	defer m.input.Stop()

	if err := m.doHandshake(); err != nil {
		return fmt.Errorf("client: handshake: %w", err)
	}
	m.state = StateWaitForCall

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, haveFrame := m.pollFrame()
		ev, haveEvent := m.input.Poll()

		if haveEvent && ev.Kind == dial.Quit {
			return nil
		}

		switch m.state {
		case StateWaitForCall:
			m.tickWaitForCall(frame, haveFrame, ev, haveEvent)
		case StateExternalCall:
			m.tickExternalCall(frame, haveFrame)
		case StateRing:
			m.tickRing(ev, haveEvent)
		case StateCall:
			m.tickCall(frame, haveFrame, ev, haveEvent)
		}
	}
}

// doHandshake performs the one blocking read of the state machine: send
// HANDSHAKE_REQUEST, block for HANDSHAKE_RESPONSE, adopt any
// server-assigned phone number.
func (m *Machine) doHandshake() error {
	req := wire.Encode(wire.HandshakeRequest, wire.EncodeHandshake(m.phoneNumber))
	if _, err := m.conn.Write(req); err != nil {
		return fmt.Errorf("send handshake request: %w", err)
	}

	buf := make([]byte, 256)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("read handshake response: %w", err)
		}
		m.decoder.Feed(buf[:n])
		frame, ok := m.decoder.Next()
		if !ok {
			continue
		}
		if frame.ID != wire.HandshakeResponse {
			m.logger.Warn("client: unexpected message during handshake", "id", wire.Name(frame.ID))
			continue
		}
		hs, err := wire.DecodeHandshake(frame.Payload)
		if err != nil {
			return fmt.Errorf("decode handshake response: %w", err)
		}
		m.phoneNumber = hs.PhoneNumber
		m.logger.Info("client: handshake complete", "phone_number", m.phoneNumber)
		return nil
	}
}

// pollFrame performs one non-blocking-equivalent read of the signalling
// socket and returns at most one decoded frame.
func (m *Machine) pollFrame() (wire.Frame, bool) {
	m.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, 256)
	n, err := m.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			m.logger.Debug("client: signalling read", "err", err)
		}
	} else if n > 0 {
		m.decoder.Feed(buf[:n])
	}
	return m.decoder.Next()
}

func (m *Machine) send(id uint8, payload []byte) {
	if _, err := m.conn.Write(wire.Encode(id, payload)); err != nil {
		m.logger.Warn("client: send failed", "id", wire.Name(id), "err", err)
	}
}

// tickWaitForCall handles local dial input (-> external_call) and an
// unsolicited INCOMING_CALL (-> ring).
func (m *Machine) tickWaitForCall(frame wire.Frame, haveFrame bool, ev dial.Event, haveEvent bool) {
	if haveEvent && ev.Kind == dial.Dial {
		m.peerNumber = ev.Number
		m.send(wire.CallRequest, wire.EncodeCallRequest(m.phoneNumber, m.peerNumber))
		m.state = StateExternalCall
		return
	}

	if haveFrame && frame.ID == wire.IncomingCall {
		ic, err := wire.DecodeIncomingCall(frame.Payload)
		if err != nil {
			m.logger.Warn("client: bad INCOMING_CALL", "err", err)
			return
		}
		m.peerNumber = ic.From
		m.relayPort = ic.UDPPort
		m.state = StateRing
		m.startRinging()
		m.logger.Info("client: incoming call", "from", m.peerNumber)
	}
}

// tickExternalCall handles the two outcomes of a placed call:
// CALL_RESPONSE (-> call) and TERMINATE_CALL (-> wait_for_call). These are
// distinct message ids and must be discriminated, not both matched by the
// same branch.
func (m *Machine) tickExternalCall(frame wire.Frame, haveFrame bool) {
	if !haveFrame {
		return
	}

	switch frame.ID {
	case wire.CallResponse:
		port, err := wire.DecodeCallResponse(frame.Payload)
		if err != nil {
			m.logger.Warn("client: bad CALL_RESPONSE", "err", err)
			return
		}
		m.relayPort = port
		m.enterCall()
	case wire.TerminateCall:
		code, err := wire.DecodeTerminateCall(frame.Payload)
		if err != nil {
			m.logger.Warn("client: bad TERMINATE_CALL", "err", err)
			return
		}
		m.logger.Info("client: call rejected or failed", "err_code", code)
		m.state = StateWaitForCall
	}
}

// tickRing handles the user's accept/reject decision.
func (m *Machine) tickRing(ev dial.Event, haveEvent bool) {
	if !haveEvent {
		return
	}
	switch ev.Kind {
	case dial.Accept:
		m.stopRinging()
		m.enterCall()
	case dial.Reject:
		m.stopRinging()
		m.send(wire.ClientTerminateCall, wire.EncodeClientTerminateCall(wire.CallPutdown, m.phoneNumber))
		m.state = StateWaitForCall
	}
}

// tickCall handles user hangup and server-initiated termination.
func (m *Machine) tickCall(frame wire.Frame, haveFrame bool, ev dial.Event, haveEvent bool) {
	if haveEvent && ev.Kind == dial.Hangup {
		m.send(wire.ClientTerminateCall, wire.EncodeClientTerminateCall(wire.CallPutdown, m.phoneNumber))
		m.leaveCall()
		return
	}
	if haveFrame && frame.ID == wire.TerminateCall {
		m.leaveCall()
	}
}

func (m *Machine) enterCall() {
	relayAddr := &net.UDPAddr{IP: m.signallingHostIP(), Port: int(m.relayPort)}
	if err := m.audio.Start(transfer.Session{Addr: relayAddr}); err != nil {
		m.logger.Error("client: start audio backend", "err", err)
	}
	m.state = StateCall
}

func (m *Machine) leaveCall() {
	if err := m.audio.Stop(); err != nil {
		m.logger.Error("client: stop audio backend", "err", err)
	}
	m.state = StateWaitForCall
}

// startRinging and stopRinging drive the embedded variant's physical
// ringer, if the configured input source has one.
func (m *Machine) startRinging() {
	if r, ok := m.input.(ringer); ok {
		r.Ring(true)
	}
}

func (m *Machine) stopRinging() {
	if r, ok := m.input.(ringer); ok {
		r.Ring(false)
	}
}

// signallingHostIP resolves the relay's address from the signalling
// connection's remote host, since the relay lives on the same exchange
// server.
func (m *Machine) signallingHostIP() net.IP {
	host, _, err := net.SplitHostPort(m.conn.RemoteAddr().String())
	if err != nil {
		return net.IPv4zero
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return net.IPv4zero
	}
	return ips[0]
}
