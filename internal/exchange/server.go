package exchange

import (
	"context"
	"fmt"
	"net"

	"github.com/charmbracelet/log"

	"github.com/rileyhorrix/intercom/internal/relay"
	"github.com/rileyhorrix/intercom/internal/wire"
)

// Server is the single-threaded (per-connection-goroutine) signalling
// exchange: one TCP accept loop, a client/call registry, and a relay
// child per ongoing call.
type Server struct {
	listener net.Listener
	registry *Registry
	ports    *PortAllocator
	logger   *log.Logger
}

// New creates a server bound to addr with relay UDP ports drawn from
// [portMin, portMax].
func New(addr string, portMin, portMax uint16, logger *log.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("exchange: listen on %s: %w", addr, err)
	}
	return &Server{
		listener: ln,
		registry: NewRegistry(),
		ports:    NewPortAllocator(portMin, portMax),
		logger:   logger,
	}, nil
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled in its own goroutine; per-connection
// message processing is otherwise sequential, and mutations to the
// registry are synchronized internally.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("exchange: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn runs the lifetime of one client connection: a blocking
// handshake, then a read loop dispatching each frame in wire order.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	phoneNumber, err := s.handshake(conn)
	if err != nil {
		s.logger.Warn("exchange: handshake failed", "err", err)
		return
	}
	defer s.registry.Unregister(phoneNumber)

	var dec wire.Decoder
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.logger.Info("exchange: client disconnected", "phone_number", phoneNumber, "err", err)
			return
		}
		dec.Feed(buf[:n])
		for {
			frame, ok := dec.Next()
			if !ok {
				break
			}
			s.dispatch(ctx, phoneNumber, frame)
		}
	}
}

// handshake performs the blocking HANDSHAKE_REQUEST/RESPONSE exchange and
// registers the client under its (possibly reassigned) phone number.
func (s *Server) handshake(conn net.Conn) (uint16, error) {
	var dec wire.Decoder
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("read handshake request: %w", err)
		}
		dec.Feed(buf[:n])
		frame, ok := dec.Next()
		if !ok {
			continue
		}
		if frame.ID != wire.HandshakeRequest {
			return 0, fmt.Errorf("expected HANDSHAKE_REQUEST, got %s", wire.Name(frame.ID))
		}
		hs, err := wire.DecodeHandshake(frame.Payload)
		if err != nil {
			return 0, fmt.Errorf("decode handshake request: %w", err)
		}

		assigned := s.registry.AllocatePhoneNumber(hs.PhoneNumber)
		s.registry.Register(assigned, conn)

		resp := wire.Encode(wire.HandshakeResponse, wire.EncodeHandshake(assigned))
		if _, err := conn.Write(resp); err != nil {
			return 0, fmt.Errorf("send handshake response: %w", err)
		}
		s.logger.Info("exchange: client registered", "phone_number", assigned)
		return assigned, nil
	}
}

// dispatch handles one frame from an already-registered client.
func (s *Server) dispatch(ctx context.Context, from uint16, frame wire.Frame) {
	switch frame.ID {
	case wire.CallRequest:
		s.handleCallRequest(ctx, frame)
	case wire.IncomingResponse:
		s.handleIncomingResponse(from, frame)
	case wire.ClientTerminateCall:
		s.handleTerminate(frame)
	default:
		s.logger.Warn("exchange: unexpected message", "from", from, "id", wire.Name(frame.ID))
	}
}

func (s *Server) handleCallRequest(ctx context.Context, frame wire.Frame) {
	req, err := wire.DecodeCallRequest(frame.Payload)
	if err != nil {
		s.logger.Warn("exchange: bad CALL_REQUEST", "err", err)
		return
	}

	callerConn, ok := s.registry.Lookup(req.From)
	if !ok {
		return
	}
	calleeConn, ok := s.registry.Lookup(req.To)
	if !ok {
		return
	}

	port, err := s.ports.Allocate()
	if err != nil {
		s.logger.Error("exchange: port allocation failed", "err", err)
		callerConn.Write(wire.Encode(wire.TerminateCall, wire.EncodeTerminateCall(wire.ServerError)))
		return
	}

	r, conn, err := relay.Listen(port, s.logger)
	if err != nil {
		s.logger.Error("exchange: relay listen failed", "err", err)
		s.ports.Free(port)
		callerConn.Write(wire.Encode(wire.TerminateCall, wire.EncodeTerminateCall(wire.ServerError)))
		return
	}

	relayCtx, cancel := context.WithCancel(ctx)
	go r.Run(relayCtx, conn)
	go s.awaitRelayDone(r)

	s.registry.AddPending(req.From, req.To, port, cancel)

	callerConn.Write(wire.Encode(wire.CallResponse, wire.EncodeCallResponse(port)))
	calleeConn.Write(wire.Encode(wire.IncomingCall, wire.EncodeIncomingCall(req.From, port)))
}

// awaitRelayDone blocks until r has actually stopped forwarding, then
// moves its call out of the terminating set and returns its port to the
// pool. This is what lets a caller hang up and immediately redial without
// the new call being handed a port an old relay goroutine hasn't released
// yet.
func (s *Server) awaitRelayDone(r *relay.Relay) {
	<-r.Done()
	if s.registry.ConfirmTerminated(r.Port) {
		s.ports.Free(r.Port)
	}
}

func (s *Server) handleIncomingResponse(acceptor uint16, frame wire.Frame) {
	caller, err := wire.DecodeIncomingResponse(frame.Payload)
	if err != nil {
		s.logger.Warn("exchange: bad INCOMING_RESPONSE", "err", err)
		return
	}
	if _, ok := s.registry.PromotePending(caller, acceptor); !ok {
		s.logger.Warn("exchange: INCOMING_RESPONSE for unknown pending call", "caller", caller, "acceptor", acceptor)
	}
}

func (s *Server) handleTerminate(frame wire.Frame) {
	req, err := wire.DecodeClientTerminateCall(frame.Payload)
	if err != nil {
		s.logger.Warn("exchange: bad CLIENT_TERMINATE_CALL", "err", err)
		return
	}

	record, ok := s.registry.Terminate(req.PhoneNumber)
	if !ok {
		s.logger.Warn("exchange: terminate for unknown call", "phone_number", req.PhoneNumber)
		return
	}

	other := record.Other(req.PhoneNumber)
	if conn, ok := s.registry.Lookup(other); ok {
		conn.Write(wire.Encode(wire.TerminateCall, wire.EncodeTerminateCall(wire.CallPutdown)))
	}
}
