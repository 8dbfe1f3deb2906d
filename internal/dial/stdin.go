package dial

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// StdinSource is the desktop-variant input: a line-oriented command
// console for driving dial/accept/reject/hangup events without real
// hardware.
type StdinSource struct {
	logger *log.Logger
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStdinSource creates a stdin-driven input source.
func NewStdinSource(logger *log.Logger) *StdinSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &StdinSource{
		logger: logger,
		events: make(chan Event, 4),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins reading commands from stdin in the background.
func (s *StdinSource) Start() error {
	fmt.Println("=== intercom console ===")
	fmt.Println("  d <number>  - dial a number")
	fmt.Println("  a           - accept an incoming call")
	fmt.Println("  r           - reject an incoming call")
	fmt.Println("  h           - hang up")
	fmt.Println("  q           - quit")
	go s.loop()
	return nil
}

// Stop stops the reader goroutine.
func (s *StdinSource) Stop() error {
	s.cancel()
	return nil
}

// Poll returns the next buffered event, if any, without blocking.
func (s *StdinSource) Poll() (Event, bool) {
	select {
	case ev := <-s.events:
		return ev, true
	default:
		return Event{}, false
	}
}

func (s *StdinSource) loop() {
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			s.logger.Warn("stdin: read failed", "err", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		ev, err := parseCommand(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		s.emit(ev)
	}
}

// parseCommand turns one line of console input into an Event.
func parseCommand(line string) (Event, error) {
	fields := strings.Fields(strings.ToLower(line))
	switch fields[0] {
	case "d", "dial":
		if len(fields) < 2 {
			return Event{}, fmt.Errorf("usage: d <number>")
		}
		n, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			return Event{}, fmt.Errorf("invalid number: %s", fields[1])
		}
		return Event{Kind: Dial, Number: uint16(n)}, nil
	case "a", "accept":
		return Event{Kind: Accept}, nil
	case "r", "reject":
		return Event{Kind: Reject}, nil
	case "h", "hangup":
		return Event{Kind: Hangup}, nil
	case "q", "quit":
		return Event{Kind: Quit}, nil
	default:
		return Event{}, fmt.Errorf("unknown command: %s", fields[0])
	}
}

func (s *StdinSource) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("stdin: event dropped, channel full")
	}
}
