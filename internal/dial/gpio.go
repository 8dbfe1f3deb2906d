package dial

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

// Pins configures the embedded variant's GPIO assignments.
type Pins struct {
	Chip   string // e.g. "gpiochip0"
	Dial   int    // rotary dial pulse input, required low at rest
	Hook   int    // handset hook-switch input, low when off-hook
	Ringer int    // ringer driver output
}

const (
	debounceStability = time.Millisecond // change-stability threshold
	quiescentWindow   = time.Second      // quiescent-low commit window
	restRetryInterval = 200 * time.Millisecond
	restRetryAttempts = 10
	pollInterval      = 200 * time.Microsecond
)

// GPIOSource is the embedded-variant input: a debounced rotary dial plus a
// hook switch, driving a ringer output.
type GPIOSource struct {
	pins   Pins
	logger *log.Logger
	events chan Event

	dialLine   *gpiocdev.Line
	hookLine   *gpiocdev.Line
	ringerLine *gpiocdev.Line

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGPIOSource creates a GPIO-driven input source for the given pin
// assignment.
func NewGPIOSource(pins Pins, logger *log.Logger) *GPIOSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &GPIOSource{
		pins:   pins,
		logger: logger,
		events: make(chan Event, 4),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start requests the GPIO lines and begins the debounce/polling loop.
func (g *GPIOSource) Start() error {
	dialLine, err := gpiocdev.RequestLine(g.pins.Chip, g.pins.Dial, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return fmt.Errorf("dial: request dial line: %w", err)
	}
	g.dialLine = dialLine

	hookLine, err := gpiocdev.RequestLine(g.pins.Chip, g.pins.Hook, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		dialLine.Close()
		return fmt.Errorf("dial: request hook line: %w", err)
	}
	g.hookLine = hookLine

	ringerLine, err := gpiocdev.RequestLine(g.pins.Chip, g.pins.Ringer, gpiocdev.AsOutput(0))
	if err != nil {
		dialLine.Close()
		hookLine.Close()
		return fmt.Errorf("dial: request ringer line: %w", err)
	}
	g.ringerLine = ringerLine

	if err := g.awaitRest(); err != nil {
		g.Stop()
		return err
	}

	go g.loop()
	return nil
}

// Stop releases the GPIO lines.
func (g *GPIOSource) Stop() error {
	g.cancel()
	if g.dialLine != nil {
		g.dialLine.Close()
	}
	if g.hookLine != nil {
		g.hookLine.Close()
	}
	if g.ringerLine != nil {
		g.ringerLine.SetValue(0)
		g.ringerLine.Close()
	}
	return nil
}

// Poll returns the next buffered event, if any, without blocking.
func (g *GPIOSource) Poll() (Event, bool) {
	select {
	case ev := <-g.events:
		return ev, true
	default:
		return Event{}, false
	}
}

// Ring drives the ringer output on (embedded variant of an incoming-call
// indication).
func (g *GPIOSource) Ring(on bool) {
	if g.ringerLine == nil {
		return
	}
	v := 0
	if on {
		v = 1
	}
	g.ringerLine.SetValue(v)
}

// awaitRest requires the dial pin to be low at entry, retrying for up to
// 10*200ms before failing.
func (g *GPIOSource) awaitRest() error {
	for i := 0; i < restRetryAttempts; i++ {
		v, err := g.dialLine.Value()
		if err != nil {
			return fmt.Errorf("dial: read dial line: %w", err)
		}
		if v == 0 {
			return nil
		}
		time.Sleep(restRetryInterval)
	}
	return fmt.Errorf("dial: dial pin not low at rest after %d attempts", restRetryAttempts)
}

// loop polls the dial and hook lines, applying the debounce rules: a
// transition only counts once it has been stable for debounceStability,
// and a digit is committed once the line has been quiescent-low for
// quiescentWindow.
func (g *GPIOSource) loop() {
	lastStable := 0
	lastRaw := 0
	lastChange := time.Now()
	pulses := 0
	dialing := false

	lastHook := 0

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()

		raw, err := g.dialLine.Value()
		if err != nil {
			g.logger.Warn("dial: read failed", "err", err)
			continue
		}

		if raw != lastRaw {
			lastRaw = raw
			lastChange = now
		} else if raw != lastStable && now.Sub(lastChange) >= debounceStability {
			// The transition has held stably for the debounce threshold.
			if lastStable == 0 && raw == 1 {
				// Break pulse: the loop opened momentarily.
				pulses++
				dialing = true
			}
			lastStable = raw
		}

		if dialing && lastStable == 0 && now.Sub(lastChange) >= quiescentWindow {
			number := pulses - 1
			dialing = false
			pulses = 0
			if number >= 0 {
				g.emit(Event{Kind: Dial, Number: uint16(number)})
			}
		}

		hook, err := g.hookLine.Value()
		if err == nil && hook != lastHook {
			if hook == 0 {
				g.emit(Event{Kind: Accept})
			} else {
				g.emit(Event{Kind: Hangup})
			}
			lastHook = hook
		}
	}
}

func (g *GPIOSource) emit(ev Event) {
	select {
	case g.events <- ev:
	default:
		g.logger.Warn("dial: event dropped, channel full")
	}
}
