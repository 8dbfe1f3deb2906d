// Package backend composes the ring buffers, the duplex audio device, and
// the transfer engine into the façade the call-control state machine
// drives through Start/Stop across a call's lifetime.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/rileyhorrix/intercom/internal/audio"
	"github.com/rileyhorrix/intercom/internal/ringbuf"
	"github.com/rileyhorrix/intercom/internal/transfer"
)

// ringCapacity is the sample rate times 2 seconds times the frame size.
const ringCapacity = audio.SampleRate * 2 * audio.FrameSize

// Backend is the audio subsystem façade.
type Backend struct {
	capture  *ringbuf.RingBuffer
	playback *ringbuf.RingBuffer
	device   *audio.Device
	xfer     *transfer.Engine
	logger   *log.Logger

	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// Init creates the ring buffers, the device adapter, and starts the
// transfer engine's loop as a background goroutine.
func Init(cfg audio.Config, logger *log.Logger) (*Backend, error) {
	capture := ringbuf.New(ringCapacity)
	playback := ringbuf.New(ringCapacity)

	device := audio.NewDevice(cfg, capture, playback, logger)
	xfer := transfer.New(capture, playback, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go xfer.Run(ctx)

	return &Backend{
		capture:  capture,
		playback: playback,
		device:   device,
		xfer:     xfer,
		logger:   logger,
		cancel:   cancel,
	}, nil
}

// Start starts the device and publishes the session descriptor to the
// transfer engine. Double-start is a no-op.
func (b *Backend) Start(session transfer.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}
	if err := b.device.Start(); err != nil {
		return fmt.Errorf("backend: start device: %w", err)
	}
	b.xfer.Start(session)
	b.started = true
	return nil
}

// Stop stops the device and the transfer engine's current session. Stop
// before start is a no-op.
func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	b.xfer.Stop()
	err := b.device.Stop()
	b.started = false
	return err
}

// Close tears down the transfer engine, the device, and the ring buffers,
// in that order.
func (b *Backend) Close() error {
	b.Stop()
	b.cancel()
	b.xfer.Close()
	err := b.device.Close()
	b.capture.Close()
	b.playback.Close()
	return err
}
