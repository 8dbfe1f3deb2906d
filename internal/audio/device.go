// Package audio owns the duplex sound device: enumeration, the full-duplex
// PortAudio callback, and the band-pass filter applied to the playback
// path. It never owns the ring buffers — it only borrows them for the
// lifetime of the device.
package audio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"github.com/rileyhorrix/intercom/internal/ringbuf"
)

const (
	// SampleRate is the intercom's fixed sample rate, 48kHz mono.
	SampleRate = 48000
	// FrameSize is the byte size of one signed-16 PCM sample.
	FrameSize = 2
	// bandCenterHz / bandQ parametrise the playback band-pass filter.
	bandCenterHz = 1500.0
	bandQ        = 0.707
)

// Config configures the duplex device.
type Config struct {
	// UseDefaults selects the system default devices without prompting.
	UseDefaults     bool
	FramesPerBuffer int
}

// DefaultConfig returns sane defaults for Config.
func DefaultConfig() Config {
	return Config{UseDefaults: true, FramesPerBuffer: 480}
}

// Device drives the duplex PortAudio stream.
type Device struct {
	cfg      Config
	capture  *ringbuf.RingBuffer
	playback *ringbuf.RingBuffer
	filter   *BandPass
	logger   *log.Logger

	mu          sync.Mutex
	initialised bool
	started     bool
	stream      *portaudio.Stream
}

// NewDevice wires a Device to the two ring buffers it will read and fill on
// every callback invocation.
func NewDevice(cfg Config, capture, playback *ringbuf.RingBuffer, logger *log.Logger) *Device {
	return &Device{
		cfg:      cfg,
		capture:  capture,
		playback: playback,
		filter:   NewBandPass(SampleRate, bandCenterHz, bandQ),
		logger:   logger,
	}
}

// Start opens and starts the duplex stream. Idempotent.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	if !d.initialised {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("audio: portaudio init: %w", err)
		}
		d.initialised = true
	}

	inDev, outDev, err := d.selectDevices()
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inDev,
			Channels: 1,
			Latency:  inDev.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: 1,
			Latency:  outDev.DefaultLowOutputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: d.cfg.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, d.callback)
	if err != nil {
		return fmt.Errorf("audio: open duplex stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("audio: start stream: %w", err)
	}

	d.stream = stream
	d.started = true
	d.logger.Info("audio device started", "in", inDev.Name, "out", outDev.Name, "sampleRate", SampleRate)
	return nil
}

// Stop stops and closes the stream. Idempotent.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	var err error
	if d.stream != nil {
		if e := d.stream.Stop(); e != nil {
			err = e
		}
		if e := d.stream.Close(); e != nil && err == nil {
			err = e
		}
		d.stream = nil
	}
	d.started = false
	return err
}

// Close tears the device fully down, releasing PortAudio.
func (d *Device) Close() error {
	if err := d.Stop(); err != nil {
		d.logger.Warn("audio: stop during close", "err", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialised {
		err := portaudio.Terminate()
		d.initialised = false
		return err
	}
	return nil
}

// callback is invoked by PortAudio's worker thread at the device cadence.
// It is wait-free: only ring-buffer acquire/commit and filtering, no
// allocation, no syscalls, no locks.
func (d *Device) callback(in, out []int16) {
	if out != nil {
		needBytes := len(out) * FrameSize
		data, actual := d.playback.AcquireRead(needBytes)
		if actual > 0 {
			// The filter is applied only over the bytes actually acquired,
			// not the requested count, so an underrun never runs the
			// filter over uninitialised or stale bytes.
			d.filter.ProcessPCM(data, actual)
			n := actual / FrameSize
			for i := 0; i < n; i++ {
				out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
			}
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
		} else {
			for i := range out {
				out[i] = 0
			}
		}
		d.playback.CommitRead(actual)
	}

	if in != nil {
		needBytes := len(in) * FrameSize
		data, actual := d.capture.AcquireWrite(needBytes)
		if actual > 0 {
			n := actual / FrameSize
			for i := 0; i < n; i++ {
				s := in[i]
				data[i*2] = byte(uint16(s))
				data[i*2+1] = byte(uint16(s) >> 8)
			}
		}
		// actual == 0 means the capture ring is full: the captured frame
		// is silently dropped, per the overrun policy.
		d.capture.CommitWrite(actual)
	}
}

// selectDevices enumerates PortAudio devices and either picks the system
// defaults or prompts the user on stdin, per cfg.UseDefaults.
func (d *Device) selectDevices() (in, out *portaudio.DeviceInfo, err error) {
	if d.cfg.UseDefaults {
		in, err = portaudio.DefaultInputDevice()
		if err != nil {
			return nil, nil, fmt.Errorf("audio: default input device: %w", err)
		}
		out, err = portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, nil, fmt.Errorf("audio: default output device: %w", err)
		}
		return in, out, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, nil, fmt.Errorf("audio: no devices found")
	}

	in, err = promptDevice(devices, "input", func(dev *portaudio.DeviceInfo) bool {
		return dev.MaxInputChannels > 0
	})
	if err != nil {
		return nil, nil, err
	}
	out, err = promptDevice(devices, "output", func(dev *portaudio.DeviceInfo) bool {
		return dev.MaxOutputChannels > 0
	})
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

func promptDevice(devices []*portaudio.DeviceInfo, label string, match func(*portaudio.DeviceInfo) bool) (*portaudio.DeviceInfo, error) {
	var candidates []*portaudio.DeviceInfo
	fmt.Printf("Available %s devices:\n", label)
	for _, dev := range devices {
		if !match(dev) {
			continue
		}
		fmt.Printf("  [%d] %s\n", len(candidates), dev.Name)
		candidates = append(candidates, dev)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("audio: no %s devices found", label)
	}

	fmt.Printf("Select %s device [0-%d]: ", label, len(candidates)-1)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 0 || idx >= len(candidates) {
		return candidates[0], nil
	}
	return candidates[idx], nil
}
