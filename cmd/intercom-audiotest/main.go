// Command intercom-audiotest captures a few seconds of duplex audio
// straight from the local sound device to a WAV file, bypassing the
// network entirely — a standalone diagnostic for the ring buffer and
// device wiring.
package main

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/rileyhorrix/intercom/internal/audio"
	"github.com/rileyhorrix/intercom/internal/ringbuf"
)

func main() {
	var (
		out        = pflag.StringP("out", "o", "audiotest.wav", "output WAV path")
		seconds    = pflag.IntP("seconds", "s", 3, "seconds of audio to capture")
		useDefault = pflag.BoolP("defaults", "y", false, "use default audio devices without prompting")
		help       = pflag.BoolP("help", "h", false, "show usage")
	)
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	capacity := audio.SampleRate * *seconds * audio.FrameSize
	capture := ringbuf.New(capacity)
	playback := ringbuf.New(capacity)
	defer capture.Close()
	defer playback.Close()

	cfg := audio.DefaultConfig()
	cfg.UseDefaults = *useDefault

	dev := audio.NewDevice(cfg, capture, playback, logger)
	if err := dev.Start(); err != nil {
		logger.Fatal("intercom-audiotest: start device", "err", err)
	}

	logger.Info("intercom-audiotest: recording", "seconds", *seconds)
	time.Sleep(time.Duration(*seconds) * time.Second)

	if err := dev.Stop(); err != nil {
		logger.Error("intercom-audiotest: stop device", "err", err)
	}
	if err := dev.Close(); err != nil {
		logger.Error("intercom-audiotest: close device", "err", err)
	}

	pcm, n := capture.AcquireRead(capacity)
	if err := audio.DumpWAV(*out, pcm[:n]); err != nil {
		logger.Fatal("intercom-audiotest: write wav", "err", err)
	}
	capture.CommitRead(n)

	logger.Info("intercom-audiotest: wrote capture", "path", *out, "bytes", n)
}
