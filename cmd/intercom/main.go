// Command intercom is the desktop/embedded voice-intercom client: it
// connects to an exchange server, performs the handshake, and runs the
// call-control state machine until told to quit.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/rileyhorrix/intercom/internal/client"
	"github.com/rileyhorrix/intercom/internal/config"
	"github.com/rileyhorrix/intercom/internal/dial"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "f", "", "path to the client configuration file")
		useDefaults = pflag.BoolP("defaults", "d", false, "use system-default audio devices without prompting")
		help        = pflag.BoolP("help", "h", false, "show usage")
	)
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "intercom: -f/--config is required")
		pflag.Usage()
		os.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		logger.Fatal("intercom: load config", "err", err)
	}
	if *useDefaults {
		cfg.UseAudioDefaults = true
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(cfg.ServerHostname, strconv.Itoa(int(cfg.ServerPort))))
	if err != nil {
		logger.Fatal("intercom: connect to exchange", "server", cfg.ServerHostname, "err", err)
	}

	var input dial.Source
	if cfg.GPIO != nil {
		input = dial.NewGPIOSource(dial.Pins{
			Chip:   cfg.GPIO.Chip,
			Dial:   cfg.GPIO.Dial,
			Hook:   cfg.GPIO.Hook,
			Ringer: cfg.GPIO.Ringer,
		}, logger)
	} else {
		input = dial.NewStdinSource(logger)
	}

	m, err := client.New(cfg, conn, input, logger)
	if err != nil {
		logger.Fatal("intercom: init client", "err", err)
	}
	defer m.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := m.Run(ctx); err != nil {
		logger.Fatal("intercom: run", "err", err)
	}
}
