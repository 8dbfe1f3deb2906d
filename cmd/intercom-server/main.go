// Command intercom-server is the voice-intercom exchange: a single TCP
// signalling listener that registers clients, sets up calls, and spawns a
// UDP relay for each one.
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

	"github.com/rileyhorrix/intercom/internal/config"
	"github.com/rileyhorrix/intercom/internal/exchange"
)

func main() {
	var (
		configPath = pflag.StringP("config", "f", "", "path to the server configuration file")
		help       = pflag.BoolP("help", "h", false, "show usage")
	)
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "intercom-server: -f/--config is required")
		pflag.Usage()
		os.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		logger.Fatal("intercom-server: load config", "err", err)
	}

	addr := net.JoinHostPort("", strconv.Itoa(int(cfg.ServerPort)))
	srv, err := exchange.New(addr, cfg.AudioPortMin, cfg.AudioPortMax, logger)
	if err != nil {
		logger.Fatal("intercom-server: listen", "err", err)
	}
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("intercom-server: listening", "port", cfg.ServerPort)
	if err := srv.Serve(ctx); err != nil {
		logger.Fatal("intercom-server: serve", "err", err)
	}
}
