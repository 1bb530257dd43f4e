// ABOUTME: Entry point for the AVS device gateway
// ABOUTME: Loads the gateway config, applies CLI overrides and serves devices
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avslink/avslink-go/internal/config"
	"github.com/avslink/avslink-go/internal/logging"
	"github.com/avslink/avslink-go/internal/server"
	"github.com/avslink/avslink-go/internal/version"
	"github.com/rs/zerolog/log"
)

var (
	configPath     = flag.String("config", "", "Gateway config file (.toml or .yaml)")
	host           = flag.String("host", "", "Listen host (default all interfaces)")
	port           = flag.Int("port", 0, "Base listen port (default 11234)")
	perDevicePorts = flag.Bool("per-device-ports", false, "Listen on port + deviceid - 1 for each device")
	name           = flag.String("name", "", "Gateway name advertised over mDNS")
	upstreamKind   = flag.String("upstream", "", "Upstream: echo, file or websocket")
	responseFile   = flag.String("response-file", "", "Audio file answered to every request (file upstream)")
	upstreamURL    = flag.String("upstream-url", "", "Voice service URL (websocket upstream)")
	pushCards      = flag.Bool("cards", false, "Push display cards to devices")
	noMDNS         = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	metricsAddr    = flag.String("metrics-addr", "", "Expose Prometheus metrics on this address")
	logFile        = flag.String("log-file", "avs-gateway.log", "Log file path")
	logLevel       = flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	noTUI          = flag.Bool("no-tui", false, "Disable TUI and stream logs to stdout")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "avs-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	gcfg, err := config.LoadGateway(*configPath)
	if err != nil {
		return err
	}
	applyFlags(&gcfg)
	if err := gcfg.Validate(); err != nil {
		return err
	}

	logOpts, err := gcfg.Log.Options()
	if err != nil {
		return err
	}
	if logOpts.File == "" {
		logOpts.File = *logFile
	}
	logOpts.Quiet = !*noTUI
	_, closer, err := logging.Setup("avs-gateway", logOpts)
	if err != nil {
		return err
	}
	defer closer.Close()

	cfg, err := gcfg.ToRuntime()
	if err != nil {
		return err
	}
	cfg.UseTUI = !*noTUI

	log.Info().
		Str("version", version.Version).
		Str("name", cfg.Name).
		Int("port", cfg.Port).
		Bool("per_device_ports", cfg.PerDevicePorts).
		Str("log_file", logOpts.File).
		Msg("starting gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg)
	return srv.Start(ctx)
}

// applyFlags overrides config values with flags given on the command line
func applyFlags(g *config.Gateway) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			g.Host = *host
		case "port":
			g.Port = *port
		case "per-device-ports":
			g.PerDevicePorts = *perDevicePorts
		case "name":
			g.Name = *name
		case "upstream":
			g.Upstream.Kind = *upstreamKind
		case "response-file":
			g.Upstream.File = *responseFile
			if !isSet("upstream") {
				g.Upstream.Kind = config.UpstreamFile
			}
		case "upstream-url":
			g.Upstream.URL = *upstreamURL
			if !isSet("upstream") {
				g.Upstream.Kind = config.UpstreamWebSocket
			}
		case "cards":
			g.PushCards = *pushCards
			g.Upstream.Cards = *pushCards
		case "no-mdns":
			g.MDNS = !*noMDNS
		case "metrics-addr":
			g.MetricsAddr = *metricsAddr
		case "log-level":
			g.Log.Level = *logLevel
		}
	})
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
