// ABOUTME: Entry point for the IoT telemetry publisher
// ABOUTME: Publishes simulated battery readings to the selected MQTT broker
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/avslink/avslink-go/internal/config"
	"github.com/avslink/avslink-go/internal/logging"
	"github.com/avslink/avslink-go/internal/metrics"
	"github.com/avslink/avslink-go/internal/telemetry"
	"github.com/rs/zerolog/log"
)

var (
	configPath  = flag.String("config", "", "Telemetry config file (.toml or .yaml)")
	provider    = flag.String("provider", "", "Initial broker: aws, gcp, azure or mosquitto")
	interval    = flag.String("interval", "", "Publish interval (default 1s)")
	metricsAddr = flag.String("metrics-addr", "", "Expose Prometheus metrics on this address")
	logLevel    = flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	logJSON     = flag.Bool("log-json", false, "Log JSON to stderr")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "iot-telemetry: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	tcfg, err := config.LoadTelemetry(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "provider":
			tcfg.Provider = *provider
		case "interval":
			tcfg.Interval = *interval
		case "metrics-addr":
			tcfg.MetricsAddr = *metricsAddr
		case "log-level":
			tcfg.Log.Level = *logLevel
		case "log-json":
			if *logJSON {
				tcfg.Log.Format = "json"
			}
		}
	})
	if err := tcfg.Validate(); err != nil {
		return err
	}

	logOpts, err := tcfg.Log.Options()
	if err != nil {
		return err
	}
	_, closer, err := logging.Setup("iot-telemetry", logOpts)
	if err != nil {
		return err
	}
	defer closer.Close()

	rt, err := tcfg.ToRuntime()
	if err != nil {
		return err
	}
	rt.OnPublish = func(topic string, payload []byte) {
		fmt.Printf("%s\n%s\n", topic, payload)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if tcfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, tcfg.MetricsAddr); err != nil {
				log.Warn().Err(err).Msg("metrics server failed")
			}
		}()
	}

	mgr := telemetry.NewManager(rt)
	defer mgr.Disconnect()

	if err := mgr.Connect(ctx); err != nil {
		return err
	}
	fmt.Println(telemetry.Usage)

	keys := make(chan rune)
	go readKeys(keys)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-mgr.Errors():
			log.Error().Err(err).Str("provider", string(mgr.Provider())).Msg("connection dropped, press c to reconnect")
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			quit, err := mgr.HandleKey(ctx, key)
			if err != nil {
				log.Error().Err(err).Msg("command failed")
			}
			if quit {
				return nil
			}
		}
	}
}

// readKeys sends the first character of each stdin line
func readKeys(keys chan<- rune) {
	defer close(keys)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keys <- []rune(line)[0]
	}
}
