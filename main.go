// ABOUTME: Entry point for the avslink device simulator
// ABOUTME: Parses CLI flags, finds the gateway and runs the simulated device
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/avslink/avslink-go/internal/app"
	"github.com/avslink/avslink-go/internal/artwork"
	"github.com/avslink/avslink-go/internal/config"
	"github.com/avslink/avslink-go/internal/discovery"
	"github.com/avslink/avslink-go/internal/logging"
	"github.com/avslink/avslink-go/internal/ui"
	"github.com/avslink/avslink-go/internal/version"
	"github.com/avslink/avslink-go/pkg/audio/output"
	"github.com/rs/zerolog/log"
)

const (
	discoveryTimeout = 10 * time.Second
	// quitGrace lets the stop request reach the gateway after the TUI exits
	quitGrace = 3 * time.Second
)

var (
	configPath  = flag.String("config", "", "Device config file (.toml or .yaml)")
	serverAddr  = flag.String("serveraddr", "", "Gateway host (skip mDNS)")
	deviceID    = flag.Uint("deviceid", 1, "Device id (1-16)")
	useDiffAcct = flag.Int("usediffacct", 0, "1 connects to port 11234 + deviceid - 1")
	requestDir  = flag.String("requests", "", "Directory holding REQUEST_<name>.raw recordings")
	cards       = flag.Bool("cards", false, "Accept display cards from the gateway")
	noAudio     = flag.Bool("no-audio", false, "Discard responses instead of playing them")
	logFile     = flag.String("log-file", "avslink.log", "Log file path")
	logLevel    = flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, read keys from stdin and stream logs")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "avslink: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dcfg, err := config.LoadDevice(*configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(&dcfg); err != nil {
		return err
	}
	if err := dcfg.Validate(); err != nil {
		return err
	}

	useTUI := !*noTUI
	logOpts, err := dcfg.Log.Options()
	if err != nil {
		return err
	}
	if logOpts.File == "" {
		logOpts.File = *logFile
	}
	logOpts.Quiet = useTUI
	_, closer, err := logging.Setup(version.Product, logOpts)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dcfg.ServerHost == "" {
		log.Info().Msg("browsing for gateway")
		info, err := discovery.Browse(ctx, discoveryTimeout, 0)
		if err != nil {
			return err
		}
		dcfg.ServerHost = info.Host
		dcfg.ServerPort = info.Port
		dcfg.PerDevicePort = info.PerDevicePorts
	}

	rt, err := dcfg.ToRuntime()
	if err != nil {
		return err
	}

	var out output.Output = output.NewOto()
	if *noAudio {
		out = output.NewDiscard()
	}
	rt.Output = out

	if rt.CardAddr != "" {
		store, err := artwork.NewStore(dcfg.ArtworkDir)
		if err != nil {
			return err
		}
		rt.Artwork = store
	}

	var tui *ui.TUI
	rt.OnEvent = func(e app.Event) {
		if tui != nil {
			tui.OnEvent(e)
		}
	}

	reset, err := dcfg.Reset()
	if err != nil {
		return err
	}

	device := app.New(rt)
	log.Info().
		Str("version", version.Version).
		Uint32("device", dcfg.DeviceID).
		Str("gateway", rt.Session.ServerAddr).
		Stringer("send", rt.Session.Send).
		Stringer("recv", rt.Session.Recv).
		Msg("starting device")

	if useTUI {
		var mixer ui.Mixer
		if m, ok := out.(ui.Mixer); ok {
			mixer = m
		}
		tui = ui.New(device, mixer, ui.Options{
			ServerAddr: rt.Session.ServerAddr,
			DeviceID:   dcfg.DeviceID,
			Send:       rt.Session.Send,
			Recv:       rt.Session.Recv,
			Commands:   device.Commands(),
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- device.RunLoop(ctx, reset)
		if tui != nil {
			tui.Quit()
		}
	}()

	if tui == nil {
		fmt.Println(app.Help(device.Commands()))
		go readKeys(ctx, device)
		return <-done
	}

	if err := tui.Run(); err != nil {
		device.Quit()
		<-done
		return err
	}
	select {
	case err := <-done:
		return err
	case <-time.After(quitGrace):
		log.Warn().Msg("device did not stop in time")
		device.Quit()
		return <-done
	}
}

// applyFlags overrides config values with flags given on the command line
func applyFlags(d *config.Device) error {
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "serveraddr":
			d.ServerHost = *serverAddr
			if host, port, err := net.SplitHostPort(*serverAddr); err == nil {
				if n, err := strconv.Atoi(port); err == nil {
					d.ServerHost, d.ServerPort = host, n
				}
			}
		case "deviceid":
			err = d.SetDeviceID(uint64(*deviceID))
		case "usediffacct":
			d.PerDevicePort = *useDiffAcct != 0
		case "requests":
			d.RequestDir = *requestDir
		case "cards":
			d.Cards = *cards
		case "log-level":
			d.Log.Level = *logLevel
		}
	})
	return err
}

// readKeys submits the first character of each stdin line
func readKeys(ctx context.Context, device *app.Device) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key := []rune(strings.ToLower(line))[0]
		if err := device.Submit(key); err != nil {
			log.Warn().Err(err).Msg("key ignored")
		}
		if key == app.KeyQuit || key == app.KeyExit {
			return
		}
	}
}
