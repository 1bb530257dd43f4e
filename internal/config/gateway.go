// ABOUTME: Gateway configuration file
// ABOUTME: Listener, session limits and upstream selection for avs-gateway
package config

import (
	"fmt"
	"time"

	"github.com/avslink/avslink-go/internal/server"
	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/protocol"
)

// Upstream kinds
const (
	UpstreamEcho      = "echo"
	UpstreamFile      = "file"
	UpstreamWebSocket = "websocket"
)

// Gateway is the avs-gateway config file
type Gateway struct {
	Name             string   `toml:"name" yaml:"name"`
	Host             string   `toml:"host" yaml:"host"`
	Port             int      `toml:"port" yaml:"port"`
	PerDevicePorts   bool     `toml:"per_device_ports" yaml:"per_device_ports"`
	Devices          []uint32 `toml:"devices" yaml:"devices"`
	HandshakeVersion int      `toml:"handshake_version" yaml:"handshake_version"`
	HandshakeTimeout string   `toml:"handshake_timeout" yaml:"handshake_timeout"`
	ReadTimeout      string   `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout     string   `toml:"write_timeout" yaml:"write_timeout"`
	SendQueue        int      `toml:"send_queue" yaml:"send_queue"`
	Frame            Frame    `toml:"frame" yaml:"frame"`

	Upstream       Upstream `toml:"upstream" yaml:"upstream"`
	PushCards      bool     `toml:"push_cards" yaml:"push_cards"`
	CardPortOffset int      `toml:"card_port_offset" yaml:"card_port_offset"`

	MDNS        bool   `toml:"mdns" yaml:"mdns"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
	Log         Log    `toml:"log" yaml:"log"`
}

// Upstream selects where device requests go
type Upstream struct {
	Kind string `toml:"kind" yaml:"kind"`

	// file responder
	File  string `toml:"file" yaml:"file"`
	Pace  bool   `toml:"pace" yaml:"pace"`
	Cards bool   `toml:"cards" yaml:"cards"`

	// websocket voice service
	URL              string `toml:"url" yaml:"url"`
	RequestCodec     string `toml:"request_codec" yaml:"request_codec"`
	ResponseCodec    string `toml:"response_codec" yaml:"response_codec"`
	HandshakeTimeout string `toml:"handshake_timeout" yaml:"handshake_timeout"`
}

// DefaultGateway returns the file defaults, matching server.DefaultConfig
func DefaultGateway() Gateway {
	d := server.DefaultConfig()
	return Gateway{
		Name:             d.Name,
		Port:             d.Port,
		HandshakeVersion: int(d.HandshakeVersion),
		HandshakeTimeout: d.HandshakeTimeout.String(),
		WriteTimeout:     d.WriteTimeout.String(),
		SendQueue:        d.SendQueue,
		Frame:            DefaultFrame(),
		Upstream:         Upstream{Kind: UpstreamEcho},
		CardPortOffset:   d.CardPortOffset,
		MDNS:             true,
		Log:              DefaultLog(),
	}
}

// LoadGateway reads path over the defaults. An empty path returns the defaults.
func LoadGateway(path string) (Gateway, error) {
	cfg := DefaultGateway()
	if path == "" {
		return cfg, nil
	}
	if err := Load(path, &cfg); err != nil {
		return Gateway{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that do not need the upstream to be built
func (g Gateway) Validate() error {
	if g.Port < 0 || g.Port > 65535 {
		return fmt.Errorf("invalid port %d", g.Port)
	}
	if g.PerDevicePorts && g.Port+protocol.MaxDevices-1 > 65535 {
		return fmt.Errorf("port %d leaves no room for %d device ports", g.Port, protocol.MaxDevices)
	}
	for _, id := range g.Devices {
		if err := protocol.ValidateDeviceID(id); err != nil {
			return err
		}
	}
	if _, err := handshakeVersion(g.HandshakeVersion); err != nil {
		return err
	}
	if g.SendQueue < 0 {
		return fmt.Errorf("send_queue must not be negative")
	}
	if g.CardPortOffset < 0 {
		return fmt.Errorf("card_port_offset must not be negative")
	}
	if _, err := g.Frame.Options(); err != nil {
		return err
	}
	if _, err := g.Log.Options(); err != nil {
		return err
	}

	switch g.Upstream.Kind {
	case "", UpstreamEcho, UpstreamFile:
	case UpstreamWebSocket:
		if g.Upstream.URL == "" {
			return fmt.Errorf("websocket upstream needs a url")
		}
	default:
		return fmt.Errorf("unknown upstream kind %q (want echo, file or websocket)", g.Upstream.Kind)
	}
	for _, codec := range []string{g.Upstream.RequestCodec, g.Upstream.ResponseCodec} {
		if codec != "" && codec != audio.CodecOpus {
			return fmt.Errorf("unsupported upstream codec %q", codec)
		}
	}
	return nil
}

// ToRuntime builds the server config, loading the upstream
func (g Gateway) ToRuntime() (server.Config, error) {
	if err := g.Validate(); err != nil {
		return server.Config{}, err
	}

	cfg := server.DefaultConfig()
	cfg.Name = g.Name
	cfg.Host = g.Host
	cfg.Port = g.Port
	cfg.PerDevicePorts = g.PerDevicePorts
	cfg.Devices = g.Devices
	cfg.HandshakeVersion, _ = handshakeVersion(g.HandshakeVersion)
	cfg.Frame, _ = g.Frame.Options()
	cfg.PushCards = g.PushCards
	cfg.CardPortOffset = g.CardPortOffset
	cfg.EnableMDNS = g.MDNS
	cfg.MetricsAddr = g.MetricsAddr
	if g.SendQueue > 0 {
		cfg.SendQueue = g.SendQueue
	}

	var err error
	if cfg.HandshakeTimeout, err = duration("handshake_timeout", g.HandshakeTimeout, cfg.HandshakeTimeout); err != nil {
		return server.Config{}, err
	}
	if cfg.ReadTimeout, err = duration("read_timeout", g.ReadTimeout, 0); err != nil {
		return server.Config{}, err
	}
	if cfg.WriteTimeout, err = duration("write_timeout", g.WriteTimeout, cfg.WriteTimeout); err != nil {
		return server.Config{}, err
	}

	if cfg.Upstream, err = g.Upstream.Build(); err != nil {
		return server.Config{}, err
	}
	return cfg, nil
}

// Build creates the configured upstream
func (u Upstream) Build() (server.Upstream, error) {
	switch u.Kind {
	case "", UpstreamEcho:
		return server.EchoUpstream{}, nil

	case UpstreamFile:
		file, err := server.NewFileUpstream(u.File)
		if err != nil {
			return nil, err
		}
		file.Pace = u.Pace
		file.Card = u.Cards
		return file, nil

	case UpstreamWebSocket:
		timeout, err := duration("upstream.handshake_timeout", u.HandshakeTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return server.NewWebSocketUpstream(server.WebSocketConfig{
			URL:              u.URL,
			HandshakeTimeout: timeout,
			RequestCodec:     u.RequestCodec,
			ResponseCodec:    u.ResponseCodec,
		}), nil
	}
	return nil, fmt.Errorf("unknown upstream kind %q", u.Kind)
}
