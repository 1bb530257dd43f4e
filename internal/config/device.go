// ABOUTME: Device simulator configuration file
// ABOUTME: Gateway address, device slot, capabilities and canned request location
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/avslink/avslink-go/internal/app"
	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/audio/decode"
	"github.com/avslink/avslink-go/pkg/protocol"
)

// DefaultResetInterval is the pause before a dropped session is restarted
const DefaultResetInterval = time.Second

// Device is the avslink simulator config file
type Device struct {
	// ServerHost is the gateway host; empty browses mDNS
	ServerHost string `toml:"server_host" yaml:"server_host"`
	ServerPort int    `toml:"server_port" yaml:"server_port"`
	DeviceID   uint32 `toml:"device_id" yaml:"device_id"`
	// PerDevicePort connects to ServerPort + DeviceID - 1
	PerDevicePort    bool `toml:"per_device_port" yaml:"per_device_port"`
	HandshakeVersion int  `toml:"handshake_version" yaml:"handshake_version"`

	Send Capabilities `toml:"send" yaml:"send"`
	Recv Capabilities `toml:"recv" yaml:"recv"`

	ConnectTimeout string `toml:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    string `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   string `toml:"write_timeout" yaml:"write_timeout"`
	ChunkTimeout   string `toml:"chunk_timeout" yaml:"chunk_timeout"`
	RetryInterval  string `toml:"retry_interval" yaml:"retry_interval"`
	MaxAttempts    int    `toml:"max_attempts" yaml:"max_attempts"`
	ResetInterval  string `toml:"reset_interval" yaml:"reset_interval"`
	Frame          Frame  `toml:"frame" yaml:"frame"`

	RequestDir    string `toml:"request_dir" yaml:"request_dir"`
	QueueCapacity int    `toml:"queue_capacity" yaml:"queue_capacity"`
	// Cards starts the display card renderer on the session port + offset
	Cards bool `toml:"cards" yaml:"cards"`
	// ArtworkDir caches card images; empty uses the temp directory
	ArtworkDir string `toml:"artwork_dir" yaml:"artwork_dir"`

	Log Log `toml:"log" yaml:"log"`
}

// DefaultDevice returns device 1 on the default port
func DefaultDevice() Device {
	return Device{
		ServerPort:       protocol.DefaultPort,
		DeviceID:         1,
		HandshakeVersion: int(protocol.HandshakeCapabilities),
		Send:             DefaultCapabilities(),
		Recv:             DefaultCapabilities(),
		Frame:            DefaultFrame(),
		RequestDir:       ".",
		Log:              DefaultLog(),
	}
}

// LoadDevice reads path over the defaults. An empty path returns the defaults.
func LoadDevice(path string) (Device, error) {
	cfg := DefaultDevice()
	if path == "" {
		return cfg, nil
	}
	if err := Load(path, &cfg); err != nil {
		return Device{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the device config
func (d Device) Validate() error {
	if err := protocol.ValidateDeviceID(d.DeviceID); err != nil {
		return err
	}
	if d.ServerPort <= 0 || d.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", d.ServerPort)
	}
	if _, err := handshakeVersion(d.HandshakeVersion); err != nil {
		return err
	}
	if _, err := d.Send.Protocol(); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	recv, err := d.Recv.Protocol()
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	if !decode.Supported(audio.FormatFromCapabilities(recv).Codec) {
		return fmt.Errorf("recv: no decoder for %s responses", recv.Format)
	}
	if d.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	if _, err := d.Frame.Options(); err != nil {
		return err
	}
	_, err = d.Log.Options()
	return err
}

// SetDeviceID sets the device id from a wider integer, such as a flag
func (d *Device) SetDeviceID(id uint64) error {
	if id == 0 || id > protocol.MaxDevices {
		return fmt.Errorf("%w: %d", protocol.ErrInvalidDeviceID, id)
	}
	d.DeviceID = uint32(id)
	return nil
}

// Port is the gateway port this device connects to
func (d Device) Port() int {
	return protocol.DevicePort(d.ServerPort, d.DeviceID, d.PerDevicePort)
}

// ServerAddr is host:port of the gateway, empty when the host is unknown
func (d Device) ServerAddr() string {
	if d.ServerHost == "" {
		return ""
	}
	return net.JoinHostPort(d.ServerHost, strconv.Itoa(d.Port()))
}

// Reset is the pause between sessions
func (d Device) Reset() (time.Duration, error) {
	return duration("reset_interval", d.ResetInterval, DefaultResetInterval)
}

// ToRuntime builds the device config. ServerAddr may still be empty when
// the gateway is to be discovered.
func (d Device) ToRuntime() (app.Config, error) {
	if err := d.Validate(); err != nil {
		return app.Config{}, err
	}

	cfg := app.DefaultConfig(d.ServerAddr(), d.DeviceID, d.RequestDir)
	s := &cfg.Session
	s.HandshakeVersion, _ = handshakeVersion(d.HandshakeVersion)
	s.Send, _ = d.Send.Protocol()
	s.Recv, _ = d.Recv.Protocol()
	s.Frame, _ = d.Frame.Options()

	var err error
	timeouts := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"connect_timeout", d.ConnectTimeout, &s.ConnectTimeout},
		{"read_timeout", d.ReadTimeout, &s.ReadTimeout},
		{"write_timeout", d.WriteTimeout, &s.WriteTimeout},
		{"chunk_timeout", d.ChunkTimeout, &s.ChunkTimeout},
		{"retry_interval", d.RetryInterval, &cfg.Retry.Interval},
	}
	for _, t := range timeouts {
		if *t.dst, err = duration(t.field, t.raw, *t.dst); err != nil {
			return app.Config{}, err
		}
	}
	cfg.PollTimeout = s.ReadTimeout
	cfg.Retry.MaxAttempts = d.MaxAttempts
	if d.QueueCapacity > 0 {
		cfg.QueueCapacity = d.QueueCapacity
	}
	if d.Cards {
		cfg.CardAddr = net.JoinHostPort("", strconv.Itoa(d.Port()+protocol.CardPortOffset))
	}
	return cfg, nil
}
