// ABOUTME: Config file loading shared by the gateway, device and telemetry tools
// ABOUTME: TOML or YAML selected by extension, decoded over the defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/avslink/avslink-go/internal/logging"
	"github.com/avslink/avslink-go/pkg/protocol"
	"gopkg.in/yaml.v3"
)

// Load decodes the file at path into v. Keys absent from the file keep the
// values v already holds, so callers pass a populated default.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("parse %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .toml, .yaml or .yml)", ext)
	}
	return nil
}

// Capabilities is a capability word written out by field
type Capabilities struct {
	Format     string `toml:"format" yaml:"format"`
	BitDepth   int    `toml:"bit_depth" yaml:"bit_depth"`
	SampleRate int    `toml:"sample_rate" yaml:"sample_rate"`
	Channels   int    `toml:"channels" yaml:"channels"`
}

// DefaultCapabilities is RAW 16-bit 16 kHz mono
func DefaultCapabilities() Capabilities {
	return Capabilities{Format: "raw", BitDepth: 16, SampleRate: 16000, Channels: 1}
}

// Protocol converts to the wire capabilities
func (c Capabilities) Protocol() (protocol.Capabilities, error) {
	format, err := protocol.ParseAudioFormat(c.Format)
	if err != nil {
		return protocol.Capabilities{}, err
	}
	depth, err := protocol.BitDepthFromBits(c.BitDepth)
	if err != nil {
		return protocol.Capabilities{}, err
	}
	rate, err := protocol.SampleRateFromHz(c.SampleRate)
	if err != nil {
		return protocol.Capabilities{}, err
	}
	channels, err := protocol.ChannelCountFromCount(c.Channels)
	if err != nil {
		return protocol.Capabilities{}, err
	}
	return protocol.Capabilities{Format: format, Depth: depth, Rate: rate, Channels: channels}, nil
}

// Frame holds the frame codec settings
type Frame struct {
	ChunkSize     int    `toml:"chunk_size" yaml:"chunk_size"`
	MaxFrameSize  uint32 `toml:"max_frame_size" yaml:"max_frame_size"`
	OversizeGuard bool   `toml:"oversize_guard" yaml:"oversize_guard"`
}

// DefaultFrame matches deployed devices
func DefaultFrame() Frame {
	o := protocol.DefaultFrameOptions()
	return Frame{ChunkSize: o.ChunkSize, MaxFrameSize: o.MaxFrameSize, OversizeGuard: o.OversizeGuard}
}

// Options converts to codec options
func (f Frame) Options() (protocol.FrameOptions, error) {
	if f.ChunkSize <= 0 {
		return protocol.FrameOptions{}, fmt.Errorf("chunk_size must be positive, got %d", f.ChunkSize)
	}
	if f.MaxFrameSize == 0 {
		return protocol.FrameOptions{}, errors.New("max_frame_size must be positive")
	}
	return protocol.FrameOptions{ChunkSize: f.ChunkSize, MaxFrameSize: f.MaxFrameSize, OversizeGuard: f.OversizeGuard}, nil
}

// Log holds logger settings
type Log struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	File   string `toml:"file" yaml:"file"`
}

// DefaultLog logs info to the console
func DefaultLog() Log {
	return Log{Level: "info", Format: "console"}
}

// Options converts to logging options
func (l Log) Options() (logging.Options, error) {
	switch l.Format {
	case "", "console", "json":
	default:
		return logging.Options{}, fmt.Errorf("log format must be console or json, got %q", l.Format)
	}
	return logging.Options{Level: l.Level, JSON: l.Format == "json", File: l.File}, nil
}

// duration parses an optional duration field; empty keeps def
func duration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func handshakeVersion(v int) (protocol.HandshakeVersion, error) {
	switch protocol.HandshakeVersion(v) {
	case protocol.HandshakeIdentityOnly, protocol.HandshakeCapabilities:
		return protocol.HandshakeVersion(v), nil
	}
	return 0, fmt.Errorf("handshake_version must be 0 or 1, got %d", v)
}
