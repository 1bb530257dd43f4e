package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avslink/avslink-go/internal/server"
	"github.com/avslink/avslink-go/internal/telemetry"
	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, DefaultGateway().Validate())
	assert.NoError(t, DefaultDevice().Validate())
	assert.NoError(t, DefaultTelemetry().Validate())
}

func TestLoadGatewayTOML(t *testing.T) {
	path := writeFile(t, "gateway.toml", `
name = "kitchen"
port = 12000
per_device_ports = true
devices = [1, 2]
read_timeout = "30s"

[frame]
oversize_guard = false

[log]
level = "debug"
format = "json"
`)
	g, err := LoadGateway(path)
	require.NoError(t, err)
	assert.Equal(t, "kitchen", g.Name)
	assert.Equal(t, []uint32{1, 2}, g.Devices)
	// untouched keys keep their defaults
	assert.Equal(t, protocol.DefaultChunkSize, g.Frame.ChunkSize)
	assert.Equal(t, UpstreamEcho, g.Upstream.Kind)

	cfg, err := g.ToRuntime()
	require.NoError(t, err)
	assert.Equal(t, 12000, cfg.Port)
	assert.True(t, cfg.PerDevicePorts)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, server.DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.False(t, cfg.Frame.OversizeGuard)
	assert.IsType(t, server.EchoUpstream{}, cfg.Upstream)

	logOpts, err := g.Log.Options()
	require.NoError(t, err)
	assert.True(t, logOpts.JSON)
	assert.Equal(t, "debug", logOpts.Level)
}

func TestLoadGatewayYAML(t *testing.T) {
	path := writeFile(t, "gateway.yaml", `
port: 0
upstream:
  kind: websocket
  url: ws://localhost:8927/avs
  response_codec: opus
`)
	g, err := LoadGateway(path)
	require.NoError(t, err)

	cfg, err := g.ToRuntime()
	require.NoError(t, err)
	ws, ok := cfg.Upstream.(*server.WebSocketUpstream)
	require.True(t, ok)
	assert.Equal(t, "websocket: ws://localhost:8927/avs", ws.String())
}

func TestLoadGatewayFileUpstream(t *testing.T) {
	g := DefaultGateway()
	g.Upstream = Upstream{Kind: UpstreamFile, Pace: true, Cards: true}

	cfg, err := g.ToRuntime()
	require.NoError(t, err)
	file, ok := cfg.Upstream.(*server.FileUpstream)
	require.True(t, ok)
	assert.True(t, file.Pace)
	assert.True(t, file.Card)
}

func TestGatewayValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Gateway)
		errMsg string
	}{
		{"bad device", func(g *Gateway) { g.Devices = []uint32{17} }, "device id"},
		{"bad port", func(g *Gateway) { g.Port = 70000 }, "invalid port"},
		{"per device overflow", func(g *Gateway) { g.Port = 65530; g.PerDevicePorts = true }, "no room"},
		{"handshake", func(g *Gateway) { g.HandshakeVersion = 2 }, "handshake_version"},
		{"upstream kind", func(g *Gateway) { g.Upstream.Kind = "grpc" }, "unknown upstream"},
		{"websocket url", func(g *Gateway) { g.Upstream.Kind = UpstreamWebSocket }, "needs a url"},
		{"codec", func(g *Gateway) { g.Upstream.RequestCodec = "aac" }, "unsupported upstream codec"},
		{"log format", func(g *Gateway) { g.Log.Format = "xml" }, "log format"},
		{"chunk size", func(g *Gateway) { g.Frame.ChunkSize = 0 }, "chunk_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := DefaultGateway()
			tt.modify(&g)
			assert.ErrorContains(t, g.Validate(), tt.errMsg)
		})
	}
}

func TestGatewayBadDuration(t *testing.T) {
	g := DefaultGateway()
	g.WriteTimeout = "soon"
	_, err := g.ToRuntime()
	assert.ErrorContains(t, err, "write_timeout")
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := LoadGateway(writeFile(t, "gateway.toml", `prot = 1`))
	assert.ErrorContains(t, err, "unknown key")

	_, err = LoadGateway(writeFile(t, "gateway.yml", "prot: 1\n"))
	assert.Error(t, err)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := LoadGateway(writeFile(t, "gateway.json", `{}`))
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadDevice(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "load config")
}

func TestLoadEmptyYAML(t *testing.T) {
	d, err := LoadDevice(writeFile(t, "device.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultDevice(), d)
}

func TestDeviceToRuntime(t *testing.T) {
	path := writeFile(t, "device.toml", `
server_host = "192.168.1.20"
device_id = 3
per_device_port = true
retry_interval = "500ms"
cards = true

[recv]
format = "mp3"
bit_depth = 16
sample_rate = 44100
channels = 2
`)
	d, err := LoadDevice(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:11236", d.ServerAddr())

	cfg, err := d.ToRuntime()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:11236", cfg.Session.ServerAddr)
	assert.Equal(t, uint32(3), cfg.Session.DeviceID)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Interval)
	assert.Equal(t, ":11336", cfg.CardAddr)
	assert.Equal(t, protocol.Capabilities{
		Format: protocol.FormatMP3, Depth: protocol.Depth16, Rate: protocol.Rate44100, Channels: protocol.Stereo,
	}, cfg.Session.Recv)
	assert.Equal(t, protocol.DefaultCapabilities(), cfg.Session.Send)

	reset, err := d.Reset()
	require.NoError(t, err)
	assert.Equal(t, DefaultResetInterval, reset)
}

func TestDeviceWithoutHost(t *testing.T) {
	cfg, err := DefaultDevice().ToRuntime()
	require.NoError(t, err)
	assert.Empty(t, cfg.Session.ServerAddr)
	assert.Empty(t, cfg.CardAddr)
}

func TestDeviceValidation(t *testing.T) {
	d := DefaultDevice()
	d.DeviceID = 0
	assert.ErrorIs(t, d.Validate(), protocol.ErrInvalidDeviceID)

	d = DefaultDevice()
	d.Send.SampleRate = 22050
	assert.ErrorIs(t, d.Validate(), protocol.ErrUnknownCapability)

	d = DefaultDevice()
	d.Recv.Format = "ogg"
	assert.ErrorContains(t, d.Validate(), "recv")

	d = DefaultDevice()
	d.Recv.Format = "aac"
	assert.ErrorContains(t, d.Validate(), "no decoder for aac")

	// request recordings are sent as they are, so aac may be sent
	d = DefaultDevice()
	d.Send.Format = "aac"
	assert.NoError(t, d.Validate())
}

func TestSetDeviceID(t *testing.T) {
	d := DefaultDevice()
	require.NoError(t, d.SetDeviceID(16))
	assert.Equal(t, uint32(16), d.DeviceID)

	for _, id := range []uint64{0, 17, 1<<32 + 1} {
		err := d.SetDeviceID(id)
		assert.ErrorIs(t, err, protocol.ErrInvalidDeviceID, "id %d", id)
		assert.Equal(t, uint32(16), d.DeviceID, "id %d must not change the device", id)
	}
}

func TestTelemetryOverrides(t *testing.T) {
	path := writeFile(t, "telemetry.yaml", `
provider: gcp
interval: 250ms
seed: 9
brokers:
  gcp:
    project_id: lab-project
    key_file: /etc/iot/device.pem
    token_lifetime: 1h
  mosquitto:
    host: broker.local
    port: 1884
`)
	cfg, err := LoadTelemetry(path)
	require.NoError(t, err)

	rt, err := cfg.ToRuntime()
	require.NoError(t, err)
	assert.Equal(t, telemetry.ProviderGCP, rt.Provider)
	assert.Equal(t, 250*time.Millisecond, rt.Interval)

	gcp := rt.Settings[telemetry.ProviderGCP]
	assert.Equal(t, "lab-project", gcp.ProjectID)
	assert.Equal(t, "/etc/iot/device.pem", gcp.KeyFile)
	assert.Equal(t, time.Hour, gcp.TokenLifetime)
	assert.Equal(t, "mqtt.googleapis.com", gcp.Host)

	mos := rt.Settings[telemetry.ProviderMosquitto]
	assert.Equal(t, "tcp://broker.local:1884", mos.BrokerURL())

	assert.Equal(t, telemetry.DefaultSettings(telemetry.ProviderAWS), rt.Settings[telemetry.ProviderAWS])
}

func TestTelemetryValidation(t *testing.T) {
	c := DefaultTelemetry()
	c.Provider = "ibm"
	assert.Error(t, c.Validate())

	c = DefaultTelemetry()
	c.Brokers = map[string]Broker{"oracle": {}}
	assert.ErrorContains(t, c.Validate(), "brokers")

	c = DefaultTelemetry()
	c.Interval = "-1s"
	assert.ErrorContains(t, c.Validate(), "negative")
}
