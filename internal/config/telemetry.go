// ABOUTME: Telemetry tool configuration file
// ABOUTME: Provider selection, publish interval and per-provider broker overrides
package config

import (
	"fmt"

	"github.com/avslink/avslink-go/internal/telemetry"
)

// Telemetry is the iot-telemetry config file
type Telemetry struct {
	Provider string `toml:"provider" yaml:"provider"`
	Interval string `toml:"interval" yaml:"interval"`
	// Seed fixes the generated readings; zero is random
	Seed        int64  `toml:"seed" yaml:"seed"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`

	Brokers map[string]Broker `toml:"brokers" yaml:"brokers"`
	Log     Log               `toml:"log" yaml:"log"`
}

// Broker overrides the stock settings of one provider; empty fields keep them
type Broker struct {
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	DeviceID      string `toml:"device_id" yaml:"device_id"`
	Username      string `toml:"username" yaml:"username"`
	Password      string `toml:"password" yaml:"password"`
	CertFile      string `toml:"cert_file" yaml:"cert_file"`
	KeyFile       string `toml:"key_file" yaml:"key_file"`
	RootCAFile    string `toml:"root_ca_file" yaml:"root_ca_file"`
	ProjectID     string `toml:"project_id" yaml:"project_id"`
	LocationID    string `toml:"location_id" yaml:"location_id"`
	RegistryID    string `toml:"registry_id" yaml:"registry_id"`
	TokenLifetime string `toml:"token_lifetime" yaml:"token_lifetime"`
}

// DefaultTelemetry publishes to Mosquitto once a second
func DefaultTelemetry() Telemetry {
	return Telemetry{
		Provider: string(telemetry.ProviderMosquitto),
		Interval: telemetry.DefaultInterval.String(),
		Log:      DefaultLog(),
	}
}

// LoadTelemetry reads path over the defaults. An empty path returns the defaults.
func LoadTelemetry(path string) (Telemetry, error) {
	cfg := DefaultTelemetry()
	if path == "" {
		return cfg, nil
	}
	if err := Load(path, &cfg); err != nil {
		return Telemetry{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the telemetry config
func (t Telemetry) Validate() error {
	if _, err := telemetry.ParseProvider(t.Provider); err != nil {
		return err
	}
	if _, err := duration("interval", t.Interval, 0); err != nil {
		return err
	}
	for name, b := range t.Brokers {
		if _, err := telemetry.ParseProvider(name); err != nil {
			return fmt.Errorf("brokers: %w", err)
		}
		if _, err := duration("brokers."+name+".token_lifetime", b.TokenLifetime, 0); err != nil {
			return err
		}
	}
	_, err := t.Log.Options()
	return err
}

// Settings returns the merged connection settings of every provider
func (t Telemetry) Settings() (map[telemetry.Provider]telemetry.Settings, error) {
	out := make(map[telemetry.Provider]telemetry.Settings, len(telemetry.Providers))
	for _, p := range telemetry.Providers {
		out[p] = telemetry.DefaultSettings(p)
	}

	for name, b := range t.Brokers {
		p, err := telemetry.ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("brokers: %w", err)
		}
		s := out[p]
		override(&s.Host, b.Host)
		override(&s.DeviceID, b.DeviceID)
		override(&s.Username, b.Username)
		override(&s.Password, b.Password)
		override(&s.CertFile, b.CertFile)
		override(&s.KeyFile, b.KeyFile)
		override(&s.RootCAFile, b.RootCAFile)
		override(&s.ProjectID, b.ProjectID)
		override(&s.LocationID, b.LocationID)
		override(&s.RegistryID, b.RegistryID)
		if b.Port != 0 {
			s.Port = b.Port
		}
		if s.TokenLifetime, err = duration("token_lifetime", b.TokenLifetime, s.TokenLifetime); err != nil {
			return nil, err
		}
		out[p] = s
	}
	return out, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ToRuntime builds the telemetry manager config
func (t Telemetry) ToRuntime() (telemetry.ManagerConfig, error) {
	if err := t.Validate(); err != nil {
		return telemetry.ManagerConfig{}, err
	}
	provider, _ := telemetry.ParseProvider(t.Provider)
	interval, _ := duration("interval", t.Interval, telemetry.DefaultInterval)
	settings, err := t.Settings()
	if err != nil {
		return telemetry.ManagerConfig{}, err
	}
	return telemetry.ManagerConfig{
		Settings:  settings,
		Provider:  provider,
		Interval:  interval,
		Generator: telemetry.NewGenerator(t.Seed),
	}, nil
}
