// ABOUTME: IoT broker providers and their connection settings
// ABOUTME: Default endpoints, client ids, usernames and topic layout per cloud
package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Provider names an MQTT broker flavour
type Provider string

const (
	ProviderAWS       Provider = "aws"
	ProviderGCP       Provider = "gcp"
	ProviderAzure     Provider = "azure"
	ProviderMosquitto Provider = "mosquitto"
)

// Providers lists every supported provider
var Providers = []Provider{ProviderAWS, ProviderGCP, ProviderAzure, ProviderMosquitto}

const (
	TLSPort   = 8883
	PlainPort = 1883

	DefaultTokenLifetime = 12 * time.Hour
	azureAPIVersion      = "2016-11-14"
)

// ParseProvider accepts a provider name
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q (want aws, gcp, azure or mosquitto)", s)
}

// Settings describes one broker connection
type Settings struct {
	Provider Provider
	Host     string
	Port     int
	// DeviceID is the identity registered with the cloud
	DeviceID string
	Username string
	Password string

	CertFile   string
	KeyFile    string
	RootCAFile string

	// GCP device path
	ProjectID     string
	LocationID    string
	RegistryID    string
	TokenLifetime time.Duration
}

// DefaultSettings returns the stock connection settings of p
func DefaultSettings(p Provider) Settings {
	switch p {
	case ProviderAWS:
		return Settings{
			Provider:   p,
			Host:       "amasgua12bmkv-ats.iot.us-east-1.amazonaws.com",
			Port:       TLSPort,
			DeviceID:   "ft900device1",
			CertFile:   "certs/ft900device1_cert.pem",
			KeyFile:    "certs/ft900device1_pkey.pem",
			RootCAFile: "certs/rootca_aws_ats.pem",
		}
	case ProviderGCP:
		return Settings{
			Provider:      p,
			Host:          "mqtt.googleapis.com",
			Port:          TLSPort,
			DeviceID:      "ft900device1",
			CertFile:      "certs/ft900device1_cert.pem",
			KeyFile:       "certs/ft900device1_pkey.pem",
			ProjectID:     "ft900iotproject",
			LocationID:    "us-central1",
			RegistryID:    "ft900registryid",
			TokenLifetime: DefaultTokenLifetime,
		}
	case ProviderAzure:
		host := "FT900IoTHub.azure-devices.net"
		return Settings{
			Provider:   p,
			Host:       host,
			Port:       TLSPort,
			DeviceID:   "ft900device2",
			Username:   fmt.Sprintf("%s/%s/api-version=%s", host, "ft900device2", azureAPIVersion),
			CertFile:   "certs/ft900device2_cert.pem",
			KeyFile:    "certs/ft900device2_pkey.pem",
			RootCAFile: "certs/rootca_azure.pem",
		}
	default:
		return Settings{
			Provider: ProviderMosquitto,
			Host:     "test.mosquitto.org",
			Port:     PlainPort,
			DeviceID: "ft900device1",
		}
	}
}

// UseTLS reports whether the connection is TLS
func (s Settings) UseTLS() bool {
	return s.Port != PlainPort
}

// BrokerURL is the paho server URL
func (s Settings) BrokerURL() string {
	scheme := "tcp"
	if s.UseTLS() {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, s.Port)
}

// ClientID is the MQTT client id. GCP uses the full device path.
func (s Settings) ClientID() string {
	if s.Provider == ProviderGCP {
		return fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s",
			s.ProjectID, s.LocationID, s.RegistryID, s.DeviceID)
	}
	return s.DeviceID
}

// Topic is where readings from device are published
func (s Settings) Topic(device string) string {
	switch s.Provider {
	case ProviderAzure:
		return "devices/" + s.DeviceID + "/messages/events/"
	case ProviderGCP:
		return "/devices/" + s.ClientID() + "/events"
	default:
		return "device/" + device + "/devicePayload"
	}
}

// Validate checks the settings can be dialled
func (s Settings) Validate() error {
	if _, err := ParseProvider(string(s.Provider)); err != nil {
		return err
	}
	if s.Host == "" {
		return fmt.Errorf("%s: host is required", s.Provider)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("%s: invalid port %d", s.Provider, s.Port)
	}
	if s.DeviceID == "" {
		return fmt.Errorf("%s: device id is required", s.Provider)
	}
	if s.Provider == ProviderGCP {
		if s.ProjectID == "" || s.LocationID == "" || s.RegistryID == "" {
			return fmt.Errorf("gcp: project, location and registry ids are required")
		}
		if s.KeyFile == "" {
			return fmt.Errorf("gcp: key file is required to sign tokens")
		}
	}
	return nil
}
