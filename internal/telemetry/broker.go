// ABOUTME: MQTT broker connection used by the telemetry publisher
// ABOUTME: Broker interface with an Eclipse Paho implementation
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout = 10 * time.Second
	publishQoS     = 0
	disconnectWait = 250 // ms
)

// ErrNotConnected is returned when publishing without a connection
var ErrNotConnected = errors.New("broker not connected")

// Broker is an MQTT connection
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Disconnect()
}

// BrokerFactory creates a broker for s
type BrokerFactory func(s Settings) (Broker, error)

// MQTTBroker connects with paho
type MQTTBroker struct {
	settings Settings
	client   mqtt.Client

	// mint returns the password for the next connect; nil sends the
	// configured username and password
	mint func() (string, error)

	mu       sync.Mutex
	password string
}

// NewMQTTBroker prepares a paho client for s. TLS material and GCP tokens
// are loaded here so bad credentials fail before dialling.
func NewMQTTBroker(s Settings) (Broker, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.BrokerURL()).
		SetClientID(s.ClientID()).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetCleanSession(true)

	tlsConfig, err := TLSConfig(s)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	b := &MQTTBroker{settings: s}
	switch {
	case s.Provider == ProviderGCP:
		tokens, err := LoadTokenSource(s.ProjectID, s.KeyFile, s.TokenLifetime)
		if err != nil {
			return nil, err
		}
		// the bridge ignores the username; each connect needs a live token
		b.mint = tokens.Token
		opts.SetCredentialsProvider(b.credentials)
	case s.Username != "":
		opts.SetUsername(s.Username)
		opts.SetPassword(s.Password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("provider", string(s.Provider)).Msg("broker connection lost")
	})

	b.client = mqtt.NewClient(opts)
	return b, nil
}

// credentials hands paho the password minted by the last Connect
func (b *MQTTBroker) credentials() (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return "unused", b.password
}

// Connect dials the broker
func (b *MQTTBroker) Connect(ctx context.Context) error {
	if b.mint != nil {
		token, err := b.mint()
		if err != nil {
			return fmt.Errorf("connect %s: mint %s token: %w", b.settings.BrokerURL(), b.settings.Provider, err)
		}
		b.mu.Lock()
		b.password = token
		b.mu.Unlock()
	}
	if err := wait(ctx, b.client.Connect()); err != nil {
		return fmt.Errorf("connect %s: %w", b.settings.BrokerURL(), err)
	}
	log.Info().
		Str("provider", string(b.settings.Provider)).
		Str("broker", b.settings.BrokerURL()).
		Str("client", b.settings.ClientID()).
		Msg("connected to broker")
	return nil
}

// Publish sends payload on topic
func (b *MQTTBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return wait(ctx, b.client.Publish(topic, publishQoS, false, payload))
}

// Disconnect closes the connection
func (b *MQTTBroker) Disconnect() {
	if b.client.IsConnected() {
		b.client.Disconnect(disconnectWait)
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
