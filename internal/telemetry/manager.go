// ABOUTME: Interactive control of the telemetry connection
// ABOUTME: Switches provider, connects and disconnects on single-key commands
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Usage lists the interactive keys
const Usage = `Keys:
  a  connect to AWS IoT
  g  connect to GCP IoT
  m  connect to Azure IoT Hub
  x  connect to Mosquitto
  c  reconnect to the current broker
  d  disconnect
  h  show this help
  q  quit`

// ManagerConfig configures a Manager
type ManagerConfig struct {
	// Settings per provider; missing providers use DefaultSettings
	Settings  map[Provider]Settings
	Provider  Provider
	Interval  time.Duration
	Generator *Generator
	Factory   BrokerFactory
	OnPublish func(topic string, payload []byte)
}

// Manager owns at most one broker connection and its publisher
type Manager struct {
	config ManagerConfig

	mu       sync.Mutex
	provider Provider
	broker   Broker
	cancel   context.CancelFunc
	done     chan struct{}

	errs chan error
}

// NewManager creates a disconnected manager
func NewManager(config ManagerConfig) *Manager {
	if config.Factory == nil {
		config.Factory = NewMQTTBroker
	}
	if config.Generator == nil {
		config.Generator = NewGenerator(0)
	}
	if config.Provider == "" {
		config.Provider = ProviderMosquitto
	}
	return &Manager{
		config:   config,
		provider: config.Provider,
		errs:     make(chan error, 1),
	}
}

// Errors reports publisher failures. The connection is dropped when one is sent.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// Provider returns the selected provider
func (m *Manager) Provider() Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

// Connected reports whether a broker connection is up
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broker != nil
}

// Settings returns the connection settings of p
func (m *Manager) Settings(p Provider) Settings {
	if s, ok := m.config.Settings[p]; ok {
		s.Provider = p
		return s
	}
	return DefaultSettings(p)
}

// Connect dials the selected provider and starts publishing. A live
// connection is left alone.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broker != nil {
		return nil
	}

	settings := m.Settings(m.provider)
	broker, err := m.config.Factory(settings)
	if err != nil {
		return fmt.Errorf("setup %s: %w", m.provider, err)
	}
	if err := broker.Connect(ctx); err != nil {
		return err
	}

	pub := NewPublisher(broker, settings, m.config.Generator, m.config.Interval)
	pub.OnPublish = m.config.OnPublish

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.broker, m.cancel, m.done = broker, cancel, done

	go func() {
		defer close(done)
		if err := pub.Run(runCtx); err != nil {
			log.Error().Err(err).Str("provider", string(settings.Provider)).Msg("publisher stopped")
			m.dropBroker(broker)
			select {
			case m.errs <- err:
			default:
			}
		}
	}()
	return nil
}

// dropBroker forgets broker if it is still the live connection
func (m *Manager) dropBroker(broker Broker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broker == broker {
		m.broker.Disconnect()
		m.cancel()
		m.broker, m.cancel, m.done = nil, nil, nil
	}
}

// Disconnect stops publishing and closes the connection
func (m *Manager) Disconnect() {
	m.mu.Lock()
	broker, cancel, done := m.broker, m.cancel, m.done
	m.broker, m.cancel, m.done = nil, nil, nil
	m.mu.Unlock()

	if broker == nil {
		return
	}
	cancel()
	<-done
	broker.Disconnect()
	log.Info().Msg("disconnected from broker")
}

// Switch disconnects and connects to p
func (m *Manager) Switch(ctx context.Context, p Provider) error {
	m.Disconnect()
	m.mu.Lock()
	m.provider = p
	m.mu.Unlock()
	return m.Connect(ctx)
}

// HandleKey runs the command bound to key. quit is true for q.
func (m *Manager) HandleKey(ctx context.Context, key rune) (quit bool, err error) {
	switch key {
	case 'a', 'A':
		return false, m.Switch(ctx, ProviderAWS)
	case 'g', 'G':
		return false, m.Switch(ctx, ProviderGCP)
	case 'm', 'M':
		return false, m.Switch(ctx, ProviderAzure)
	case 'x', 'X', 'e', 'E':
		return false, m.Switch(ctx, ProviderMosquitto)
	case 'c', 'C':
		return false, m.Connect(ctx)
	case 'd', 'D':
		m.Disconnect()
		return false, nil
	case 'h', 'H', '?':
		fmt.Println(Usage)
		return false, nil
	case 'q', 'Q':
		m.Disconnect()
		return true, nil
	}
	return false, nil
}
