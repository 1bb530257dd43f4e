package telemetry

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	settings   Settings
	connectErr error
	publishErr error

	mu           sync.Mutex
	connected    bool
	disconnects  int
	publications []published
	sent         chan published
}

func newFakeBroker(s Settings) *fakeBroker {
	return &fakeBroker{settings: s, sent: make(chan published, 64)}
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	if b.connectErr != nil {
		return b.connectErr
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	p := published{topic, payload}
	b.mu.Lock()
	b.publications = append(b.publications, p)
	b.mu.Unlock()
	select {
	case b.sent <- p:
	default:
	}
	return nil
}

func (b *fakeBroker) Disconnect() {
	b.mu.Lock()
	b.connected = false
	b.disconnects++
	b.mu.Unlock()
}

func TestGeneratorRangesAndOrder(t *testing.T) {
	g := NewGenerator(42)
	for i := 0; i < 300; i++ {
		r := g.Next()
		assert.Equal(t, Devices[i%3], r.DeviceID)
		assert.GreaterOrEqual(t, r.SensorReading, SensorMin)
		assert.LessOrEqual(t, r.SensorReading, SensorMax)
		assert.GreaterOrEqual(t, r.BatteryCharge, ChargeMin)
		assert.LessOrEqual(t, r.BatteryCharge, ChargeMax)
		assert.GreaterOrEqual(t, r.BatteryDischargeRate, DischargeMin)
		assert.LessOrEqual(t, r.BatteryDischargeRate, DischargeMax)
	}
}

func TestGeneratorSeedIsDeterministic(t *testing.T) {
	a, b := NewGenerator(7), NewGenerator(7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestReadingPayloadKeys(t *testing.T) {
	payload, err := Reading{DeviceID: "knuth", SensorReading: 31, BatteryCharge: -4, BatteryDischargeRate: 2}.Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"deviceId":"knuth","sensorReading":31,"batteryCharge":-4,"batteryDischargeRate":2}`, string(payload))
}

func TestProviderTopics(t *testing.T) {
	assert.Equal(t, "device/hopper/devicePayload", DefaultSettings(ProviderAWS).Topic("hopper"))
	assert.Equal(t, "device/turing/devicePayload", DefaultSettings(ProviderMosquitto).Topic("turing"))
	assert.Equal(t, "devices/ft900device2/messages/events/", DefaultSettings(ProviderAzure).Topic("hopper"))
	assert.Equal(t,
		"/devices/projects/ft900iotproject/locations/us-central1/registries/ft900registryid/devices/ft900device1/events",
		DefaultSettings(ProviderGCP).Topic("knuth"))
}

func TestProviderEndpoints(t *testing.T) {
	assert.Equal(t, "tcp://test.mosquitto.org:1883", DefaultSettings(ProviderMosquitto).BrokerURL())
	assert.Equal(t, "ssl://mqtt.googleapis.com:8883", DefaultSettings(ProviderGCP).BrokerURL())
	assert.Equal(t, "FT900IoTHub.azure-devices.net/ft900device2/api-version=2016-11-14", DefaultSettings(ProviderAzure).Username)
	assert.Equal(t, "ft900device1", DefaultSettings(ProviderAWS).ClientID())

	for _, p := range Providers {
		assert.NoError(t, DefaultSettings(p).Validate(), p)
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" AWS ")
	require.NoError(t, err)
	assert.Equal(t, ProviderAWS, p)

	_, err = ParseProvider("ibm")
	assert.Error(t, err)
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings(ProviderGCP)
	s.KeyFile = ""
	assert.ErrorContains(t, s.Validate(), "key file")

	s = DefaultSettings(ProviderAWS)
	s.Port = 0
	assert.ErrorContains(t, s.Validate(), "invalid port")
}

func writeKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "device_pkey.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return key, path
}

func TestTokenSourceClaims(t *testing.T) {
	key, path := writeKey(t)
	src, err := LoadTokenSource("ft900iotproject", path, 0)
	require.NoError(t, err)

	issued := time.Unix(1700000000, 0)
	src.now = func() time.Time { return issued }

	signed, err := src.Token()
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (any, error) {
		assert.Equal(t, "RS256", tok.Method.Alg())
		return &key.PublicKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return issued.Add(time.Hour) }))
	require.NoError(t, err)

	assert.Equal(t, issued.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, issued.Add(12*time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.Equal(t, jwt.ClaimStrings{"ft900iotproject"}, claims.Audience)
}

func TestLoadTokenSourceBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
	_, err := LoadTokenSource("p", path, time.Hour)
	assert.Error(t, err)

	_, err = LoadTokenSource("p", filepath.Join(t.TempDir(), "missing.pem"), time.Hour)
	assert.Error(t, err)
}

func gcpTestSettings(t *testing.T) Settings {
	t.Helper()
	_, path := writeKey(t)
	s := DefaultSettings(ProviderGCP)
	s.Host = "127.0.0.1"
	s.Port = PlainPort
	s.CertFile = ""
	s.KeyFile = path
	return s
}

func TestMQTTBrokerTokenFailureFailsConnect(t *testing.T) {
	broker, err := NewMQTTBroker(gcpTestSettings(t))
	require.NoError(t, err)
	b := broker.(*MQTTBroker)
	b.mint = func() (string, error) { return "", errors.New("key revoked") }

	err = b.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "mint gcp token")
	assert.ErrorContains(t, err, "key revoked")
}

func TestMQTTBrokerSendsMintedToken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	settings := gcpTestSettings(t)
	settings.Port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	broker, err := NewMQTTBroker(settings)
	require.NoError(t, err)
	b := broker.(*MQTTBroker)
	b.mint = func() (string, error) { return "signed-jwt", nil }

	// nothing listens on the broker port; the token is minted before dialling
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, b.Connect(ctx))

	user, password := b.credentials()
	assert.Equal(t, "unused", user)
	assert.Equal(t, "signed-jwt", password)
}

func TestTLSConfigPlain(t *testing.T) {
	config, err := TLSConfig(DefaultSettings(ProviderMosquitto))
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestTLSConfigMissingFiles(t *testing.T) {
	s := DefaultSettings(ProviderAWS)
	s.CertFile = filepath.Join(t.TempDir(), "missing_cert.pem")
	_, err := TLSConfig(s)
	assert.ErrorContains(t, err, "device certificate")

	s.CertFile, s.KeyFile = "", ""
	s.RootCAFile = filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(s.RootCAFile, []byte{}, 0o600))
	_, err = TLSConfig(s)
	assert.ErrorContains(t, err, "no certificates")
}

func TestPublisherPublishesEachDevice(t *testing.T) {
	settings := DefaultSettings(ProviderAWS)
	broker := newFakeBroker(settings)
	pub := NewPublisher(broker, settings, NewGenerator(1), time.Millisecond)

	var topics []string
	pub.OnPublish = func(topic string, payload []byte) { topics = append(topics, topic) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case p := <-broker.sent:
			var r Reading
			require.NoError(t, json.Unmarshal(p.payload, &r))
			assert.Equal(t, Devices[i], r.DeviceID)
			assert.Equal(t, "device/"+Devices[i]+"/devicePayload", p.topic)
		case <-time.After(2 * time.Second):
			t.Fatal("no publish")
		}
	}

	cancel()
	assert.NoError(t, <-done)
	assert.GreaterOrEqual(t, len(topics), 3)
}

func TestPublisherStopsOnPublishError(t *testing.T) {
	settings := DefaultSettings(ProviderMosquitto)
	broker := newFakeBroker(settings)
	broker.publishErr = errors.New("broken pipe")

	err := NewPublisher(broker, settings, NewGenerator(1), time.Millisecond).Run(context.Background())
	assert.ErrorContains(t, err, "broken pipe")
}

func managerWith(t *testing.T, brokers map[Provider]*fakeBroker) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Interval:  time.Millisecond,
		Generator: NewGenerator(3),
		Factory: func(s Settings) (Broker, error) {
			b, ok := brokers[s.Provider]
			if !ok {
				return nil, errors.New("no broker")
			}
			return b, nil
		},
	})
}

func TestManagerKeys(t *testing.T) {
	brokers := map[Provider]*fakeBroker{
		ProviderAWS:       newFakeBroker(DefaultSettings(ProviderAWS)),
		ProviderMosquitto: newFakeBroker(DefaultSettings(ProviderMosquitto)),
	}
	m := managerWith(t, brokers)
	ctx := context.Background()

	assert.Equal(t, ProviderMosquitto, m.Provider())
	assert.False(t, m.Connected())

	quit, err := m.HandleKey(ctx, 'a')
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, ProviderAWS, m.Provider())
	assert.True(t, m.Connected())
	<-brokers[ProviderAWS].sent

	_, err = m.HandleKey(ctx, 'd')
	require.NoError(t, err)
	assert.False(t, m.Connected())
	assert.Equal(t, 1, brokers[ProviderAWS].disconnects)

	_, err = m.HandleKey(ctx, 'c')
	require.NoError(t, err)
	assert.True(t, m.Connected())
	assert.Equal(t, ProviderAWS, m.Provider())

	_, err = m.HandleKey(ctx, 'x')
	require.NoError(t, err)
	assert.Equal(t, ProviderMosquitto, m.Provider())
	assert.Equal(t, 2, brokers[ProviderAWS].disconnects)
	<-brokers[ProviderMosquitto].sent

	quit, err = m.HandleKey(ctx, 'q')
	require.NoError(t, err)
	assert.True(t, quit)
	assert.False(t, m.Connected())
}

func TestManagerConnectFailureIsReported(t *testing.T) {
	broken := newFakeBroker(DefaultSettings(ProviderAzure))
	broken.connectErr = errors.New("not authorized")
	m := managerWith(t, map[Provider]*fakeBroker{ProviderAzure: broken})

	_, err := m.HandleKey(context.Background(), 'm')
	assert.ErrorContains(t, err, "not authorized")
	assert.False(t, m.Connected())

	_, err = m.HandleKey(context.Background(), 'g')
	assert.ErrorContains(t, err, "setup gcp")
}

func TestManagerPublisherFailureDropsConnection(t *testing.T) {
	broker := newFakeBroker(DefaultSettings(ProviderMosquitto))
	broker.publishErr = errors.New("connection reset")
	m := managerWith(t, map[Provider]*fakeBroker{ProviderMosquitto: broker})

	require.NoError(t, m.Connect(context.Background()))
	select {
	case err := <-m.Errors():
		assert.ErrorContains(t, err, "connection reset")
	case <-time.After(2 * time.Second):
		t.Fatal("no publisher error")
	}
	assert.False(t, m.Connected())
}
