// ABOUTME: Periodic telemetry publisher
// ABOUTME: Publishes one generated reading per interval, rate limited
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avslink/avslink-go/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultInterval is the time between readings
const DefaultInterval = time.Second

// Publisher sends readings to a connected broker
type Publisher struct {
	broker    Broker
	settings  Settings
	generator *Generator
	limiter   *rate.Limiter

	// OnPublish is called after each successful publish
	OnPublish func(topic string, payload []byte)
}

// NewPublisher creates a publisher. interval <= 0 uses DefaultInterval.
func NewPublisher(broker Broker, settings Settings, generator *Generator, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Publisher{
		broker:    broker,
		settings:  settings,
		generator: generator,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Run publishes until ctx is cancelled or a publish fails
func (p *Publisher) Run(ctx context.Context) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := p.PublishOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// PublishOne publishes the next reading
func (p *Publisher) PublishOne(ctx context.Context) error {
	reading := p.generator.Next()
	payload, err := reading.Payload()
	if err != nil {
		return err
	}
	topic := p.settings.Topic(reading.DeviceID)

	err = p.broker.Publish(ctx, topic, payload)
	metrics.TelemetryPublished(string(p.settings.Provider), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	log.Debug().
		Str("topic", topic).
		Int("bytes", len(payload)).
		Str("device", reading.DeviceID).
		Msg("published reading")
	if p.OnPublish != nil {
		p.OnPublish(topic, payload)
	}
	return nil
}
