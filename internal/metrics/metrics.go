// ABOUTME: Prometheus collectors for sessions, frames and telemetry
// ABOUTME: Registered once on the default registry and served over HTTP
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Frame directions
const (
	DirUpstream   = "upstream"   // device -> gateway -> voice service
	DirDownstream = "downstream" // voice service -> gateway -> device
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "avslink",
			Subsystem: "gateway",
			Name:      "sessions_active",
			Help:      "Device sessions currently streaming.",
		},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avslink",
			Subsystem: "gateway",
			Name:      "sessions_total",
			Help:      "Device sessions by outcome.",
		},
		[]string{"outcome"},
	)
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "avslink",
			Subsystem: "gateway",
			Name:      "session_duration_seconds",
			Help:      "Lifetime of device sessions.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avslink",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames relayed by direction.",
		},
		[]string{"role", "direction"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avslink",
			Subsystem: "session",
			Name:      "frame_bytes_total",
			Help:      "Payload bytes relayed by direction.",
		},
		[]string{"role", "direction"},
	)
	oversizeRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avslink",
			Subsystem: "session",
			Name:      "oversize_recoveries_total",
			Help:      "Frame headers replaced by the previous length.",
		},
		[]string{"role"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avslink",
			Subsystem: "client",
			Name:      "connect_attempts_total",
			Help:      "Session connect attempts by result.",
		},
		[]string{"result"},
	)
	telemetryPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avslink",
			Subsystem: "telemetry",
			Name:      "published_total",
			Help:      "Telemetry messages published by provider and result.",
		},
		[]string{"provider", "result"},
	)
)

// Register adds all collectors to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive,
			sessionsTotal,
			sessionDuration,
			frames,
			frameBytes,
			oversizeRecoveries,
			connectAttempts,
			telemetryPublished,
		)
	})
}

// SessionOpened records a session that completed its handshake
func SessionOpened() {
	Register()
	sessionsActive.Inc()
}

// SessionClosed records the end of an opened session
func SessionClosed(d time.Duration) {
	Register()
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues("completed").Inc()
	sessionDuration.Observe(d.Seconds())
}

// SessionRejected records a connection refused before streaming
func SessionRejected(reason string) {
	Register()
	sessionsTotal.WithLabelValues(reason).Inc()
}

// Frame records one frame of n payload bytes
func Frame(role, direction string, n int) {
	Register()
	frames.WithLabelValues(role, direction).Inc()
	frameBytes.WithLabelValues(role, direction).Add(float64(n))
}

// OversizeRecovered records headers replaced by the oversize guard
func OversizeRecovered(role string, n uint64) {
	if n == 0 {
		return
	}
	Register()
	oversizeRecoveries.WithLabelValues(role).Add(float64(n))
}

// ConnectAttempt records a client connect attempt
func ConnectAttempt(err error) {
	Register()
	result := "ok"
	if err != nil {
		result = "failed"
	}
	connectAttempts.WithLabelValues(result).Inc()
}

// TelemetryPublished records one MQTT publish
func TelemetryPublished(provider string, err error) {
	Register()
	result := "ok"
	if err != nil {
		result = "failed"
	}
	telemetryPublished.WithLabelValues(provider, result).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string) error {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}
