// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessages       prometheus.Counter
	Questions          prometheus.Counter
	SelfMessages       prometheus.Counter
	LogWriteFailures   prometheus.Counter
	UpstreamDisconnect prometheus.Counter
	ClientsDropped     prometheus.Counter
	MirrorFailures     prometheus.Counter

	// Histograms (seconds)
	SearchDuration prometheus.Observer

	// Gauges
	ConnectedClients  prometheus.Gauge
	UpstreamConnected prometheus.Gauge // 1=connected,0=not
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_chat_messages_total", Help: "Chat messages accepted from upstream"})
		Questions = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_questions_total", Help: "Chat messages classified as questions"})
		SelfMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_self_messages_dropped_total", Help: "Messages sent by the relay's own account and discarded"})
		LogWriteFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_log_write_failures_total", Help: "Log lines that could not be appended to the day shard"})
		UpstreamDisconnect = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_upstream_disconnects_total", Help: "Upstream chat connection losses"})
		ClientsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_clients_dropped_total", Help: "Realtime clients evicted for falling behind"})
		MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_mirror_publish_failures_total", Help: "Events a mirror (redis or amqp) failed to publish"})
		SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_log_search_duration_seconds", Help: "Log search duration seconds", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15}})
		ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_connected_clients", Help: "Realtime clients currently subscribed"})
		UpstreamConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_upstream_connected", Help: "Upstream chat connection up=1 down=0"})
	})
}

// Inc increments c if it has been initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetUpstreamConnected sets gauge to 1 if connected else 0.
func SetUpstreamConnected(up bool) {
	if UpstreamConnected == nil {
		return
	}
	if up {
		UpstreamConnected.Set(1)
	} else {
		UpstreamConnected.Set(0)
	}
}

// SetConnectedClients records the current subscriber count.
func SetConnectedClients(n int) {
	if ConnectedClients != nil {
		ConnectedClients.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
