package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // second call must not re-register

	counters := map[string]prometheus.Counter{
		"chat":       ChatMessages,
		"questions":  Questions,
		"self":       SelfMessages,
		"logFail":    LogWriteFailures,
		"disconnect": UpstreamDisconnect,
		"dropped":    ClientsDropped,
		"mirror":     MirrorFailures,
	}
	for name, c := range counters {
		if c == nil {
			t.Errorf("%s counter not initialized", name)
		}
	}
	if SearchDuration == nil || ConnectedClients == nil || UpstreamConnected == nil {
		t.Error("histogram or gauges not initialized")
	}
}

func TestIncCounter(t *testing.T) {
	Init()
	before := testutil.ToFloat64(LogWriteFailures)
	Inc(LogWriteFailures)
	Inc(LogWriteFailures)
	if got := testutil.ToFloat64(LogWriteFailures) - before; got != 2 {
		t.Errorf("LogWriteFailures delta = %v, want 2", got)
	}
	// nil counters are ignored
	Inc(nil)
}

func TestUpstreamGauge(t *testing.T) {
	Init()
	SetUpstreamConnected(true)
	if got := testutil.ToFloat64(UpstreamConnected); got != 1 {
		t.Errorf("UpstreamConnected = %v, want 1", got)
	}
	SetUpstreamConnected(false)
	if got := testutil.ToFloat64(UpstreamConnected); got != 0 {
		t.Errorf("UpstreamConnected = %v, want 0", got)
	}
}

func TestConnectedClientsGauge(t *testing.T) {
	Init()
	for _, n := range []int{0, 3, 42} {
		SetConnectedClients(n)
		if got := testutil.ToFloat64(ConnectedClients); got != float64(n) {
			t.Errorf("ConnectedClients = %v, want %d", got, n)
		}
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation on empty ctx = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}

func TestMirrorFailuresHelpCoversBothBackends(t *testing.T) {
	Init()
	desc := MirrorFailures.Desc().String()
	for _, backend := range []string{"redis", "amqp"} {
		if !strings.Contains(desc, backend) {
			t.Errorf("MirrorFailures help %q does not mention %s", desc, backend)
		}
	}
}
