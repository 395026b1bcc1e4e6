// Package metrics exports recording outcomes and the latest reading as
// Prometheus metrics.
//
// All methods are safe on a nil *Metrics, so callers never branch on whether
// metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/sample"
	"tempwatchdog/internal/sink"
	"tempwatchdog/internal/sysmetrics"
)

// Cycle outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeSensorError = "sensor_error"
	OutcomeSinkError   = "sink_error"
	OutcomeSkipped     = "skipped"
)

// Sink write outcomes.
const (
	WriteOK    = "ok"
	WriteError = "error"
)

// Metrics holds the daemon's collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	sinkWrites    *prometheus.CounterVec
	temperature   prometheus.Gauge
	humidity      prometheus.Gauge
	lastSample    prometheus.Gauge
	cycleDuration prometheus.Histogram
}

var _ sink.Observer = (*Metrics)(nil)

// New creates the collectors on a fresh registry, including process CPU and
// memory gauges.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tempwatchdog_cycles_total",
			Help: "Recording cycles by outcome.",
		}, []string{"outcome"}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tempwatchdog_sink_writes_total",
			Help: "Sample writes per sink by outcome.",
		}, []string{"sink", "outcome"}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tempwatchdog_temperature_celsius",
			Help: "Most recent temperature reading.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tempwatchdog_humidity_percent",
			Help: "Most recent relative humidity reading.",
		}),
		lastSample: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tempwatchdog_last_sample_timestamp_seconds",
			Help: "Unix time of the most recent successful sensor read.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempwatchdog_cycle_duration_seconds",
			Help:    "Wall time of a recording cycle, sensor read through last sink write.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	sys := sysmetrics.NewSampler()
	cpu := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tempwatchdog_process_cpu_percent",
		Help: "Process CPU usage since the previous scrape, percent of one core.",
	}, sys.CPUPercent)
	mem := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tempwatchdog_process_memory_inuse_bytes",
		Help: "Heap and stack memory in use by the Go runtime.",
	}, func() float64 { return float64(sysmetrics.MemoryInuse()) })

	m.registry.MustRegister(m.cycles, m.sinkWrites, m.temperature, m.humidity, m.lastSample, m.cycleDuration, cpu, mem)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCycle counts a finished cycle. d is ignored for skipped cycles.
func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.cycleDuration.Observe(d.Seconds())
	}
}

// ObserveSample records the latest reading.
func (m *Metrics) ObserveSample(s sample.Sample) {
	if m == nil {
		return
	}
	m.temperature.Set(s.Temperature)
	m.humidity.Set(s.Humidity)
	m.lastSample.Set(float64(s.Timestamp.Unix()))
}

// SinkWrite implements sink.Observer.
func (m *Metrics) SinkWrite(name string, err error) {
	if m == nil {
		return
	}
	outcome := WriteOK
	if err != nil {
		outcome = WriteError
	}
	m.sinkWrites.WithLabelValues(name, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if m == nil {
		return nil
	}
	logger = logging.Default(logger).With("component", "metrics")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	return m.serve(ctx, ln, logger)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
