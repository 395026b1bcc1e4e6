// Package engine drives the sense, log, persist cycle.
//
// The engine is initialized exactly once with a configuration, which builds
// and initializes the sink registry. Each Cycle then reads the sensor once
// and hands the stamped sample to every sink.
//
// Concurrency model:
//   - Cycles never overlap. A Cycle that starts while another is running
//     returns ErrCycleInProgress immediately and touches nothing.
//   - The registry is created by Initialize and read-only afterwards.
//   - A started cycle is not cancellable from outside: RunCycle detaches the
//     context from its caller's cancellation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"tempwatchdog/internal/config"
	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/metrics"
	"tempwatchdog/internal/sample"
	"tempwatchdog/internal/sensor"
	"tempwatchdog/internal/sink"
)

var (
	// ErrNotInitialized is returned by Cycle before Initialize succeeded.
	ErrNotInitialized = errors.New("engine not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("engine already initialized")
	// ErrCycleInProgress is returned when a cycle starts while another runs.
	ErrCycleInProgress = errors.New("previous cycle still in progress")
)

// SensorReadError aborts a cycle before anything is written.
type SensorReadError struct {
	Err error
}

func (e *SensorReadError) Error() string {
	return "sensor read failed: " + e.Err.Error()
}

func (e *SensorReadError) Unwrap() error { return e.Err }

// BuildFunc turns configuration into the enabled sinks, in dispatch order.
type BuildFunc func(cfg *config.Config, logger *slog.Logger) ([]sink.Sink, error)

// Config holds the engine's collaborators.
type Config struct {
	Sensor sensor.Sensor

	// Logger is the base logger. If nil, logging is discarded.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Location samples are stamped in. Defaults to the configuration's
	// timezone at Initialize.
	Location *time.Location

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Build constructs sinks. Defaults to BuildSinks.
	Build BuildFunc
}

// Engine runs recording cycles.
type Engine struct {
	sensor  sensor.Sensor
	logger  *slog.Logger
	baseLog *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
	build   BuildFunc
	sem     *semaphore.Weighted

	mu       sync.Mutex
	loc      *time.Location
	registry *sink.Registry
}

// New creates an uninitialized engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Sensor == nil {
		return nil, errors.New("engine: sensor is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	build := cfg.Build
	if build == nil {
		build = BuildSinks
	}
	base := logging.Default(cfg.Logger)
	return &Engine{
		sensor:  cfg.Sensor,
		logger:  base.With("component", "engine"),
		baseLog: base,
		now:     now,
		metrics: cfg.Metrics,
		build:   build,
		sem:     semaphore.NewWeighted(1),
		loc:     cfg.Location,
	}, nil
}

// Initialize builds the enabled sinks from cfg and initializes each one.
// Any sink failing to initialize fails the whole call with a
// *sink.InitError; the engine stays uninitialized and may be retried.
func (e *Engine) Initialize(ctx context.Context, cfg *config.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry != nil {
		return ErrAlreadyInitialized
	}

	sinks, err := e.build(cfg, e.baseLog)
	if err != nil {
		return fmt.Errorf("build sinks: %w", err)
	}
	reg := sink.NewRegistry(e.baseLog, sinks...)
	if e.metrics != nil {
		reg.SetObserver(e.metrics)
	}
	if err := reg.InitializeAll(ctx); err != nil {
		if cerr := reg.Close(); cerr != nil {
			e.logger.Warn("close sinks after failed initialize", "error", cerr)
		}
		return err
	}

	if e.loc == nil {
		e.loc = cfg.Location()
	}
	e.registry = reg
	if reg.Len() == 0 {
		e.logger.Warn("no sinks enabled; samples will only be logged")
	}
	e.logger.Info("engine initialized", "sinks", reg.Names(), "timezone", e.loc.String())
	return nil
}

// Sinks returns the enabled sink names, or nil before Initialize.
func (e *Engine) Sinks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registry == nil {
		return nil
	}
	return e.registry.Names()
}

// Cycle reads the sensor once and records the sample to every sink.
//
// A failed read returns *SensorReadError and writes nothing. Sink failures
// are returned as *sink.RecordError after every sink was attempted.
func (e *Engine) Cycle(ctx context.Context) error {
	if !e.sem.TryAcquire(1) {
		e.metrics.ObserveCycle(metrics.OutcomeSkipped, 0)
		return ErrCycleInProgress
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	reg, loc := e.registry, e.loc
	e.mu.Unlock()
	if reg == nil {
		return ErrNotInitialized
	}

	start := time.Now()
	logger := e.logger.With("cycle", newCycleID())

	reading, err := e.sensor.Read(ctx)
	if err == nil {
		err = checkReading(reading)
	}
	if err != nil {
		e.metrics.ObserveCycle(metrics.OutcomeSensorError, time.Since(start))
		return &SensorReadError{Err: err}
	}

	smp := sample.New(e.now().In(loc), reading)
	e.metrics.ObserveSample(smp)
	logger.Info("sample read", "sample", smp.String())

	if err := reg.RecordAll(ctx, smp); err != nil {
		e.metrics.ObserveCycle(metrics.OutcomeSinkError, time.Since(start))
		return err
	}
	e.metrics.ObserveCycle(metrics.OutcomeOK, time.Since(start))
	logger.Debug("cycle recorded", "sinks", reg.Len(), "duration", time.Since(start))
	return nil
}

// RunCycle is the scheduler task. It runs one cycle to completion even if
// ctx is cancelled meanwhile, and logs instead of returning errors: a failed
// cycle never stops the schedule.
func (e *Engine) RunCycle(ctx context.Context) {
	err := e.Cycle(context.WithoutCancel(ctx))

	var (
		readErr   *SensorReadError
		recordErr *sink.RecordError
	)
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInProgress):
		e.logger.Warn("cycle skipped", "reason", err)
	case errors.As(err, &readErr):
		e.logger.Error("cycle aborted", "error", readErr.Err)
	case errors.As(err, &recordErr):
		failed := make([]string, 0, len(recordErr.Failures))
		for _, f := range recordErr.Failures {
			failed = append(failed, f.Sink)
		}
		e.logger.Error("cycle completed with sink failures", "failed", failed, "error", err)
	default:
		e.logger.Error("cycle failed", "error", err)
	}
}

// Close waits for an in-flight cycle to finish, then releases sink
// resources. Cycles after Close return ErrNotInitialized.
func (e *Engine) Close() error {
	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registry == nil {
		return nil
	}
	reg := e.registry
	e.registry = nil
	return reg.Close()
}

// checkReading rejects values a working sensor cannot produce.
func checkReading(r sample.Reading) error {
	for _, v := range []float64{r.Temperature, r.Humidity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid reading: temperature=%v humidity=%v", r.Temperature, r.Humidity)
		}
	}
	return nil
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
