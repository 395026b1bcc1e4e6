// Package sink defines the persistence targets a sample is fanned out to and
// the registry that owns the enabled set.
//
// Concurrency model:
//   - The registry is built once at startup and is read-only afterwards.
//   - InitializeAll runs once, before any RecordAll.
//   - RecordAll calls sinks sequentially; cycles are serialized by the engine,
//     so sinks see one Record at a time. Sinks still guard their own
//     ensure-target-exists step so a stray concurrent call cannot create a
//     target twice.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/sample"
)

// Sink is a rotating persistence target for samples.
type Sink interface {
	// Name identifies the sink in logs and errors (e.g. "csv", "sheets").
	Name() string

	// Initialize prepares the sink and ensures the current period's target
	// exists. It is idempotent. An error here is fatal for startup.
	Initialize(ctx context.Context) error

	// Record appends one sample to the target for the sample's period,
	// creating that target first if needed. The row is written entirely or
	// not at all. An error affects this call only.
	Record(ctx context.Context, s sample.Sample) error
}

// InitError reports a sink that could not be initialized.
type InitError struct {
	Sink string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize %s sink: %v", e.Sink, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// SinkFailure is one sink's failure within a RecordAll call.
type SinkFailure struct {
	Sink string
	Err  error
}

// RecordError aggregates the per-sink failures of one RecordAll call.
type RecordError struct {
	Failures []SinkFailure
}

func (e *RecordError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Sink, f.Err))
	}
	return fmt.Sprintf("%d sink(s) failed to record: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual errors to errors.Is / errors.As.
func (e *RecordError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Failed reports whether the named sink is among the failures.
func (e *RecordError) Failed(name string) bool {
	for _, f := range e.Failures {
		if f.Sink == name {
			return true
		}
	}
	return false
}

// Observer receives the outcome of every sink write. It is satisfied by the
// metrics package; a nil Observer is ignored.
type Observer interface {
	SinkWrite(sink string, err error)
}

// Registry holds the enabled sinks.
type Registry struct {
	sinks    []Sink
	observer Observer
	logger   *slog.Logger
}

// NewRegistry creates a registry over the given sinks, in dispatch order.
func NewRegistry(logger *slog.Logger, sinks ...Sink) *Registry {
	return &Registry{
		sinks:  sinks,
		logger: logging.Default(logger).With("component", "sink-registry"),
	}
}

// SetObserver installs an observer for per-sink write outcomes.
// Must be called before the first RecordAll.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Len returns the number of enabled sinks.
func (r *Registry) Len() int {
	return len(r.sinks)
}

// Names returns the sink names in dispatch order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	return names
}

// InitializeAll initializes every sink in order. The first failure stops
// startup: a sink that cannot initialize means the configuration is wrong.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, s := range r.sinks {
		if err := s.Initialize(ctx); err != nil {
			var ie *InitError
			if errors.As(err, &ie) {
				return err
			}
			return &InitError{Sink: s.Name(), Err: err}
		}
		r.logger.Info("sink initialized", "sink", s.Name())
	}
	return nil
}

// RecordAll hands the sample to every sink. A failing sink never prevents
// the others from being attempted. Returns nil or a *RecordError.
func (r *Registry) RecordAll(ctx context.Context, s sample.Sample) error {
	var failures []SinkFailure
	for _, snk := range r.sinks {
		err := snk.Record(ctx, s)
		if r.observer != nil {
			r.observer.SinkWrite(snk.Name(), err)
		}
		if err != nil {
			r.logger.Error("sink record failed", "sink", snk.Name(), "error", err)
			failures = append(failures, SinkFailure{Sink: snk.Name(), Err: err})
			continue
		}
		r.logger.Debug("sink recorded", "sink", snk.Name())
	}
	if len(failures) > 0 {
		return &RecordError{Failures: failures}
	}
	return nil
}

// Close releases sinks that hold resources. All sinks are closed even if
// some fail; the errors are joined.
func (r *Registry) Close() error {
	var errs []error
	for _, s := range r.sinks {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
