// Package sensor provides temperature/humidity drivers behind a single
// blocking Read operation.
package sensor

import (
	"context"
	"fmt"
	"log/slog"

	"tempwatchdog/internal/sample"
)

// Driver names accepted by New.
const (
	DriverIIO       = "iio"
	DriverSimulated = "simulated"
)

// Sensor reads one temperature/humidity pair. Read blocks for the duration
// of the hardware transaction and has no side effects beyond it.
type Sensor interface {
	Read(ctx context.Context) (sample.Reading, error)
}

// Func is an adapter to allow ordinary functions to be used as a Sensor.
type Func func(ctx context.Context) (sample.Reading, error)

func (f Func) Read(ctx context.Context) (sample.Reading, error) {
	return f(ctx)
}

// Options selects and configures a driver.
type Options struct {
	Driver  string
	Pin     int
	IIORoot string
	Logger  *slog.Logger
}

// New builds the driver named by opts.Driver.
func New(opts Options) (Sensor, error) {
	switch opts.Driver {
	case DriverIIO, "":
		return NewIIO(opts.IIORoot, opts.Pin, opts.Logger), nil
	case DriverSimulated:
		return NewSimulated(uint64(opts.Pin)), nil
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", opts.Driver)
	}
}
