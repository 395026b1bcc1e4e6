// Package sheets provides a sink that appends samples to a spreadsheet tab
// which rotates per calendar period, inside a single remote document.
//
// The sink keeps the set of tab titles it knows to exist. A known title costs
// no remote call; an unknown title triggers one listing refresh and, if the
// tab is still missing, a create. Per title the sink moves through
// NotChecked -> Checked-Absent -> Created, or NotChecked -> Checked-Present.
// A new rotation key starts over at NotChecked on first use.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/sample"
	"tempwatchdog/internal/sink"
	"tempwatchdog/internal/timekey"
)

const (
	// DefaultTitleFormat names one tab per month.
	DefaultTitleFormat = "YYYY-MM [温湿度]"

	name = "sheets"
)

// DefaultHeader is written as the first row of every new tab.
var DefaultHeader = []string{"datetime", "temperature", "humidity"}

// ErrTabExists is returned by Transport.CreateTab when the title is taken.
var ErrTabExists = errors.New("sheets: tab already exists")

// Transport is the remote document API the sink needs.
type Transport interface {
	// Authenticate establishes the session. Called once, before anything else.
	Authenticate(ctx context.Context) error

	// ListTabs returns the titles of every tab in the document.
	ListTabs(ctx context.Context) ([]string, error)

	// CreateTab adds a tab with header as its first row. It returns (or wraps)
	// ErrTabExists if the title is already taken.
	CreateTab(ctx context.Context, title string, header []string) error

	// AppendRow appends one row after the last row of the tab.
	AppendRow(ctx context.Context, title string, row []string) error
}

// Options configures a spreadsheet sink.
type Options struct {
	Transport Transport

	// TitleFormat is the rotation key template for tab titles.
	TitleFormat string

	// Header labels for the three columns. Defaults to DefaultHeader.
	Header []string

	// Now returns the current time; used only by Initialize.
	Now func() time.Time

	Logger *slog.Logger
}

// Sink appends samples to a rotating spreadsheet tab.
type Sink struct {
	transport Transport
	tmpl      timekey.Template
	header    []string
	now       func() time.Time
	logger    *slog.Logger

	mu            sync.Mutex
	authenticated bool
	known         map[string]struct{}
}

var _ sink.Sink = (*Sink)(nil)

// New validates options and compiles the title template. It does no I/O.
func New(opts Options) (*Sink, error) {
	if opts.Transport == nil {
		return nil, errors.New("sheets: transport is required")
	}
	format := opts.TitleFormat
	if format == "" {
		format = DefaultTitleFormat
	}
	tmpl, err := timekey.Compile(format)
	if err != nil {
		return nil, fmt.Errorf("sheets: title format: %w", err)
	}
	header := opts.Header
	if len(header) == 0 {
		header = DefaultHeader
	}
	if len(header) != 3 {
		return nil, fmt.Errorf("sheets: header needs exactly 3 labels, got %d", len(header))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Sink{
		transport: opts.Transport,
		tmpl:      tmpl,
		header:    header,
		now:       now,
		logger:    logging.Default(opts.Logger).With("component", "sink", "sink", name),
		known:     make(map[string]struct{}),
	}, nil
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return name }

// Title returns the tab title for the period containing t.
func (s *Sink) Title(t time.Time) string {
	return s.tmpl.RotationKey(t)
}

// Initialize authenticates once, loads the tab list, and ensures the current
// period's tab exists. Calling it again re-lists tabs but never authenticates
// twice or creates a duplicate tab.
func (s *Sink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated {
		if err := s.transport.Authenticate(ctx); err != nil {
			return &sink.InitError{Sink: name, Err: fmt.Errorf("authenticate: %w", err)}
		}
		s.authenticated = true
	}
	if err := s.refresh(ctx); err != nil {
		return &sink.InitError{Sink: name, Err: err}
	}
	if err := s.ensureTab(ctx, s.Title(s.now()), true); err != nil {
		return &sink.InitError{Sink: name, Err: err}
	}
	return nil
}

// Record appends timestamp, temperature, humidity to the tab for the
// sample's period, creating the tab first if needed.
func (s *Sink) Record(ctx context.Context, smp sample.Sample) error {
	title := s.Title(smp.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated {
		return errors.New("sheets: record before initialize")
	}
	if err := s.ensureTab(ctx, title, false); err != nil {
		return err
	}
	if err := s.transport.AppendRow(ctx, title, smp.Fields()); err != nil {
		// The tab may have been removed remotely; check again next time.
		delete(s.known, title)
		return fmt.Errorf("append row to %q: %w", title, err)
	}
	return nil
}

// ensureTab makes sure title exists. fresh reports that the known set was
// just loaded, so a miss is authoritative without another listing.
// Caller must hold s.mu.
func (s *Sink) ensureTab(ctx context.Context, title string, fresh bool) error {
	if _, ok := s.known[title]; ok {
		return nil
	}
	if !fresh {
		if err := s.refresh(ctx); err != nil {
			return err
		}
		if _, ok := s.known[title]; ok {
			return nil
		}
	}

	err := s.transport.CreateTab(ctx, title, s.header)
	switch {
	case errors.Is(err, ErrTabExists):
		s.logger.Debug("tab already exists", "title", title)
	case err != nil:
		return fmt.Errorf("create tab %q: %w", title, err)
	default:
		s.logger.Info("tab created", "title", title)
	}
	s.known[title] = struct{}{}
	return nil
}

// refresh replaces the known set with the remote listing.
// Caller must hold s.mu.
func (s *Sink) refresh(ctx context.Context) error {
	titles, err := s.transport.ListTabs(ctx)
	if err != nil {
		return fmt.Errorf("list tabs: %w", err)
	}
	known := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		known[t] = struct{}{}
	}
	s.known = known
	return nil
}
