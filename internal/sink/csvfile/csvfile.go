// Package csvfile provides a sink that appends samples to a CSV file which
// rotates per calendar period: <prefix>_<rotationKey>_records.csv.
//
// Writes are append-only. Each row is a single O_APPEND write followed by an
// fsync, so a crash can at worst leave a partial final line; earlier rows are
// never rewritten.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/sample"
	"tempwatchdog/internal/sink"
	"tempwatchdog/internal/timekey"
)

const (
	// Header is the first line of every record file.
	Header = "datetime,temp,humidity"

	// DefaultFileNameFormat rotates monthly.
	DefaultFileNameFormat = "YYYY-MM"

	// DefaultPrefix is the file name prefix used when none is configured.
	DefaultPrefix = "temp-watchdog"

	fileSuffix = "_records.csv"
	name       = "csv"
)

// Options configures a CSV sink.
type Options struct {
	// Directory holds the record files. Created on Initialize if absent.
	Directory string

	// FileNameFormat is the rotation key template (see package timekey).
	FileNameFormat string

	// FilePrefix precedes the rotation key in file names.
	FilePrefix string

	// Now returns the current time; used only by Initialize. Record uses the
	// sample's own timestamp. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Sink appends samples to a rotating CSV file.
type Sink struct {
	dir    string
	tmpl   timekey.Template
	prefix string
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	lastPath string // last file known to exist with a header
}

var _ sink.Sink = (*Sink)(nil)

// New validates options and compiles the file name template. It does no I/O.
func New(opts Options) (*Sink, error) {
	if opts.Directory == "" {
		return nil, errors.New("csv: save directory is required")
	}
	format := opts.FileNameFormat
	if format == "" {
		format = DefaultFileNameFormat
	}
	if hasSeparator(format) {
		return nil, fmt.Errorf("csv: file name format %q must not contain a path separator", format)
	}
	tmpl, err := timekey.Compile(format)
	if err != nil {
		return nil, fmt.Errorf("csv: file name format: %w", err)
	}
	prefix := opts.FilePrefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if hasSeparator(prefix) {
		return nil, fmt.Errorf("csv: file prefix %q must not contain a path separator", prefix)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Sink{
		dir:    opts.Directory,
		tmpl:   tmpl,
		prefix: prefix,
		now:    now,
		logger: logging.Default(opts.Logger).With("component", "sink", "sink", name),
	}, nil
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return name }

// Path returns the record file for the period containing t.
func (s *Sink) Path(t time.Time) string {
	return filepath.Join(s.dir, s.tmpl.TargetName(t, s.prefix, fileSuffix))
}

// Initialize ensures the directory and the current period's file exist.
// Re-running it is a no-op.
func (s *Sink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ensureDir(s.dir); err != nil {
		return &sink.InitError{Sink: name, Err: err}
	}
	path := s.Path(s.now())
	if err := s.ensureFile(path); err != nil {
		return &sink.InitError{Sink: name, Err: err}
	}
	s.lastPath = path
	return nil
}

// Record appends one row to the file for the sample's period. A period the
// sink has not touched yet gets its file (with header) created first.
func (s *Sink) Record(ctx context.Context, smp sample.Sample) error {
	row, err := formatRow(smp)
	if err != nil {
		return err
	}
	path := s.Path(smp.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if path != s.lastPath {
		if err := s.ensure(path); err != nil {
			return err
		}
		if s.lastPath != "" {
			s.logger.Info("record file rotated", "from", filepath.Base(s.lastPath), "to", filepath.Base(path))
		}
		s.lastPath = path
	}

	err = appendRow(path, row)
	if errors.Is(err, fs.ErrNotExist) {
		// Removed since it was last seen; recreate with a header.
		if err := s.ensure(path); err != nil {
			return err
		}
		err = appendRow(path, row)
	}
	if err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// ensure runs the same directory + file checks as Initialize.
func (s *Sink) ensure(path string) error {
	if err := ensureDir(s.dir); err != nil {
		return err
	}
	return s.ensureFile(path)
}

// ensureFile creates path with a header if it does not exist. O_EXCL makes
// the existence check and the creation a single step, so a file is never
// created twice and an existing file is never truncated. An existing empty
// file (crash between create and header) gets its header.
func (s *Sink) ensureFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G304: path is built from configured directory + template
	if err == nil {
		werr := writeAndSync(f, []byte(Header+"\n"))
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("write header to %s: %w", path, werr)
		}
		s.logger.Info("record file created", "path", path)
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		if err := appendRow(path, []byte(Header+"\n")); err != nil {
			return fmt.Errorf("write header to %s: %w", path, err)
		}
		s.logger.Warn("header written to empty record file", "path", path)
	}
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
		return nil
	default:
		return fmt.Errorf("stat %s: %w", dir, err)
	}
}

func appendRow(path string, row []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0) //nolint:gosec // G304: path is built from configured directory + template
	if err != nil {
		return err
	}
	werr := writeAndSync(f, row)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

func writeAndSync(f *os.File, b []byte) error {
	if _, err := f.Write(b); err != nil {
		return err
	}
	return f.Sync()
}

// formatRow renders timestamp,temperature,humidity followed by a newline.
func formatRow(smp sample.Sample) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(smp.Fields()); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("format row: %w", err)
	}
	return buf.Bytes(), nil
}

func hasSeparator(s string) bool {
	return strings.ContainsRune(s, '/') || strings.ContainsRune(s, filepath.Separator)
}
