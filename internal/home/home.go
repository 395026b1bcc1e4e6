// Package home manages the tempwatchdog home directory layout.
//
// Layout:
//
//	<root>/
//	  config.toml                      (daemon configuration)
//	  records/                         (default CSV save directory)
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a tempwatchdog home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/tempwatchdog
//   - macOS:   ~/Library/Application Support/tempwatchdog
//   - Windows: %APPDATA%/tempwatchdog
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "tempwatchdog")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path to the TOML configuration file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "config.toml")
}

// RecordsDir returns the default directory for CSV records.
func (d Dir) RecordsDir() string {
	return filepath.Join(d.root, "records")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
