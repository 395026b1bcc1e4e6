package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	if Default(nil).Enabled(context.Background(), slog.LevelError) {
		t.Error("Default(nil) is enabled; want a discard logger")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Default(l) != l {
		t.Error("Default(l) did not return l")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// newFiltered builds the handler chain the daemon uses: a text handler that
// accepts everything, behind a filter at info with the given overrides.
func newFiltered(overrides map[string]slog.Level) (*slog.Logger, *ComponentFilterHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	filter := NewComponentFilterHandler(base, slog.LevelInfo)
	for comp, l := range overrides {
		filter.SetLevel(comp, l)
	}
	return slog.New(filter), filter, &buf
}

func TestComponentLevels(t *testing.T) {
	logger, _, buf := newFiltered(map[string]slog.Level{
		"engine":        slog.LevelDebug,
		"sink-registry": slog.LevelWarn,
	})

	tests := []struct {
		component string
		level     slog.Level
		want      bool
	}{
		{"engine", slog.LevelDebug, true},
		{"schedule", slog.LevelDebug, false},
		{"schedule", slog.LevelInfo, true},
		{"sink-registry", slog.LevelInfo, false},
		{"sink-registry", slog.LevelWarn, true},
		{"csv", slog.LevelDebug, false},
		{"", slog.LevelDebug, false},
		{"", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		buf.Reset()
		l := logger
		if tt.component != "" {
			l = logger.With("component", tt.component)
		}
		l.Log(context.Background(), tt.level, "cycle recorded")
		if got := buf.Len() > 0; got != tt.want {
			t.Errorf("%q at %v: logged = %v, want %v", tt.component, tt.level, got, tt.want)
		}
	}
}

func TestComponentFromRecordAttr(t *testing.T) {
	logger, _, buf := newFiltered(map[string]slog.Level{"metrics": slog.LevelDebug})

	logger.Debug("serving", "component", "metrics", "addr", ":9273")
	logger.Debug("tick", "component", "schedule")
	out := buf.String()
	if !strings.Contains(out, "serving") {
		t.Errorf("metrics debug dropped: %q", out)
	}
	if strings.Contains(out, "tick") {
		t.Errorf("schedule debug logged: %q", out)
	}
}

func TestDerivedLoggersKeepComponent(t *testing.T) {
	logger, filter, buf := newFiltered(nil)
	engine := logger.With("component", "engine")
	cycle := engine.With("cycle", "0192f0c1").WithGroup("sample")

	cycle.Debug("sample read", "temperature", 21.5)
	if buf.Len() != 0 {
		t.Fatalf("debug logged before override: %q", buf.String())
	}

	// Overrides set after a logger was derived still apply to it.
	filter.SetLevel("engine", slog.LevelDebug)
	cycle.Debug("sample read", "temperature", 21.5)
	out := buf.String()
	if !strings.Contains(out, "component=engine") || !strings.Contains(out, "cycle=0192f0c1") {
		t.Errorf("output = %q, want component and cycle attrs", out)
	}
}

func TestClearLevel(t *testing.T) {
	_, filter, _ := newFiltered(map[string]slog.Level{"sensor": slog.LevelDebug})
	if filter.Level("sensor") != slog.LevelDebug {
		t.Fatalf("Level(sensor) = %v", filter.Level("sensor"))
	}
	filter.ClearLevel("sensor")
	filter.ClearLevel("never-set")
	if got := filter.Level("sensor"); got != filter.DefaultLevel() {
		t.Errorf("Level(sensor) after clear = %v, want %v", got, filter.DefaultLevel())
	}
}

func TestEnabledWithoutComponent(t *testing.T) {
	// slog calls Enabled before the record's attrs are known, so a logger
	// without a component allows any level some override allows.
	logger, filter, _ := newFiltered(nil)
	ctx := context.Background()

	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug enabled with no override")
	}
	filter.SetLevel("mqtt", slog.LevelDebug)
	if !logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug disabled although mqtt allows it")
	}
	if logger.With("component", "engine").Enabled(ctx, slog.LevelDebug) {
		t.Error("engine logger enabled at debug")
	}
}
