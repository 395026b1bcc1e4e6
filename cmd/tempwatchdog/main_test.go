package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tempwatchdog/internal/config"
	"tempwatchdog/internal/home"
)

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, _, code := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("version exited %d", code)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("output = %q, want %q", out, version)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
pinNumber = 4
cronExpression = "*/5 * * * *"
timezone = "UTC"
[csv]
enable = true
saveDirectory = "records"
`)
	out, stderr, code := runCLI(t, "validate", "--config", path)
	if code != 0 {
		t.Fatalf("validate exited %d: %s", code, stderr)
	}
	for _, want := range []string{"OK", "cron */5 * * * *", "[csv]", "UTC"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestValidateFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "intervalMs = 1000\ncronExpression = \"* * * * *\"\n")
	_, stderr, code := runCLI(t, "validate", "--config", path)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "pinNumber") || !strings.Contains(stderr, "not both") {
		t.Errorf("stderr = %q, want every problem listed", stderr)
	}
	if !strings.HasPrefix(stderr, "time=") || !strings.Contains(stderr, "level=ERROR") {
		t.Errorf("stderr = %q, want a timestamped error log line", stderr)
	}
	if strings.Contains(stderr, "Error:") {
		t.Errorf("stderr = %q, error printed twice", stderr)
	}
}

func TestUnknownCommandIsLogged(t *testing.T) {
	_, stderr, code := runCLI(t, "frobnicate")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "level=ERROR") || !strings.Contains(stderr, "frobnicate") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestConfigPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "env.toml", "pinNumber = 4\nintervalMs = 1000\n")
	t.Setenv(envConfigPath, path)
	out, stderr, code := runCLI(t, "validate")
	if code != 0 {
		t.Fatalf("validate exited %d: %s", code, stderr)
	}
	if !strings.HasPrefix(out, path) {
		t.Errorf("output = %q, want it to name %s", out, path)
	}
}

func TestOnceWritesCSV(t *testing.T) {
	dir := t.TempDir()
	records := filepath.Join(dir, "records")
	path := writeFile(t, dir, "config.toml", `
intervalMs = 60000
timezone = "UTC"
[sensor]
driver = "simulated"
[csv]
enable = true
saveDirectory = "`+filepath.ToSlash(records)+`"
[log]
format = "json"
`)
	_, stderr, code := runCLI(t, "once", "--config", path)
	if code != 0 {
		t.Fatalf("once exited %d\n%s", code, stderr)
	}

	matches, err := filepath.Glob(filepath.Join(records, "temp-watchdog_*_records.csv"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("record files = %v (%v), want 1", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || lines[0] != "datetime,temp,humidity" {
		t.Errorf("file = %q, want header and one row", data)
	}

	// Every log line is JSON.
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		if !json.Valid([]byte(line)) {
			t.Errorf("log line is not JSON: %q", line)
		}
	}
}

func TestOnceInitFailureExitsWithError(t *testing.T) {
	dir := t.TempDir()
	blocker := writeFile(t, dir, "blocker", "")
	path := writeFile(t, dir, "config.toml", `
intervalMs = 60000
[sensor]
driver = "simulated"
[csv]
enable = true
saveDirectory = "`+filepath.ToSlash(blocker)+`"
[log]
format = "json"
`)
	_, stderr, code := runCLI(t, "once", "--config", path)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1 with a file as the save directory", code)
	}

	// The failure goes through the configured JSON handler.
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("last log line %q is not JSON: %v", lines[len(lines)-1], err)
	}
	if last["level"] != "ERROR" || last["msg"] != "fatal" || last["time"] == nil {
		t.Errorf("last log line = %v, want a timestamped fatal error", last)
	}
	if msg, _ := last["error"].(string); !strings.Contains(msg, "csv") {
		t.Errorf("error = %q, want the csv init failure", msg)
	}
}

func TestNewLoggerComponentLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, config.LogConfig{
		Level:      "warn",
		Format:     "text",
		Components: map[string]string{"engine": "debug"},
	})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}

	logger.With("component", "engine").Debug("engine detail")
	logger.With("component", "sink").Info("sink chatter")
	logger.With("component", "sink").Warn("sink warning")

	out := buf.String()
	if !strings.Contains(out, "engine detail") {
		t.Error("engine debug suppressed despite override")
	}
	if strings.Contains(out, "sink chatter") {
		t.Error("sink info logged below default warn level")
	}
	if !strings.Contains(out, "sink warning") {
		t.Error("sink warning suppressed")
	}
}

func TestNewLoggerBadLevel(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, config.LogConfig{Level: "chatty"}); err == nil {
		t.Fatal("newLogger accepted an unknown level")
	}
}

func TestWriteStarterConfig(t *testing.T) {
	hd := home.New(filepath.Join(t.TempDir(), "tempwatchdog"))

	path, err := writeStarterConfig(hd, false)
	if err != nil {
		t.Fatalf("writeStarterConfig: %v", err)
	}
	if path != hd.ConfigPath() {
		t.Errorf("path = %q, want %q", path, hd.ConfigPath())
	}

	cfg, err := config.Load(path, func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("starter config does not validate: %v", err)
	}
	if cfg.CSV.SaveDirectory != hd.RecordsDir() {
		t.Errorf("saveDirectory = %q, want %q", cfg.CSV.SaveDirectory, hd.RecordsDir())
	}

	if _, err := writeStarterConfig(hd, false); err == nil {
		t.Error("second write without force succeeded")
	}
	if _, err := writeStarterConfig(hd, true); err != nil {
		t.Errorf("write with force: %v", err)
	}
}
