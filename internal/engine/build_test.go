package engine

import (
	"slices"
	"testing"

	"tempwatchdog/internal/config"
)

func TestBuildSinks(t *testing.T) {
	cfg, err := config.Parse(`
pinNumber = 4
intervalMs = 1000
[csv]
enable = true
saveDirectory = "records"
[googleSheets]
enable = true
sheetId = "doc"
credentialsFile = "sa.json"
[mqtt]
enable = true
broker = "tcp://localhost:1883"
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	sinks, err := BuildSinks(cfg, nil)
	if err != nil {
		t.Fatalf("BuildSinks: %v", err)
	}
	var names []string
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	if !slices.Equal(names, []string{"csv", "sheets", "mqtt"}) {
		t.Errorf("names = %v", names)
	}
}

func TestBuildSinksSkipsDisabled(t *testing.T) {
	cfg := &config.Config{
		CSV:          config.CSVConfig{Enable: false, SaveDirectory: "records"},
		GoogleSheets: config.SheetsConfig{Enable: false},
	}
	sinks, err := BuildSinks(cfg, nil)
	if err != nil {
		t.Fatalf("BuildSinks: %v", err)
	}
	if len(sinks) != 0 {
		t.Errorf("sinks = %d, want 0", len(sinks))
	}
}

func TestBuildSinksRejectsBadOptions(t *testing.T) {
	cfg := &config.Config{CSV: config.CSVConfig{Enable: true, SaveDirectory: "records", FileNameFormat: "[unclosed"}}
	if _, err := BuildSinks(cfg, nil); err == nil {
		t.Fatal("BuildSinks accepted a malformed template")
	}
}
