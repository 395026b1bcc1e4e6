// Package config loads the daemon configuration from a TOML file, applies
// environment overrides and defaults, and validates it.
//
// Config is an explicit value passed to the engine at initialization. There
// is no package-level state. Every validation problem is collected into one
// ConfigurationError so the operator sees them all at once.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/sensor"
	"tempwatchdog/internal/timekey"
)

// Environment variables that override file values.
const (
	EnvRecordsDir = "RECORDS_DIR"
	EnvPinNumber  = "PIN_NUMBER"
	EnvIntervalMs = "INTERVAL_MS"
)

// Defaults applied when a field is absent.
const (
	DefaultCSVFileNameFormat  = "YYYY-MM"
	DefaultCSVFilePrefix      = "temp-watchdog"
	DefaultSheetTitleFormat   = "YYYY-MM [温湿度]"
	DefaultMetricsAddr        = ":9273"
	DefaultMQTTTopic          = "tempwatchdog/samples"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultIIORoot            = "/sys/bus/iio/devices"
	DefaultShutdownTimeoutMs  = 5 * 60 * 1000
	defaultTimezone           = "Local"
	sheetHeaderLabelsRequired = 3
)

// Config is the full daemon configuration.
type Config struct {
	PinNumber      int    `toml:"pinNumber"`
	IntervalMs     int64  `toml:"intervalMs"`
	CronExpression string `toml:"cronExpression"`
	// CronSyntax is the legacy name for CronExpression.
	CronSyntax string `toml:"cronSyntax"`
	RunOnStart bool   `toml:"runOnStart"`
	Timezone   string `toml:"timezone"`
	// ShutdownTimeoutMs bounds how long shutdown waits for a running cycle.
	ShutdownTimeoutMs int64 `toml:"shutdownTimeoutMs"`

	Sensor       SensorConfig  `toml:"sensor"`
	CSV          CSVConfig     `toml:"csv"`
	GoogleSheets SheetsConfig  `toml:"googleSheets"`
	MQTT         MQTTConfig    `toml:"mqtt"`
	Metrics      MetricsConfig `toml:"metrics"`
	Log          LogConfig     `toml:"log"`

	location *time.Location
}

// SensorConfig selects the sensor driver.
type SensorConfig struct {
	Driver  string `toml:"driver"`
	IIORoot string `toml:"iioRoot"`
}

// CSVConfig configures the local CSV sink.
type CSVConfig struct {
	Enable         bool   `toml:"enable"`
	SaveDirectory  string `toml:"saveDirectory"`
	FileNameFormat string `toml:"fileNameFormat"`
	FilePrefix     string `toml:"filePrefix"`
}

// SheetsConfig configures the spreadsheet sink.
type SheetsConfig struct {
	Enable           bool     `toml:"enable"`
	SheetID          string   `toml:"sheetId"`
	CredentialsFile  string   `toml:"credentialsFile"`
	SheetTitleFormat string   `toml:"sheetTitleFormat"`
	HeaderLabels     []string `toml:"headerLabels"`
}

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Enable   bool   `toml:"enable"`
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"clientId"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	QoS      int    `toml:"qos"`
	Retain   bool   `toml:"retain"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enable bool   `toml:"enable"`
	Addr   string `toml:"addr"`
}

// LogConfig configures the log handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// Components maps a component name to its level, e.g. engine = "debug".
	Components map[string]string `toml:"components"`
}

// ConfigurationError lists every problem found in a configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Load reads path, applies environment overrides from getenv (nil means
// os.LookupEnv), fills defaults, and validates.
func Load(path string, getenv func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML without validating. Unknown keys are errors, so a typo
// in an option name does not silently fall back to a default.
func Parse(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, &ConfigurationError{Problems: []string{"unknown keys: " + strings.Join(keys, ", ")}}
	}
	return &cfg, nil
}

// ApplyEnv overrides file values from the environment. RECORDS_DIR enables
// the CSV sink with that directory. INTERVAL_MS replaces any cron schedule.
func (c *Config) ApplyEnv(getenv func(string) (string, bool)) error {
	if getenv == nil {
		getenv = os.LookupEnv
	}
	var problems []string

	if dir, ok := getenv(EnvRecordsDir); ok && dir != "" {
		c.CSV.Enable = true
		c.CSV.SaveDirectory = dir
	}
	if v, ok := getenv(EnvPinNumber); ok && v != "" {
		pin, err := strconv.Atoi(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not an integer", EnvPinNumber, v))
		} else {
			c.PinNumber = pin
		}
	}
	if v, ok := getenv(EnvIntervalMs); ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not an integer", EnvIntervalMs, v))
		} else {
			c.IntervalMs = ms
			c.CronExpression = ""
			c.CronSyntax = ""
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// Validate fills defaults and checks every rule, returning a
// *ConfigurationError listing all problems.
func (c *Config) Validate() error {
	c.applyDefaults()
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Sensor.Driver {
	case sensor.DriverIIO:
		if c.PinNumber <= 0 {
			add("pinNumber is required and must be positive")
		}
	case sensor.DriverSimulated:
	default:
		add("sensor.driver %q is not one of %q, %q", c.Sensor.Driver, sensor.DriverIIO, sensor.DriverSimulated)
	}

	if c.CronSyntax != "" {
		if c.CronExpression != "" && c.CronExpression != c.CronSyntax {
			add("cronExpression and cronSyntax are both set and differ")
		} else {
			c.CronExpression = c.CronSyntax
		}
	}
	switch {
	case c.IntervalMs != 0 && c.CronExpression != "":
		add("set exactly one of intervalMs or cronExpression, not both")
	case c.IntervalMs == 0 && c.CronExpression == "":
		add("one of intervalMs or cronExpression is required")
	case c.IntervalMs < 0:
		add("intervalMs must be positive, got %d", c.IntervalMs)
	case c.CronExpression != "":
		if err := ValidateCron(c.CronExpression); err != nil {
			add("cronExpression: %v", err)
		}
	}

	if c.ShutdownTimeoutMs < 0 {
		add("shutdownTimeoutMs must be positive, got %d", c.ShutdownTimeoutMs)
	}

	loc, err := loadLocation(c.Timezone)
	if err != nil {
		add("timezone %q: %v", c.Timezone, err)
	}
	c.location = loc

	if c.CSV.Enable {
		if c.CSV.SaveDirectory == "" {
			add("csv.saveDirectory is required when csv is enabled")
		}
		if err := validateTemplate(c.CSV.FileNameFormat); err != nil {
			add("csv.fileNameFormat: %v", err)
		} else if strings.ContainsAny(c.CSV.FileNameFormat, `/\`) {
			add("csv.fileNameFormat must not contain a path separator")
		}
		if strings.ContainsAny(c.CSV.FilePrefix, `/\`) {
			add("csv.filePrefix must not contain a path separator")
		}
	}

	if c.GoogleSheets.Enable {
		if c.GoogleSheets.SheetID == "" {
			add("googleSheets.sheetId is required when googleSheets is enabled")
		}
		if c.GoogleSheets.CredentialsFile == "" {
			add("googleSheets.credentialsFile is required when googleSheets is enabled")
		}
		if err := validateTemplate(c.GoogleSheets.SheetTitleFormat); err != nil {
			add("googleSheets.sheetTitleFormat: %v", err)
		}
		if n := len(c.GoogleSheets.HeaderLabels); n != 0 && n != sheetHeaderLabelsRequired {
			add("googleSheets.headerLabels needs exactly %d labels, got %d", sheetHeaderLabelsRequired, n)
		}
	}

	if c.MQTT.Enable {
		if c.MQTT.Broker == "" {
			add("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			add("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	for comp, lvl := range c.Log.Components {
		if _, err := logging.ParseLevel(lvl); err != nil {
			add("log.components.%s: %v", comp, err)
		}
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format %q is not one of \"text\", \"json\"", c.Log.Format)
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Sensor.Driver == "" {
		c.Sensor.Driver = sensor.DriverIIO
	}
	if c.Sensor.IIORoot == "" {
		c.Sensor.IIORoot = DefaultIIORoot
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.ShutdownTimeoutMs == 0 {
		c.ShutdownTimeoutMs = DefaultShutdownTimeoutMs
	}
	if c.CSV.FileNameFormat == "" {
		c.CSV.FileNameFormat = DefaultCSVFileNameFormat
	}
	if c.CSV.FilePrefix == "" {
		c.CSV.FilePrefix = DefaultCSVFilePrefix
	}
	if c.GoogleSheets.SheetTitleFormat == "" {
		c.GoogleSheets.SheetTitleFormat = DefaultSheetTitleFormat
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = DefaultMQTTTopic
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// AnySinkEnabled reports whether at least one sink is enabled. Running with
// none is allowed: cycles then only read and log.
func (c *Config) AnySinkEnabled() bool {
	return c.CSV.Enable || c.GoogleSheets.Enable || c.MQTT.Enable
}

// ShutdownTimeout is how long shutdown waits for a running cycle.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

// Interval returns the fixed schedule interval, or 0 when a cron expression
// is configured.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Location returns the timezone samples are stamped in. Valid after Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == defaultTimezone {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func validateTemplate(tmpl string) error {
	_, err := timekey.Compile(tmpl)
	return err
}

var secondsParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron accepts standard 5-field expressions, 6-field expressions
// with a leading seconds field, and @descriptors such as @hourly.
func ValidateCron(expr string) error {
	var err error
	switch n := len(strings.Fields(expr)); {
	case strings.HasPrefix(strings.TrimSpace(expr), "@"):
		_, err = cron.ParseStandard(expr)
	case n == 5:
		_, err = cron.ParseStandard(expr)
	case n == 6:
		_, err = secondsParser.Parse(expr)
	default:
		err = fmt.Errorf("expected 5 or 6 fields, got %d", n)
	}
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}
