// Command tempwatchdog records temperature and humidity readings from a DHT
// sensor to a rotating CSV file, a Google spreadsheet and an MQTT broker.
//
// Logging:
//   - The only handler is created here, after the configuration is loaded
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own "component" attribute
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tempwatchdog/internal/config"
	"tempwatchdog/internal/engine"
	"tempwatchdog/internal/home"
	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/metrics"
	"tempwatchdog/internal/schedule"
	"tempwatchdog/internal/sensor"
)

var version = "dev"

// envConfigPath overrides the default configuration file location.
const envConfigPath = "TEMPWATCHDOG_CONFIG"

const recordJob = "record"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the exit code. A failure is
// logged through the configured logger, or through a text handler on stderr
// when it happened before the configuration loaded.
func execute(args []string, stdout, stderr io.Writer) int {
	var logger *slog.Logger
	cmd := newRootCmd(stdout, stderr, func(l *slog.Logger) { logger = l })
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(stderr, nil))
		}
		logger.Error("fatal", "error", err)
		return 1
	}
	return 0
}

// newRootCmd builds the command tree. onLogger, if set, receives the process
// logger once a command has built it.
func newRootCmd(stdout, stderr io.Writer, onLogger func(*slog.Logger)) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tempwatchdog",
		Short:         "Temperature and humidity recorder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().String("config", "", "configuration file (default: $"+envConfigPath+" or <user config dir>/tempwatchdog/config.toml)")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level from the configuration")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Record on the configured schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, stderr, onLogger)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, logger)
		},
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Initialize sinks, record a single sample, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, stderr, onLogger)
			if err != nil {
				return err
			}
			return once(cmd.Context(), cfg, logger)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path, nil)
			if err != nil {
				return err
			}
			spec := schedule.Spec{Interval: cfg.Interval(), Cron: cfg.CronExpression}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (schedule: %s, sinks: %v, timezone: %s)\n",
				path, spec, enabledSinks(cfg), cfg.Location())
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration to the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			hd, err := home.Default()
			if err != nil {
				return err
			}
			path, err := writeStarterConfig(hd, force)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing configuration")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(runCmd, onceCmd, validateCmd, initCmd, versionCmd)
	return rootCmd
}

// setup loads the configuration and builds the logger from it.
func setup(cmd *cobra.Command, stderr io.Writer, onLogger func(*slog.Logger)) (*config.Config, *slog.Logger, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path, nil)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logger, err := newLogger(stderr, cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if onLogger != nil {
		onLogger(logger)
	}
	logger.Info("configuration loaded", "path", path, "version", version)
	return cfg, logger, nil
}

// configPath resolves --config, then $TEMPWATCHDOG_CONFIG, then the home
// directory default.
func configPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, nil
	}
	if p := os.Getenv(envConfigPath); p != "" {
		return p, nil
	}
	hd, err := home.Default()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return hd.ConfigPath(), nil
}

// newLogger builds the process handler: text or JSON on w, wrapped in a
// ComponentFilterHandler carrying the configured per-component levels.
func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	// Allow all levels; filtering is done by ComponentFilterHandler.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var base slog.Handler
	if lc.Format == "json" {
		base = slog.NewJSONHandler(w, opts)
	} else {
		base = slog.NewTextHandler(w, opts)
	}
	filter := logging.NewComponentFilterHandler(base, level)
	for comp, name := range lc.Components {
		l, err := logging.ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("log level for %s: %w", comp, err)
		}
		filter.SetLevel(comp, l)
	}
	return slog.New(filter), nil
}

func newEngine(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*engine.Engine, error) {
	sens, err := sensor.New(sensor.Options{
		Driver:  cfg.Sensor.Driver,
		Pin:     cfg.PinNumber,
		IIORoot: cfg.Sensor.IIORoot,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Sensor:   sens,
		Logger:   logger,
		Location: cfg.Location(),
		Metrics:  m,
	})
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var m *metrics.Metrics
	if cfg.Metrics.Enable {
		m = metrics.New()
	}

	eng, err := newEngine(cfg, logger, m)
	if err != nil {
		return err
	}
	if err := eng.Initialize(ctx, cfg); err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("close sinks", "error", err)
		}
	}()

	sched, err := schedule.New(cfg.Location(), logger, schedule.WithStopTimeout(cfg.ShutdownTimeout()))
	if err != nil {
		return err
	}
	spec := schedule.Spec{
		Interval:   cfg.Interval(),
		Cron:       cfg.CronExpression,
		RunOnStart: cfg.RunOnStart,
	}
	if err := sched.Add(recordJob, spec, eng.RunCycle); err != nil {
		return err
	}

	metricsErr := make(chan error, 1)
	if m != nil {
		go func() { metricsErr <- m.Serve(ctx, cfg.Metrics.Addr, logger) }()
	}

	sched.Start()
	if next, err := sched.NextRun(recordJob); err == nil {
		logger.Info("recording", "schedule", spec.String(), "next_run", next)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-metricsErr:
		logger.Error("metrics server stopped", "error", runErr)
	}

	// Stop waits for a running cycle, up to the shutdown timeout; the deferred
	// eng.Close waits for any cycle still in flight after that.
	if err := sched.Stop(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop scheduler: %w", err))
	}
	return runErr
}

func once(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	eng, err := newEngine(cfg, logger, nil)
	if err != nil {
		return err
	}
	if err := eng.Initialize(ctx, cfg); err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("close sinks", "error", err)
		}
	}()
	return eng.Cycle(ctx)
}

func enabledSinks(cfg *config.Config) []string {
	var names []string
	if cfg.CSV.Enable {
		names = append(names, "csv")
	}
	if cfg.GoogleSheets.Enable {
		names = append(names, "googleSheets")
	}
	if cfg.MQTT.Enable {
		names = append(names, "mqtt")
	}
	return names
}
