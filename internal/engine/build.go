package engine

import (
	"fmt"
	"log/slog"
	"time"

	"tempwatchdog/internal/config"
	"tempwatchdog/internal/sink"
	"tempwatchdog/internal/sink/csvfile"
	"tempwatchdog/internal/sink/mqtt"
	"tempwatchdog/internal/sink/sheets"
)

// BuildSinks maps each enabled sink section of cfg to its sink, in the order
// csv, googleSheets, mqtt. Disabled sections produce nothing. No I/O happens
// here; that is left to Initialize.
func BuildSinks(cfg *config.Config, logger *slog.Logger) ([]sink.Sink, error) {
	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	var sinks []sink.Sink

	if c := cfg.CSV; c.Enable {
		s, err := csvfile.New(csvfile.Options{
			Directory:      c.SaveDirectory,
			FileNameFormat: c.FileNameFormat,
			FilePrefix:     c.FilePrefix,
			Now:            now,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("csv sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if c := cfg.GoogleSheets; c.Enable {
		s, err := sheets.New(sheets.Options{
			Transport: sheets.NewGoogleTransport(sheets.GoogleOptions{
				SheetID:         c.SheetID,
				CredentialsFile: c.CredentialsFile,
			}),
			TitleFormat: c.SheetTitleFormat,
			Header:      c.HeaderLabels,
			Now:         now,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("sheets sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if c := cfg.MQTT; c.Enable {
		s, err := mqtt.New(mqtt.Options{
			Broker:   c.Broker,
			Topic:    c.Topic,
			ClientID: c.ClientID,
			Username: c.Username,
			Password: c.Password,
			QoS:      byte(c.QoS),
			Retain:   c.Retain,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	return sinks, nil
}
