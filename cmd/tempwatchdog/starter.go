package main

import (
	"fmt"
	"os"
	"strconv"

	"tempwatchdog/internal/home"
)

const starterConfig = `# tempwatchdog configuration

# GPIO (BCM) pin the DHT sensor's data line is wired to.
pinNumber = 4

# Exactly one of intervalMs or cronExpression.
intervalMs = 60000
# cronExpression = "*/5 * * * *"

runOnStart = true
timezone = "Local"
# How long shutdown waits for a running cycle.
shutdownTimeoutMs = 300000

[sensor]
driver = "iio"

[csv]
enable = true
saveDirectory = %s
fileNameFormat = "YYYY-MM"
filePrefix = "temp-watchdog"

[googleSheets]
enable = false
sheetId = ""
credentialsFile = ""
sheetTitleFormat = "YYYY-MM [温湿度]"

[mqtt]
enable = false
broker = "tcp://localhost:1883"
topic = "tempwatchdog/samples"

[metrics]
enable = false
addr = ":9273"

[log]
level = "info"
format = "text"
`

// writeStarterConfig writes a starter configuration into hd, pointing the
// CSV sink at the home records directory. An existing file is kept unless
// force is set.
func writeStarterConfig(hd home.Dir, force bool) (string, error) {
	if err := hd.EnsureExists(); err != nil {
		return "", err
	}
	path := hd.ConfigPath()
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return "", fmt.Errorf("write config: %w", err)
	}
	if _, err := fmt.Fprintf(f, starterConfig, strconv.Quote(hd.RecordsDir())); err != nil {
		f.Close()
		return "", fmt.Errorf("write config: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
