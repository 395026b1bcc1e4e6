package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"tempwatchdog/internal/logging"
	"tempwatchdog/internal/sample"
)

// DefaultIIORoot is where the kernel exposes industrial I/O devices.
const DefaultIIORoot = "/sys/bus/iio/devices"

// IIO reads a DHT11/DHT22 through the Linux "dht11" IIO driver, enabled on a
// Raspberry Pi with "dtoverlay=dht11,gpiopin=<pin>". The kernel performs the
// timing-sensitive single-wire protocol; a checksum or timing failure shows
// up as an error from the read of the channel file.
type IIO struct {
	root   string
	pin    int
	logger *slog.Logger

	mu  sync.Mutex
	dir string // resolved device directory; empty until first successful lookup
}

// NewIIO creates a driver for the sensor wired to the given GPIO pin.
func NewIIO(root string, pin int, logger *slog.Logger) *IIO {
	if root == "" {
		root = DefaultIIORoot
	}
	return &IIO{
		root:   root,
		pin:    pin,
		logger: logging.Default(logger).With("component", "sensor", "driver", DriverIIO),
	}
}

// Read returns temperature in °C and relative humidity in %.
func (d *IIO) Read(ctx context.Context) (sample.Reading, error) {
	if err := ctx.Err(); err != nil {
		return sample.Reading{}, err
	}
	dir, err := d.device()
	if err != nil {
		return sample.Reading{}, err
	}

	temp, err := readMilli(filepath.Join(dir, "in_temp_input"))
	if err != nil {
		return sample.Reading{}, fmt.Errorf("read temperature: %w", err)
	}
	hum, err := readMilli(filepath.Join(dir, "in_humidityrelative_input"))
	if err != nil {
		return sample.Reading{}, fmt.Errorf("read humidity: %w", err)
	}
	return sample.Reading{Temperature: temp, Humidity: hum}, nil
}

// device resolves the IIO device directory for d.pin. A device named
// "dht11@<pin>" (decimal or hex unit address) wins; otherwise a single dht11
// device is accepted.
func (d *IIO) device() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dir != "" {
		return d.dir, nil
	}

	matches, err := filepath.Glob(filepath.Join(d.root, "iio:device*"))
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", d.root, err)
	}

	wanted := map[string]bool{
		"dht11@" + strconv.Itoa(d.pin):                 true,
		"dht11@" + strconv.FormatInt(int64(d.pin), 16): true,
	}
	var candidates []string
	for _, dir := range matches {
		raw, err := os.ReadFile(filepath.Join(dir, "name")) //nolint:gosec // G304: path is under the sysfs IIO root
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(raw))
		if wanted[name] {
			d.dir = dir
			d.logger.Info("sensor device resolved", "device", dir, "name", name)
			return dir, nil
		}
		if strings.HasPrefix(name, "dht11") {
			candidates = append(candidates, dir)
		}
	}

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no dht11 IIO device under %s (is dtoverlay=dht11,gpiopin=%d loaded?)", d.root, d.pin)
	case 1:
		d.dir = candidates[0]
		d.logger.Info("sensor device resolved", "device", d.dir)
		return d.dir, nil
	default:
		return "", fmt.Errorf("%d dht11 IIO devices under %s and none bound to pin %d", len(candidates), d.root, d.pin)
	}
}

// readMilli reads an integer channel value in thousandths.
func readMilli(path string) (float64, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path is under the sysfs IIO root
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return float64(v) / 1000, nil
}
