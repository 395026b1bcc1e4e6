// Package sample defines the unit of data produced by one recording cycle.
package sample

import (
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the rendering used by every sink for the sample time.
const TimestampLayout = "2006-01-02T15:04:05"

// Reading is the raw result of one sensor read.
type Reading struct {
	Temperature float64 // degrees Celsius
	Humidity    float64 // relative humidity, percent
}

// Sample is a stamped reading. It is a value type; sinks receive a copy and
// must not retain it beyond the cycle.
type Sample struct {
	Timestamp   time.Time
	Temperature float64
	Humidity    float64
}

// New stamps a reading with the given time.
func New(ts time.Time, r Reading) Sample {
	return Sample{Timestamp: ts, Temperature: r.Temperature, Humidity: r.Humidity}
}

// FormatTimestamp renders the sample time in its own location.
func (s Sample) FormatTimestamp() string {
	return s.Timestamp.Format(TimestampLayout)
}

// FormatTemperature renders the temperature with one decimal place.
func (s Sample) FormatTemperature() string {
	return FormatDecimal(s.Temperature)
}

// FormatHumidity renders the humidity with one decimal place.
func (s Sample) FormatHumidity() string {
	return FormatDecimal(s.Humidity)
}

// Fields returns timestamp, temperature, humidity in fixed order.
func (s Sample) Fields() []string {
	return []string{s.FormatTimestamp(), s.FormatTemperature(), s.FormatHumidity()}
}

// String is the human-readable log form.
func (s Sample) String() string {
	return fmt.Sprintf("%s Temperature: %s℃ Humidity: %s%%",
		s.FormatTimestamp(), s.FormatTemperature(), s.FormatHumidity())
}

// FormatDecimal is the fixed decimal representation shared by all sinks.
func FormatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
