package sample

import (
	"slices"
	"testing"
	"time"
)

func TestFields(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	s := New(time.Date(2024, 5, 1, 8, 3, 9, 500, loc), Reading{Temperature: 23.46, Humidity: 40})

	want := []string{"2024-05-01T08:03:09", "23.5", "40.0"}
	if got := s.Fields(); !slices.Equal(got, want) {
		t.Errorf("Fields() = %v, want %v", got, want)
	}
}

func TestFormatDecimalNegative(t *testing.T) {
	if got := FormatDecimal(-3.04); got != "-3.0" {
		t.Errorf("got %s", got)
	}
}

func TestString(t *testing.T) {
	s := New(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Reading{Temperature: 21, Humidity: 55.26})
	want := "2024-01-02T03:04:05 Temperature: 21.0℃ Humidity: 55.3%"
	if got := s.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
