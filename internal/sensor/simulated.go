package sensor

import (
	"context"
	"math/rand/v2"
	"sync"

	"tempwatchdog/internal/sample"
)

// Simulated produces a bounded random walk around indoor conditions.
// It is used for development without hardware and for end-to-end runs.
type Simulated struct {
	mu   sync.Mutex
	rng  *rand.Rand
	temp float64
	hum  float64
}

// NewSimulated creates a simulated sensor with a deterministic seed.
func NewSimulated(seed uint64) *Simulated {
	return &Simulated{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		temp: 22,
		hum:  50,
	}
}

func (s *Simulated) Read(ctx context.Context) (sample.Reading, error) {
	if err := ctx.Err(); err != nil {
		return sample.Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temp = clamp(s.temp+(s.rng.Float64()-0.5)*0.4, 15, 30)
	s.hum = clamp(s.hum+(s.rng.Float64()-0.5)*2, 30, 70)
	return sample.Reading{Temperature: s.temp, Humidity: s.hum}, nil
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
