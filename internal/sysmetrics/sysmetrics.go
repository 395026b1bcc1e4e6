// Package sysmetrics samples the daemon's own CPU and memory usage so they
// can be exported next to the recording metrics. A Raspberry Pi running
// the recorder for months is worth watching for slow leaks.
package sysmetrics

import (
	"runtime"
	"sync"
	"syscall"
	"time"
)

// Sampler computes CPU usage between successive calls.
type Sampler struct {
	now func() time.Time

	mu       sync.Mutex
	lastWall time.Time
	lastCPU  time.Duration
	lastPct  float64
}

// NewSampler starts measuring from now.
func NewSampler() *Sampler {
	s := &Sampler{now: time.Now}
	s.lastWall = s.now()
	s.lastCPU = cpuTime()
	return s
}

// CPUPercent returns process CPU usage since the previous call, as a
// percentage of one core. Multi-threaded work can exceed 100.
func (s *Sampler) CPUPercent() float64 {
	now := s.now()
	cpu := cpuTime()

	s.mu.Lock()
	defer s.mu.Unlock()

	wall := now.Sub(s.lastWall)
	if wall <= 0 {
		return s.lastPct
	}
	s.lastPct = float64(cpu-s.lastCPU) / float64(wall) * 100
	s.lastWall = now
	s.lastCPU = cpu
	return s.lastPct
}

// MemoryInuse returns live heap spans plus goroutine stacks, in bytes.
func MemoryInuse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse + m.StackInuse
}

// cpuTime is user plus system time consumed by the process.
func cpuTime() time.Duration {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}
