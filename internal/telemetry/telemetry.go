// Package telemetry exports per-tick diagnostics. Nothing recorded here is
// ever read back into the simulation.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/hcsp/railsim/internal/frames"
)

// Sample is one tick's worth of diagnostics.
type Sample struct {
	Tick    uint64
	Elapsed float64
	// Wall is the simulated wall-clock time of the tick.
	Wall time.Time

	ActiveName     string
	ActivePosition frames.RootPosition
	ActiveVelocity frames.RootVelocity

	Classified int
	Evaluated  int
	Shifted    int
	Gravitated int
	Contacts   int

	Duration time.Duration
}

// Sink receives samples. Implementations must not block the tick.
type Sink interface {
	Record(ctx context.Context, s Sample) error
	Flush() error
	Close() error
}

// Nop discards samples.
type Nop struct{}

func (Nop) Record(context.Context, Sample) error { return nil }
func (Nop) Flush() error                         { return nil }
func (Nop) Close() error                         { return nil }

// DefaultMemoryCapacity bounds a Memory sink created with a zero capacity.
const DefaultMemoryCapacity = 4096

// Memory keeps the most recent samples in a ring.
type Memory struct {
	mu       sync.Mutex
	samples  []Sample
	next     int
	full     bool
	recorded uint64
}

// NewMemory returns a ring holding up to capacity samples.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{samples: make([]Sample, capacity)}
}

// Record stores s, evicting the oldest sample when full.
func (m *Memory) Record(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
	m.recorded++
	return nil
}

// Samples returns the retained samples, oldest first.
func (m *Memory) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]Sample(nil), m.samples[:m.next]...)
	}
	out := make([]Sample, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}

// Last returns the most recent sample.
func (m *Memory) Last() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorded == 0 {
		return Sample{}, false
	}
	i := (m.next - 1 + len(m.samples)) % len(m.samples)
	return m.samples[i], true
}

// Recorded returns the total number of samples ever recorded.
func (m *Memory) Recorded() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorded
}

func (m *Memory) Flush() error { return nil }
func (m *Memory) Close() error { return nil }

// Multi fans samples out to several sinks and returns the first error.
type Multi []Sink

func (ms Multi) Record(ctx context.Context, s Sample) error {
	var first error
	for _, sink := range ms {
		if err := sink.Record(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (ms Multi) Flush() error {
	var first error
	for _, sink := range ms {
		if err := sink.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (ms Multi) Close() error {
	var first error
	for _, sink := range ms {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
