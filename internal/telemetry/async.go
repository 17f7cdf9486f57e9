package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/hcsp/railsim/internal/telemetry"

// DefaultAsyncBuffer is the queue length of an Async sink created with a
// zero size.
const DefaultAsyncBuffer = 256

var (
	// ErrQueueFull is returned by the queued sinks when their queue is full.
	// The sample is dropped.
	ErrQueueFull = errors.New("telemetry queue full")
	// ErrClosed is returned by Record after Close.
	ErrClosed = errors.New("telemetry sink closed")
)

// Async records samples into inner from a background goroutine so slow
// exporters never hold up the tick.
type Async struct {
	inner   Sink
	queue   chan Sample
	pending sync.WaitGroup
	done    chan struct{}

	mu     sync.Mutex
	closed bool

	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter
}

// NewAsync starts the drain goroutine. mp may be nil to use the global
// meter provider.
func NewAsync(inner Sink, size int, mp metric.MeterProvider) (*Async, error) {
	if size <= 0 {
		size = DefaultAsyncBuffer
	}
	var m metric.Meter
	if mp == nil {
		m = otel.Meter(instrumentationName)
	} else {
		m = mp.Meter(instrumentationName)
	}

	processed, err := m.Int64Counter("telemetry.samples.processed",
		metric.WithDescription("Samples handed to the inner sink"))
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	dropped, err := m.Int64Counter("telemetry.samples.dropped",
		metric.WithDescription("Samples dropped because the queue was full"))
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	failed, err := m.Int64Counter("telemetry.samples.failed",
		metric.WithDescription("Samples the inner sink rejected"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	a := &Async{
		inner:     inner,
		queue:     make(chan Sample, size),
		done:      make(chan struct{}),
		processed: processed,
		dropped:   dropped,
		failed:    failed,
	}
	go a.drain()
	return a, nil
}

func (a *Async) drain() {
	defer close(a.done)
	ctx := context.Background()
	for s := range a.queue {
		if err := a.inner.Record(ctx, s); err != nil {
			a.failed.Add(ctx, 1)
		}
		a.processed.Add(ctx, 1)
		a.pending.Done()
	}
}

// Record queues s without blocking.
func (a *Async) Record(ctx context.Context, s Sample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.pending.Add(1)
	select {
	case a.queue <- s:
		return nil
	default:
		a.pending.Done()
		a.dropped.Add(ctx, 1)
		return ErrQueueFull
	}
}

// Flush waits for queued samples to reach the inner sink, then flushes it.
func (a *Async) Flush() error {
	a.pending.Wait()
	return a.inner.Flush()
}

// Close drains the queue and closes the inner sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.inner.Close()
}
