package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// gate blocks Record until released.
type gate struct {
	*Memory
	release chan struct{}
}

func (g gate) Record(ctx context.Context, s Sample) error {
	<-g.release
	return g.Memory.Record(ctx, s)
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestAsync_DeliversInOrder(t *testing.T) {
	mem := NewMemory(8)
	a, err := NewAsync(mem, 4, nil)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, a.Record(context.Background(), Sample{Tick: i}))
	}
	require.NoError(t, a.Flush())

	got := mem.Samples()
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].Tick)
	assert.Equal(t, uint64(3), got[2].Tick)
	require.NoError(t, a.Close())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	g := gate{Memory: NewMemory(8), release: make(chan struct{})}
	a, err := NewAsync(g, 1, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	ctx := context.Background()
	// the first sample is held by the drain goroutine or sits in the queue;
	// keep going until the queue rejects one
	var dropped error
	for i := uint64(1); i <= 3 && dropped == nil; i++ {
		dropped = a.Record(ctx, Sample{Tick: i})
	}
	assert.ErrorIs(t, dropped, ErrQueueFull)
	assert.Equal(t, int64(1), counterValue(t, reader, "telemetry.samples.dropped"))

	close(g.release)
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Record(ctx, Sample{}), ErrClosed)
	assert.NoError(t, a.Close(), "closing twice is a no-op")
}

func TestAsync_CountsInnerFailures(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	a, err := NewAsync(failingSink{errors.New("down")}, 2, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	require.NoError(t, a.Record(context.Background(), Sample{Tick: 1}))
	assert.Error(t, a.Flush())
	assert.Equal(t, int64(1), counterValue(t, reader, "telemetry.samples.failed"))
	assert.Equal(t, int64(1), counterValue(t, reader, "telemetry.samples.processed"))
	require.NoError(t, a.Close())
}
