package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcsp/railsim/internal/frames"
)

func TestMemory_KeepsOrderUntilFull(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()

	_, ok := m.Last()
	assert.False(t, ok)

	for i := uint64(1); i <= 2; i++ {
		require.NoError(t, m.Record(ctx, Sample{Tick: i}))
	}
	got := m.Samples()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Tick)
	assert.Equal(t, uint64(2), got[1].Tick)
}

func TestMemory_EvictsOldest(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()

	for i := uint64(1); i <= 7; i++ {
		require.NoError(t, m.Record(ctx, Sample{Tick: i}))
	}

	got := m.Samples()
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{5, 6, 7}, []uint64{got[0].Tick, got[1].Tick, got[2].Tick})

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(7), last.Tick)
	assert.Equal(t, uint64(7), m.Recorded())
}

func TestMemory_DefaultCapacity(t *testing.T) {
	m := NewMemory(0)
	assert.Len(t, m.samples, DefaultMemoryCapacity)
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, Sample) error { return f.err }
func (f failingSink) Flush() error                         { return f.err }
func (f failingSink) Close() error                         { return nil }

func TestMulti_FansOutAndReportsFirstError(t *testing.T) {
	a, b := NewMemory(4), NewMemory(4)
	boom := errors.New("boom")
	sink := Multi{a, failingSink{boom}, b}

	err := sink.Record(context.Background(), Sample{Tick: 9})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), a.Recorded())
	assert.Equal(t, uint64(1), b.Recorded())
	assert.ErrorIs(t, sink.Flush(), boom)
	assert.NoError(t, sink.Close())
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	assert.NoError(t, s.Record(context.Background(), Sample{}))
	assert.NoError(t, s.Flush())
	assert.NoError(t, s.Close())
}

func TestPoint_LineProtocol(t *testing.T) {
	wall := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := Point(Sample{
		Tick:           5,
		Elapsed:        1.5,
		Wall:           wall,
		ActiveName:     "shuttle",
		ActivePosition: frames.RootPosition{10, 20},
		ActiveVelocity: frames.RootVelocity{-1, 2},
		Classified:     3,
		Duration:       1500 * time.Microsecond,
	})

	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)

	assert.Contains(t, line, "railsim_tick,active=shuttle ")
	assert.Contains(t, line, "classified=3i")
	assert.Contains(t, line, "elapsed=1.5")
	assert.Contains(t, line, "active_y=20")
	assert.Contains(t, line, "duration_us=1500i")
	assert.Equal(t, wall, p.Time())
}

func TestPoint_NoActiveVessel(t *testing.T) {
	p := Point(Sample{Tick: 1})
	assert.Empty(t, p.TagList())
	assert.Equal(t, Measurement, p.Name())
}

func TestNewInflux_RequiresTarget(t *testing.T) {
	_, err := NewInflux(context.Background(), InfluxConfig{URL: "http://localhost:8086"}, zerolog.Nop())
	assert.Error(t, err)
}
