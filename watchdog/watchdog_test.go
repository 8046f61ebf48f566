package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsStuckRespectsGracePeriod(t *testing.T) {
	start := time.Unix(1000, 0)
	w := New(start, 30*time.Second, 60*time.Second, 1024)

	require.False(t, w.IsStuck(start.Add(29*time.Second)))
}

func TestIsStuckTrueAfterIdleWithoutGrowth(t *testing.T) {
	start := time.Unix(1000, 0)
	w := New(start, 30*time.Second, 60*time.Second, 1024)
	w.Update(0, start)

	require.True(t, w.IsStuck(start.Add(30*time.Second+60*time.Second+time.Second)))
}

func TestUpdateClearsStuckOnSufficientGrowth(t *testing.T) {
	start := time.Unix(1000, 0)
	w := New(start, 30*time.Second, 60*time.Second, 1024)
	w.Update(0, start)

	stuckAt := start.Add(30*time.Second + 60*time.Second + time.Second)
	require.True(t, w.IsStuck(stuckAt))

	w.Update(2048, stuckAt)
	require.False(t, w.IsStuck(stuckAt.Add(time.Second)))
}

func TestUpdateIgnoresGrowthBelowMinDelta(t *testing.T) {
	start := time.Unix(1000, 0)
	w := New(start, 0, 10*time.Second, 1024)
	w.Update(1000, start)
	w.Update(1500, start.Add(time.Second)) // +500 bytes, below the 1024 min delta

	require.Equal(t, start, w.LastGrowth())
	require.True(t, w.IsStuck(start.Add(11*time.Second)))
}

func TestLastGrowthTimestampNonDecreasing(t *testing.T) {
	start := time.Unix(1000, 0)
	w := New(start, 0, 10*time.Second, 100)

	w.Update(100, start)
	first := w.LastGrowth()

	w.Update(50, start.Add(time.Second)) // shrink never counts as growth
	require.Equal(t, first, w.LastGrowth())

	w.Update(300, start.Add(2*time.Second))
	require.True(t, w.LastGrowth().After(first) || w.LastGrowth().Equal(first.Add(2*time.Second)))
}

func TestBoundaryExactGraceAndIdle(t *testing.T) {
	start := time.Unix(2000, 0)
	w := New(start, 30*time.Second, 60*time.Second, 1024)
	w.Update(0, start)

	require.False(t, w.IsStuck(start.Add(30*time.Second-time.Millisecond)))
	require.True(t, w.IsStuck(start.Add(30*time.Second+60*time.Second+time.Millisecond)))
}
