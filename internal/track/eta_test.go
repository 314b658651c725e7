package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mibworks/tasktrack/internal/task"
)

func TestEstimateNeedsTwoSamples(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0).UTC()

	_, ok := Estimate(nil)
	require.False(t, ok)

	_, ok = Estimate([]Sample{{TaskID: "1", At: base, Progress: 10}})
	require.False(t, ok)

	// A zero-progress sample does not count as a baseline.
	_, ok = Estimate([]Sample{
		{TaskID: "1", At: base, Progress: 0},
		{TaskID: "1", At: base.Add(10 * time.Second), Progress: 0},
	})
	require.False(t, ok)
}

func TestEstimateAtOnePercentPerSecond(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0).UTC()
	samples := []Sample{
		{TaskID: "1", At: base, Progress: 10},
		{TaskID: "1", At: base.Add(10 * time.Second), Progress: 20},
	}

	// 1%/s with 80% left: ~80s remain.
	eta, ok := Estimate(samples)
	require.True(t, ok)
	require.InDelta(t, 80, eta.Seconds(), 0.5)
}

func TestEstimateRejectsNonPositiveRate(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0).UTC()
	_, ok := Estimate([]Sample{
		{TaskID: "1", At: base, Progress: 20},
		{TaskID: "1", At: base.Add(10 * time.Second), Progress: 20},
	})
	require.False(t, ok)
}

func TestETAForPrefersBackendValue(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0).UTC()
	samples := []Sample{
		{TaskID: "1", At: base, Progress: 10},
		{TaskID: "1", At: base.Add(10 * time.Second), Progress: 55},
	}
	backend := 12.0
	rec := task.Record{ID: "1", Status: task.StatusRunning, Progress: 55, ETASeconds: &backend}

	eta, ok := ETAFor(rec, samples)
	require.True(t, ok)
	require.Equal(t, 12*time.Second, eta)

	// Without the backend value the local estimate kicks in.
	rec.ETASeconds = nil
	eta, ok = ETAFor(rec, samples)
	require.True(t, ok)
	require.Greater(t, eta, time.Duration(0))
}

func TestETAForSkipsNonRunning(t *testing.T) {
	t.Parallel()

	rec := task.Record{ID: "1", Status: task.StatusCompleted, Progress: 100}
	_, ok := ETAFor(rec, nil)
	require.False(t, ok)
}

func TestFormatETA(t *testing.T) {
	t.Parallel()

	require.Equal(t, "45s", FormatETA(45*time.Second))
	require.Equal(t, "2m 5s", FormatETA(2*time.Minute+5*time.Second))
	require.Equal(t, "1h 2m", FormatETA(time.Hour+2*time.Minute+30*time.Second))
	require.Equal(t, "1h 0m", FormatETA(time.Hour+5*time.Second))
	require.Equal(t, "0s", FormatETA(-time.Second))
}
