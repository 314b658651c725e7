package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/mibworks/tasktrack/internal/task"
	"github.com/mibworks/tasktrack/internal/track"
)

func TestPrometheusListenerTracksRunningAndTerminal(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	l, err := NewPrometheusListener(reg)
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	completed := started.Add(90 * time.Second)

	batch := []track.Change{
		{
			Record:     task.Record{ID: "1", Kind: task.KindParse, Status: task.StatusRunning, Progress: 0, StartedAt: &started},
			From:       task.StatusQueued,
			To:         task.StatusRunning,
			Transition: true,
		},
		{
			Record: task.Record{ID: "1", Kind: task.KindParse, Status: task.StatusRunning, Progress: 50, StartedAt: &started},
			From:   task.StatusRunning,
			To:     task.StatusRunning,
		},
	}
	require.NoError(t, l.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(l.tasksRunning))
	require.Equal(t, 50.0, testutil.ToFloat64(l.progress.WithLabelValues("parse")))

	// Duplicate running transition must not double-count.
	require.NoError(t, l.Consume(context.Background(), batch[:1]))
	require.Equal(t, 1.0, testutil.ToFloat64(l.tasksRunning))

	terminal := []track.Change{{
		Record: task.Record{
			ID: "1", Kind: task.KindParse, Status: task.StatusCompleted,
			Progress: 100, StartedAt: &started, CompletedAt: &completed,
		},
		From:       task.StatusRunning,
		To:         task.StatusCompleted,
		Transition: true,
	}}
	require.NoError(t, l.Consume(context.Background(), terminal))
	require.Equal(t, 0.0, testutil.ToFloat64(l.tasksRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(l.tasksTerminal.WithLabelValues("completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(l.transitions.WithLabelValues("running", "completed")))
}

func TestPrometheusListenerRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusListener(reg)
	require.NoError(t, err)
	_, err = NewPrometheusListener(reg)
	require.Error(t, err)
}
