package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mibworks/tasktrack/internal/task"
	"github.com/mibworks/tasktrack/internal/track"
)

// PrometheusListener exports tracking metrics. It owns all collectors for
// running/terminal task counts, transition counters, and task runtimes.
type PrometheusListener struct {
	tasksRunning  prometheus.Gauge
	tasksTerminal *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	taskRuntime   *prometheus.HistogramVec
	progress      *prometheus.GaugeVec

	running *runningSet
}

// NewPrometheusListener registers the collectors against the provided
// registry.
func NewPrometheusListener(reg prometheus.Registerer) (*PrometheusListener, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	l := &PrometheusListener{
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tasktrack_tasks_running",
			Help: "Current number of running tasks.",
		}),
		tasksTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasktrack_tasks_terminal_total",
			Help: "Tasks reaching a terminal status, partitioned by status.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasktrack_transitions_total",
			Help: "Observed status transitions partitioned by from/to.",
		}, []string{"from", "to"}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasktrack_task_runtime_seconds",
			Help:    "Wall time from start to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tasktrack_task_progress_percent",
			Help: "Latest progress percentage per task kind.",
		}, []string{"kind"}),
		running: newRunningSet(),
	}
	for _, collector := range []prometheus.Collector{
		l.tasksRunning,
		l.tasksTerminal,
		l.transitions,
		l.taskRuntime,
		l.progress,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register track collector: %w", err)
		}
	}
	return l, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use.
func (l *PrometheusListener) Consume(_ context.Context, batch []track.Change) error {
	for _, ch := range batch {
		l.consume(ch)
	}
	return nil
}

func (l *PrometheusListener) consume(ch track.Change) {
	kind := string(ch.Record.Kind)
	if kind == "" {
		kind = "unknown"
	}
	l.progress.WithLabelValues(kind).Set(ch.Record.Progress)

	if !ch.Transition {
		return
	}
	l.transitions.WithLabelValues(string(ch.From), string(ch.To)).Inc()
	switch {
	case ch.To == task.StatusRunning:
		if l.running.add(ch.Record.ID) {
			l.tasksRunning.Inc()
		}
	case ch.To.Terminal():
		l.tasksTerminal.WithLabelValues(string(ch.To)).Inc()
		if l.running.remove(ch.Record.ID) {
			l.tasksRunning.Dec()
		}
		l.observeRuntime(ch)
	}
}

func (l *PrometheusListener) observeRuntime(ch track.Change) {
	rec := ch.Record
	if rec.StartedAt == nil || rec.CompletedAt == nil {
		return
	}
	dur := rec.CompletedAt.Sub(*rec.StartedAt)
	if dur > 0 {
		l.taskRuntime.WithLabelValues(string(ch.To)).Observe(dur.Seconds())
	}
}

// Close implements the Listener interface; it performs no action.
func (l *PrometheusListener) Close(context.Context) error {
	return nil
}

type runningSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newRunningSet() *runningSet {
	return &runningSet{ids: make(map[string]struct{})}
}

func (s *runningSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *runningSet) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}
