package track

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mibworks/tasktrack/internal/task"
)

type fakeBackend struct {
	mu           sync.Mutex
	interval     time.Duration
	configErrs   int
	configCalls  int
	listCalls    int
	tasks        []task.Record
	listErr      error
}

func (b *fakeBackend) PollInterval(context.Context) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configCalls++
	if b.configErrs > 0 {
		b.configErrs--
		return 0, fmt.Errorf("config endpoint unavailable")
	}
	return b.interval, nil
}

func (b *fakeBackend) ListTasks(context.Context) ([]task.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]task.Record(nil), b.tasks...), nil
}

func (b *fakeBackend) counts() (config, list int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configCalls, b.listCalls
}

func runPoller(t *testing.T, p *Poller) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("poller did not stop")
		}
	})
	return cancel
}

func TestPollerWaitsForBackendConfig(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{interval: 20 * time.Millisecond, configErrs: 2}
	tr := newTestTracker(t, Config{Dialer: newFakeDialer()})
	p := NewPoller(PollerConfig{RetryDelay: 10 * time.Millisecond, JitterStdev: time.Millisecond}, backend, tr)

	require.False(t, p.Ready())
	runPoller(t, p)

	require.Eventually(t, p.Ready, time.Second, 5*time.Millisecond)
	config, _ := backend.counts()
	require.GreaterOrEqual(t, config, 3)
}

func TestPollerPopulatesColdTracker(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		interval: 20 * time.Millisecond,
		tasks: []task.Record{
			{ID: "1", Kind: task.KindParse, Status: task.StatusRunning, Progress: 30},
		},
	}
	dialer := newFakeDialer()
	tr := newTestTracker(t, Config{Dialer: dialer})
	p := NewPoller(PollerConfig{JitterStdev: time.Millisecond}, backend, tr)
	runPoller(t, p)

	require.Eventually(t, func() bool {
		rec, ok := tr.Get("1")
		return ok && rec.Status == task.StatusRunning
	}, time.Second, 5*time.Millisecond)

	// The running task gets a subscription attempt.
	require.Eventually(t, func() bool {
		return dialer.dialCount("1") >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestPollerSkipsNetworkWhenNothingNeedsIt(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{interval: 15 * time.Millisecond}
	tr := newTestTracker(t, Config{Dialer: newFakeDialer()})
	// A lone terminal record means no task needs polling.
	tr.Add(task.Record{ID: "done", Status: task.StatusCompleted})

	p := NewPoller(PollerConfig{JitterStdev: time.Millisecond}, backend, tr)
	runPoller(t, p)

	require.Eventually(t, p.Ready, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	_, list := backend.counts()
	require.Zero(t, list)
}

func TestPollerSurvivesListFailures(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{interval: 15 * time.Millisecond, listErr: fmt.Errorf("boom")}
	tr := newTestTracker(t, Config{Dialer: newFakeDialer()})
	p := NewPoller(PollerConfig{JitterStdev: time.Millisecond}, backend, tr)
	runPoller(t, p)

	require.Eventually(t, func() bool {
		_, list := backend.counts()
		return list >= 2
	}, time.Second, 5*time.Millisecond)
}
