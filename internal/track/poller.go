package track

import (
	"context"
	"sync/atomic"
	"time"

	jitterbug "github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/task"
)

// Backend is the REST surface the poller consumes: the task list used for
// initial population and refresh, and the backend-supplied poll interval.
type Backend interface {
	ListTasks(ctx context.Context) ([]task.Record, error)
	PollInterval(ctx context.Context) (time.Duration, error)
}

// PollerConfig tunes the fallback scheduler.
//   - DefaultInterval: used when the backend reports a zero interval (default 15s).
//   - RetryDelay: wait between attempts to obtain backend config (default 2s).
//   - JitterStdev: spread applied to the tick interval so multiple watchers
//     do not align (default 500ms).
//   - RequestTimeout: per-request deadline (default 10s).
//   - Logger: optional structured logger.
type PollerConfig struct {
	DefaultInterval time.Duration
	RetryDelay      time.Duration
	JitterStdev     time.Duration
	RequestTimeout  time.Duration
	Logger          *zap.Logger
}

// Poller periodically re-fetches the task list for tasks that lack a live
// connection: cold start, reconnect failure, or queued state. It refuses to
// tick until the backend has supplied its polling interval, retrying after
// a short fixed delay instead of silently assuming a default.
type Poller struct {
	cfg     PollerConfig
	backend Backend
	tracker *Tracker
	logger  *zap.Logger
	ready   atomic.Bool
}

// NewPoller builds a Poller over the given backend and tracker.
func NewPoller(cfg PollerConfig, backend Backend, tracker *Tracker) *Poller {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 15 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.JitterStdev <= 0 {
		cfg.JitterStdev = 500 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{cfg: cfg, backend: backend, tracker: tracker, logger: logger}
}

// Ready reports whether backend configuration has been obtained and polling
// is active. Exposed for readiness probes.
func (p *Poller) Ready() bool {
	return p.ready.Load()
}

// Run blocks until ctx is done. The first poll happens immediately after
// configuration arrives so a cold view populates without waiting a full
// interval.
func (p *Poller) Run(ctx context.Context) {
	interval, ok := p.awaitConfig(ctx)
	if !ok {
		return
	}
	p.ready.Store(true)
	p.logger.Info("poll scheduler started", zap.Duration("interval", interval))

	p.tick(ctx)
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: p.cfg.JitterStdev, Mean: 0})
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// awaitConfig fetches the backend-supplied interval, retrying on a fixed
// delay until it succeeds or ctx ends.
func (p *Poller) awaitConfig(ctx context.Context) (time.Duration, bool) {
	for {
		reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		interval, err := p.backend.PollInterval(reqCtx)
		cancel()
		if err == nil {
			if interval <= 0 {
				interval = p.cfg.DefaultInterval
			}
			return interval, true
		}
		p.logger.Warn("backend config unavailable, retrying",
			zap.Duration("retry_delay", p.cfg.RetryDelay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(p.cfg.RetryDelay):
		}
	}
}

// tick refreshes the task list when some task needs it. A tick that finds
// nothing to do makes no network call at all.
func (p *Poller) tick(ctx context.Context) {
	if !p.tracker.NeedsPoll() {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	recs, err := p.backend.ListTasks(reqCtx)
	if err != nil {
		// Degraded mode only; the next tick tries again.
		p.logger.Warn("task list refresh failed", zap.Error(err))
		return
	}
	p.tracker.MergePoll(recs)
}
