package track

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/task"
)

// Change is one observed mutation of a task record, fanned out to listeners.
type Change struct {
	// Record is a copy of the record after the change was applied.
	Record task.Record
	// From and To bracket a status transition; equal when only progress,
	// phase, or message moved.
	From, To task.Status
	// Transition is true when From != To.
	Transition bool
	// At is when the tracker applied the change.
	At time.Time
}

// Listener consumes batches of record changes. Implementations must honor
// ctx deadlines and may be invoked from a background goroutine.
type Listener interface {
	Consume(ctx context.Context, batch []Change) error
	Close(ctx context.Context) error
}

// NotifierConfig controls buffering and batching for the Notifier.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatch: flush once this many changes queue (default 256).
//   - MaxWait: flush after this duration even if the batch is small (default 250ms).
//   - ListenerTimeout: per-listener timeout while flushing (default 10s).
//   - Logger: optional structured logger used for warnings.
type NotifierConfig struct {
	BufferSize      int
	MaxBatch        int
	MaxWait         time.Duration
	ListenerTimeout time.Duration
	Logger          *zap.Logger
}

const (
	defaultNotifyBuffer  = 1024
	defaultNotifyBatch   = 256
	defaultNotifyWait    = 250 * time.Millisecond
	defaultNotifyTimeout = 10 * time.Second
	dropLogInterval      = 5 * time.Second
)

// Notifier decouples the tracker loop from listener I/O: changes are
// emitted without blocking, batched on a background goroutine, and dropped
// with a rate-limited warning under backpressure.
type Notifier struct {
	cfg       NotifierConfig
	listeners []Listener
	changes   chan Change
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *zap.Logger

	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
	closeCtx    context.Context
}

// NewNotifier starts the fan-out goroutine over the supplied listeners.
func NewNotifier(cfg NotifierConfig, listeners ...Listener) *Notifier {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultNotifyBuffer
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultNotifyBatch
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultNotifyWait
	}
	if cfg.ListenerTimeout <= 0 {
		cfg.ListenerTimeout = defaultNotifyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		cfg:         cfg,
		listeners:   append([]Listener(nil), listeners...),
		changes:     make(chan Change, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go n.run()
	return n
}

// Emit enqueues one change. It never blocks; under backpressure the change
// is dropped and a rate-limited warning logged.
func (n *Notifier) Emit(ch Change) {
	if n == nil || n.closed.Load() {
		return
	}
	select {
	case n.changes <- ch:
	default:
		n.dropped.Add(1)
		if n.dropLimiter.Allow(time.Now()) {
			count := n.dropped.Swap(0)
			n.logger.Warn("task changes dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Dropped reports how many changes were discarded since the last warning.
func (n *Notifier) Dropped() int64 {
	if n == nil {
		return 0
	}
	return n.dropped.Load()
}

// Close drains buffered changes, closes listeners, and waits for the
// background goroutine. Safe to call more than once.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		n.closeCtx = ctx
		close(n.stopCh)
	})
	select {
	case <-n.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifier close wait: %w", ctx.Err())
	}
}

func (n *Notifier) run() {
	defer close(n.doneCh)
	batch := make([]Change, 0, n.cfg.MaxBatch)
	timer := time.NewTimer(n.cfg.MaxWait)
	stopTimer(timer)
	armed := false
	for {
		select {
		case ch := <-n.changes:
			batch = append(batch, ch)
			if len(batch) >= n.cfg.MaxBatch {
				n.flush(batch)
				batch = batch[:0]
				if armed {
					stopTimer(timer)
					armed = false
				}
			} else if !armed {
				timer.Reset(n.cfg.MaxWait)
				armed = true
			}
		case <-timer.C:
			armed = false
			if len(batch) > 0 {
				n.flush(batch)
				batch = batch[:0]
			}
		case <-n.stopCh:
			if armed {
				stopTimer(timer)
			}
			n.drain(batch)
			return
		}
	}
}

// drain empties the buffer during shutdown, then closes the listeners.
func (n *Notifier) drain(batch []Change) {
	for {
		select {
		case ch := <-n.changes:
			batch = append(batch, ch)
			if len(batch) >= n.cfg.MaxBatch {
				n.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				n.flush(batch)
			}
			ctx := n.closeCtx
			if ctx == nil {
				ctx = context.Background()
			}
			for _, l := range n.listeners {
				if err := l.Close(ctx); err != nil {
					n.logger.Warn("listener close failed", zap.Error(err))
				}
			}
			return
		}
	}
}

func (n *Notifier) flush(batch []Change) {
	cp := append([]Change(nil), batch...)
	for _, l := range n.listeners {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ListenerTimeout)
		if err := l.Consume(ctx, cp); err != nil {
			n.logger.Warn("listener consume failed", zap.Error(err))
		}
		cancel()
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
