package track

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/channel"
	"github.com/mibworks/tasktrack/internal/task"
	"github.com/mibworks/tasktrack/internal/wire"
)

// UmbrellaID is the reserved task id for the bulk-operation channel; it
// mirrors the /ws/all endpoint path and the task:all topic.
const UmbrellaID = "all"

// Conn is the slice of channel.Conn the tracker depends on.
type Conn interface {
	TaskID() string
	Events() <-chan channel.Event
	Close()
}

// Dialer opens the push channel for one task id.
type Dialer interface {
	DialTask(ctx context.Context, taskID string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, taskID string) (Conn, error)

// DialTask implements Dialer.
func (f DialerFunc) DialTask(ctx context.Context, taskID string) (Conn, error) {
	return f(ctx, taskID)
}

// Config wires a Tracker.
//   - Dialer: opens push channels (required).
//   - Notifier: optional change fan-out; nil disables it.
//   - OnTerminal: one-shot-per-task hook fired when a task's finish is
//     observed (push frame or poll promotion of a known record); the
//     rendering layer uses it to trigger its final full refresh. Tasks
//     already terminal in the first listing do not fire it.
//   - SampleCap: per-task estimator ring size (default 64).
//   - DialTimeout: per-dial deadline (default 10s).
//   - Logger: optional structured logger.
type Config struct {
	Dialer      Dialer
	Notifier    *Notifier
	OnTerminal  func(task.Record)
	SampleCap   int
	DialTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultSampleCap   = 64
	defaultDialTimeout = 10 * time.Second
)

// Tracker owns the task records, the subscription registry, and the sample
// store for one view. All of that state lives on a single event loop;
// public methods hand commands to it, so no field needs a lock. The store
// is scoped to the Tracker's lifetime: Close tears everything down.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	cmds       chan func()
	connEvents chan connEvent
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	// Loop-owned state. Touched only from run().
	records  map[string]*task.Record
	samples  map[string][]Sample
	conns    map[string]*connEntry
	fanout   map[string]struct{}
	notified map[string]struct{}
	dialGen  uint64
}

type connEntry struct {
	conn       Conn
	dialing    bool
	dialCancel context.CancelFunc
	// gen identifies the dial that created this entry, so a cancelled
	// dial's late result cannot be mistaken for the current one.
	gen uint64
}

type connEvent struct {
	taskID string
	conn   Conn

	// Dial results.
	dialed  bool
	dialErr error
	gen     uint64

	// Forwarded connection events.
	evt channel.Event
}

// New builds a Tracker and starts its event loop.
func New(cfg Config) (*Tracker, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("track: dialer is required")
	}
	if cfg.SampleCap <= 0 {
		cfg.SampleCap = defaultSampleCap
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	t := &Tracker{
		cfg:        cfg,
		logger:     cfg.Logger,
		cmds:       make(chan func(), 32),
		connEvents: make(chan connEvent, 64),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		records:    make(map[string]*task.Record),
		samples:    make(map[string][]Sample),
		conns:      make(map[string]*connEntry),
		fanout:     make(map[string]struct{}),
		notified:   make(map[string]struct{}),
	}
	go t.run()
	return t, nil
}

// Subscribe opens a push channel for the task if none exists. Idempotent:
// rapid repeated calls, including while a dial is still in flight, open at
// most one connection.
func (t *Tracker) Subscribe(taskID string) {
	t.do(func() { t.subscribeLocked(taskID) })
}

// Unsubscribe closes and removes the task's connection. Safe to call when
// no connection exists. The registry entry is gone before this returns to
// the loop; the websocket close handshake is fire-and-forget.
func (t *Tracker) Unsubscribe(taskID string) {
	t.do(func() { t.unsubscribeLocked(taskID) })
}

// Add inserts an optimistic local record, typically right after the user
// triggers an operation and before the next poll confirms it. Existing
// records are left alone.
func (t *Tracker) Add(rec task.Record) {
	t.do(func() {
		if _, ok := t.records[rec.ID]; ok {
			return
		}
		cp := rec.Clone()
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
		if cp.Status == "" {
			cp.Status = task.StatusQueued
		}
		t.records[rec.ID] = &cp
	})
}

// MergePoll merges a full task-list response through the poll arbitration
// rule, prunes terminal records the backend no longer lists, and subscribes
// running tasks that lack a connection.
func (t *Tracker) MergePoll(recs []task.Record) {
	t.do(func() { t.mergePollLocked(recs) })
}

// NeedsPoll reports whether the next poll tick has anything to do: no
// records yet, a queued task, or a running task without an open connection.
func (t *Tracker) NeedsPoll() bool {
	reply := make(chan bool, 1)
	t.do(func() {
		if len(t.records) == 0 {
			reply <- true
			return
		}
		for id, rec := range t.records {
			switch rec.Status {
			case task.StatusQueued:
				reply <- true
				return
			case task.StatusRunning:
				if !t.connOpen(id) {
					reply <- true
					return
				}
			}
		}
		reply <- false
	})
	select {
	case v := <-reply:
		return v
	case <-t.doneCh:
		return false
	}
}

// Tasks returns a copy of every tracked record, newest first.
func (t *Tracker) Tasks() []task.Record {
	reply := make(chan []task.Record, 1)
	t.do(func() {
		out := make([]task.Record, 0, len(t.records))
		for _, rec := range t.records {
			out = append(out, rec.Clone())
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
		reply <- out
	})
	select {
	case v := <-reply:
		return v
	case <-t.doneCh:
		return nil
	}
}

// Get returns a copy of one record.
func (t *Tracker) Get(taskID string) (task.Record, bool) {
	type result struct {
		rec task.Record
		ok  bool
	}
	reply := make(chan result, 1)
	t.do(func() {
		rec, ok := t.records[taskID]
		if !ok {
			reply <- result{}
			return
		}
		reply <- result{rec: rec.Clone(), ok: true}
	})
	select {
	case v := <-reply:
		return v.rec, v.ok
	case <-t.doneCh:
		return task.Record{}, false
	}
}

// ETA resolves the displayed remaining time for one task: the backend's
// value when present, otherwise the local sample-based estimate.
func (t *Tracker) ETA(taskID string) (time.Duration, bool) {
	type result struct {
		d  time.Duration
		ok bool
	}
	reply := make(chan result, 1)
	t.do(func() {
		rec, ok := t.records[taskID]
		if !ok {
			reply <- result{}
			return
		}
		d, ok := ETAFor(*rec, t.samples[taskID])
		reply <- result{d: d, ok: ok}
	})
	select {
	case v := <-reply:
		return v.d, v.ok
	case <-t.doneCh:
		return 0, false
	}
}

// Subscriptions lists task ids with a registry entry (open or dialing).
func (t *Tracker) Subscriptions() []string {
	reply := make(chan []string, 1)
	t.do(func() {
		out := make([]string, 0, len(t.conns))
		for id := range t.conns {
			out = append(out, id)
		}
		sort.Strings(out)
		reply <- out
	})
	select {
	case v := <-reply:
		return v
	case <-t.doneCh:
		return nil
	}
}

// Close stops the loop, closes every connection, and releases all state.
func (t *Tracker) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.closeOnce.Do(func() { close(t.stopCh) })
	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tracker close wait: %w", ctx.Err())
	}
}

// do hands a command to the loop, discarding it when the tracker is closed.
func (t *Tracker) do(fn func()) {
	select {
	case t.cmds <- fn:
	case <-t.stopCh:
	}
}

func (t *Tracker) run() {
	defer close(t.doneCh)
	for {
		select {
		case fn := <-t.cmds:
			fn()
		case ev := <-t.connEvents:
			t.handleConnEvent(ev)
		case <-t.stopCh:
			t.teardown()
			return
		}
	}
}

func (t *Tracker) teardown() {
	for id, entry := range t.conns {
		if entry.dialCancel != nil {
			entry.dialCancel()
		}
		if entry.conn != nil {
			entry.conn.Close()
		}
		delete(t.conns, id)
	}
	t.records = map[string]*task.Record{}
	t.samples = map[string][]Sample{}
	t.fanout = map[string]struct{}{}
}

func (t *Tracker) connOpen(taskID string) bool {
	entry, ok := t.conns[taskID]
	return ok && !entry.dialing
}

func (t *Tracker) subscribeLocked(taskID string) {
	if taskID == "" {
		return
	}
	if _, ok := t.conns[taskID]; ok {
		return
	}
	t.dialGen++
	gen := t.dialGen
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
	t.conns[taskID] = &connEntry{dialing: true, dialCancel: cancel, gen: gen}
	go func() {
		conn, err := t.cfg.Dialer.DialTask(ctx, taskID)
		cancel()
		select {
		case t.connEvents <- connEvent{taskID: taskID, dialed: true, gen: gen, conn: conn, dialErr: err}:
		case <-t.stopCh:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (t *Tracker) unsubscribeLocked(taskID string) {
	entry, ok := t.conns[taskID]
	if !ok {
		return
	}
	delete(t.conns, taskID)
	if entry.dialCancel != nil {
		entry.dialCancel()
	}
	if entry.conn != nil {
		entry.conn.Close()
	}
}

func (t *Tracker) handleConnEvent(ev connEvent) {
	if ev.dialed {
		t.handleDialResult(ev)
		return
	}
	entry, ok := t.conns[ev.taskID]
	if !ok || entry.conn != ev.conn {
		// Stale event from a connection already replaced or removed.
		return
	}
	switch ev.evt.Kind {
	case channel.KindMessage:
		t.handleFrame(ev.taskID, ev.evt.Envelope)
	case channel.KindClosed:
		delete(t.conns, ev.taskID)
	case channel.KindError:
		t.logger.Warn("task channel failed",
			zap.String("task_id", ev.taskID),
			zap.Error(ev.evt.Err))
		delete(t.conns, ev.taskID)
	}
}

func (t *Tracker) handleDialResult(ev connEvent) {
	entry, ok := t.conns[ev.taskID]
	if !ok || !entry.dialing || entry.gen != ev.gen {
		// Unsubscribed, or the entry belongs to a newer dial; either way
		// this result is stale and must not touch the registry.
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}
	if ev.dialErr != nil {
		delete(t.conns, ev.taskID)
		t.logger.Warn("task channel dial failed",
			zap.String("task_id", ev.taskID),
			zap.Error(ev.dialErr))
		return
	}
	entry.dialing = false
	entry.dialCancel = nil
	entry.conn = ev.conn
	go t.pump(ev.taskID, ev.conn)
}

// pump forwards one connection's events into the loop.
func (t *Tracker) pump(taskID string, conn Conn) {
	for evt := range conn.Events() {
		select {
		case t.connEvents <- connEvent{taskID: taskID, conn: conn, evt: evt}:
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tracker) handleFrame(taskID string, env wire.Envelope) {
	now := time.Now()
	rec := t.record(taskID, now)
	o := reconcile(rec, pushProposal(env.Data, now))
	if o.regressed {
		t.logger.Debug("push progress regressed; keeping higher percent",
			zap.String("task_id", taskID),
			zap.Float64("held", rec.Progress))
	}
	if o.sampled || o.started {
		t.appendSample(taskID, now, rec.Progress)
	}
	if o.changed {
		t.notifyChange(*rec, o, now)
	}

	if taskID == UmbrellaID {
		t.coordinateFanout(env.Data, rec.Status, o)
	}
	if o.terminal {
		t.releaseTerminal(taskID, *rec, true)
	}
}

// coordinateFanout opens per-item channels as the umbrella announces them
// and closes every one of them when the umbrella finishes, whether or not
// the items reported their own terminal frames.
func (t *Tracker) coordinateFanout(u wire.Update, status task.Status, o outcome) {
	if status == task.StatusRunning {
		item := u.Item()
		if item == "" {
			return
		}
		if _, seen := t.fanout[item]; seen {
			return
		}
		t.fanout[item] = struct{}{}
		t.subscribeLocked(item)
		return
	}
	if o.terminal {
		for item := range t.fanout {
			t.unsubscribeLocked(item)
			delete(t.fanout, item)
		}
	}
}

// releaseTerminal drops the connection and samples for a finished task and
// fires the one-shot terminal hook. The hook runs only for finishes this
// tracker observed happen; tasks already terminal in a cold-start listing
// are history, not news, and must not trigger consumer refreshes.
func (t *Tracker) releaseTerminal(taskID string, rec task.Record, observed bool) {
	t.unsubscribeLocked(taskID)
	delete(t.samples, taskID)
	if _, done := t.notified[taskID]; done {
		return
	}
	t.notified[taskID] = struct{}{}
	if !observed || t.cfg.OnTerminal == nil {
		return
	}
	go t.cfg.OnTerminal(rec.Clone())
}

func (t *Tracker) mergePollLocked(recs []task.Record) {
	now := time.Now()
	seen := make(map[string]struct{}, len(recs))
	for _, incoming := range recs {
		if incoming.ID == "" {
			continue
		}
		seen[incoming.ID] = struct{}{}
		_, existed := t.records[incoming.ID]
		rec := t.record(incoming.ID, now)
		o := reconcile(rec, pollProposal(incoming, t.connOpen(incoming.ID), now))
		if o.sampled {
			t.appendSample(incoming.ID, now, rec.Progress)
		}
		if o.changed {
			t.notifyChange(*rec, o, now)
		}
		if o.terminal {
			t.releaseTerminal(incoming.ID, *rec, existed)
		}
		if rec.Status == task.StatusRunning && !t.connOpen(incoming.ID) {
			t.subscribeLocked(incoming.ID)
		}
	}
	// Terminal records the backend stopped listing are no longer revisited.
	for id, rec := range t.records {
		if _, ok := seen[id]; ok {
			continue
		}
		if rec.Terminal() {
			delete(t.records, id)
			delete(t.samples, id)
			delete(t.notified, id)
		}
	}
}

func (t *Tracker) record(taskID string, now time.Time) *task.Record {
	if rec, ok := t.records[taskID]; ok {
		return rec
	}
	rec := &task.Record{ID: taskID, Status: task.StatusQueued, CreatedAt: now}
	if taskID == UmbrellaID {
		rec.Kind = task.KindSyncAll
	}
	t.records[taskID] = rec
	return rec
}

func (t *Tracker) appendSample(taskID string, at time.Time, progress float64) {
	ring := append(t.samples[taskID], Sample{TaskID: taskID, At: at, Progress: progress})
	if len(ring) > t.cfg.SampleCap {
		ring = ring[len(ring)-t.cfg.SampleCap:]
	}
	t.samples[taskID] = ring
}

func (t *Tracker) notifyChange(rec task.Record, o outcome, at time.Time) {
	if t.cfg.Notifier == nil {
		return
	}
	t.cfg.Notifier.Emit(Change{
		Record:     rec.Clone(),
		From:       o.from,
		To:         o.to,
		Transition: o.from != o.to,
		At:         at,
	})
}
