package track

import (
	"encoding/json"
	"time"

	"github.com/mibworks/tasktrack/internal/task"
	"github.com/mibworks/tasktrack/internal/wire"
)

// updateSource tags a proposal with the path it arrived on.
type updateSource uint8

const (
	sourcePush updateSource = iota + 1
	sourcePoll
)

// proposal is one candidate update submitted to the reconciler. Both the
// push and poll paths go through it; nothing else mutates records.
type proposal struct {
	source updateSource
	at     time.Time

	// Push fields, decoded from a frame.
	status      task.Status
	statusKnown bool
	phase       string
	message     string
	progress    *float64
	eta         *float64
	result      json.RawMessage

	// Poll payload: the full record as the list endpoint reported it.
	poll     task.Record
	connOpen bool
}

// outcome describes what a reconciliation changed.
type outcome struct {
	changed   bool
	started   bool // entered running this cycle
	terminal  bool // entered a terminal status this cycle
	sampled   bool // progress increased while running
	regressed bool // push carried a lower percent than the record holds
	from, to  task.Status
}

func pushProposal(u wire.Update, at time.Time) proposal {
	p := proposal{source: sourcePush, at: at}
	p.status, p.statusKnown = u.NormalizedStatus()
	p.phase = u.Phase
	p.message = u.Message
	if pct, ok := u.Percent(); ok {
		p.progress = &pct
	}
	p.eta = u.ETASeconds
	p.result = u.Result
	return p
}

func pollProposal(incoming task.Record, connOpen bool, at time.Time) proposal {
	return proposal{source: sourcePoll, at: at, poll: incoming, connOpen: connOpen}
}

// reconcile merges one proposal into the record. It is the sole writer of
// record fields; the tie-break is that push wins over poll while a
// connection is open, and nothing ever demotes a terminal record.
func reconcile(rec *task.Record, p proposal) outcome {
	o := outcome{from: rec.Status, to: rec.Status}
	switch p.source {
	case sourcePush:
		reconcilePush(rec, p, &o)
	case sourcePoll:
		reconcilePoll(rec, p, &o)
	}
	o.to = rec.Status
	if o.from != o.to {
		o.changed = true
	}
	return o
}

func reconcilePush(rec *task.Record, p proposal, o *outcome) {
	if rec.Terminal() {
		// A straggler frame after completion changes nothing.
		return
	}
	if p.statusKnown && p.status != rec.Status && task.CanTransition(rec.Status, p.status) {
		switch {
		case p.status == task.StatusRunning:
			rec.Status = task.StatusRunning
			if rec.StartedAt == nil {
				at := p.at
				rec.StartedAt = &at
			}
			o.started = true
		case p.status.Terminal():
			rec.Status = p.status
			at := p.at
			rec.CompletedAt = &at
			if p.status == task.StatusCompleted {
				rec.Progress = 100
			}
			o.terminal = true
		}
	}

	if p.phase != "" && rec.Phase != p.phase {
		rec.Phase = p.phase
		o.changed = true
	}
	if p.message != "" && rec.Message != p.message {
		rec.Message = p.message
		o.changed = true
	}
	if len(p.result) > 0 {
		rec.Result = append(json.RawMessage(nil), p.result...)
		o.changed = true
	}
	if p.progress != nil {
		switch {
		case *p.progress > rec.Progress:
			rec.Progress = *p.progress
			if rec.Status == task.StatusRunning {
				o.sampled = true
			}
			o.changed = true
		case *p.progress < rec.Progress && rec.Status == task.StatusRunning:
			// Two pushes disagreeing is a backend anomaly, not a poll race;
			// keep the higher displayed percent.
			o.regressed = true
		}
		// Each progress-bearing frame is an ETA snapshot: absent eta_seconds
		// means the backend no longer knows, so the local estimate takes over.
		if !etaEqual(rec.ETASeconds, p.eta) {
			o.changed = true
		}
		if p.eta != nil {
			v := *p.eta
			rec.ETASeconds = &v
		} else {
			rec.ETASeconds = nil
		}
	} else if p.eta != nil && !etaEqual(rec.ETASeconds, p.eta) {
		v := *p.eta
		rec.ETASeconds = &v
		o.changed = true
	}
}

func etaEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func reconcilePoll(rec *task.Record, p proposal, o *outcome) {
	incoming := p.poll
	if rec.Terminal() && !incoming.Status.Terminal() {
		// Poll never demotes a terminal task, stale responses included.
		return
	}
	promote := incoming.Status.Terminal() && !rec.Terminal()
	if p.connOpen && !promote {
		// Push wins while a connection is open; poll data may be stale.
		return
	}

	prevCreated := rec.CreatedAt
	prevStarted := rec.StartedAt
	prevProgress := rec.Progress
	wasRunning := rec.Status == task.StatusRunning

	*rec = incoming.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = prevCreated
	}
	if rec.StartedAt == nil {
		rec.StartedAt = prevStarted
	}
	if rec.Status.Terminal() && rec.CompletedAt == nil {
		at := p.at
		rec.CompletedAt = &at
	}

	o.changed = true
	if rec.Status == task.StatusRunning {
		if !wasRunning {
			o.started = true
			if rec.StartedAt == nil {
				at := p.at
				rec.StartedAt = &at
			}
		}
		if rec.Progress > 0 && (!wasRunning || rec.Progress > prevProgress) {
			o.sampled = true
		}
	}
	if rec.Status.Terminal() && !o.from.Terminal() {
		o.terminal = true
	}
}
