package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/store"
	"github.com/mibworks/tasktrack/internal/track"
)

// JournalListener persists status transitions via a store.Journal.
// Non-transition changes (progress, phase, message) are not journaled.
type JournalListener struct {
	journal store.Journal
	logger  *zap.Logger
}

// NewJournalListener constructs a JournalListener for the provided journal.
func NewJournalListener(journal store.Journal, logger *zap.Logger) *JournalListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalListener{journal: journal, logger: logger}
}

// Consume writes one row per status transition in the batch. It respects
// ctx deadlines and returns the first journal error.
func (l *JournalListener) Consume(ctx context.Context, batch []track.Change) error {
	if l == nil || l.journal == nil {
		return nil
	}
	for _, ch := range batch {
		if !ch.Transition {
			continue
		}
		tr := store.Transition{
			TaskID:   ch.Record.ID,
			Kind:     ch.Record.Kind,
			From:     ch.From,
			To:       ch.To,
			Progress: ch.Record.Progress,
			Phase:    ch.Record.Phase,
			Message:  ch.Record.Message,
			At:       ch.At,
		}
		if err := l.journal.RecordTransition(ctx, tr); err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
	}
	return nil
}

// Close implements the Listener interface; it performs no action. The
// journal's pool is owned and closed by the caller that opened it.
func (l *JournalListener) Close(context.Context) error {
	return nil
}
