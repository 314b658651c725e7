package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mibworks/tasktrack/internal/store"
	"github.com/mibworks/tasktrack/internal/task"
)

func TestRecordTransitionInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	journal, err := NewTransitionStoreWithPool(mock, "task_transitions")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	tr := store.Transition{
		TaskID:   "42",
		Kind:     task.KindParse,
		From:     task.StatusRunning,
		To:       task.StatusCompleted,
		Progress: 100,
		Phase:    "saving",
		Message:  "parsed 12 modules",
		At:       now,
	}

	mock.ExpectExec("INSERT INTO task_transitions").
		WithArgs("42", "parse", "running", "completed", 100.0, "saving", "parsed 12 modules", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, journal.RecordTransition(context.Background(), tr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTransitionRequiresTaskID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	journal, err := NewTransitionStoreWithPool(mock, "")
	require.NoError(t, err)

	err = journal.RecordTransition(context.Background(), store.Transition{})
	require.Error(t, err)
}

func TestListTransitionsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	journal, err := NewTransitionStoreWithPool(mock, "task_transitions")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"task_id", "kind", "from_status", "to_status", "progress", "phase", "message", "observed_at",
	}).
		AddRow("42", "parse", "running", "completed", 100.0, "saving", "done", now).
		AddRow("42", "parse", "queued", "running", 0.0, "", "", now.Add(-time.Minute))

	mock.ExpectQuery("SELECT task_id, kind, from_status, to_status").
		WithArgs("42", 10, 0).
		WillReturnRows(rows)

	got, err := journal.ListTransitions(context.Background(), "42", 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, task.StatusCompleted, got[0].To)
	require.Equal(t, task.StatusRunning, got[1].To)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransitionsEmptyIsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	journal, err := NewTransitionStoreWithPool(mock, "task_transitions")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT task_id").
		WithArgs("nope", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"task_id", "kind", "from_status", "to_status", "progress", "phase", "message", "observed_at",
		}))

	_, err = journal.ListTransitions(context.Background(), "nope", 10, 0)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewTransitionStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewTransitionStoreWithPool(mock, "drop table; --")
	require.Error(t, err)

	_, err = NewTransitionStoreWithPool(nil, "task_transitions")
	require.Error(t, err)
}
