// Package postgres provides the Postgres-backed transition journal.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mibworks/tasktrack/internal/store"
	"github.com/mibworks/tasktrack/internal/task"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TransitionStoreConfig controls the connection pool behind the journal.
type TransitionStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// TransitionStore implements store.Journal on Postgres.
type TransitionStore struct {
	pool  dbPool
	table string
}

// NewTransitionStore connects a pool using the provided config.
func NewTransitionStore(ctx context.Context, cfg TransitionStoreConfig) (*TransitionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("journal.database_url is required")
	}
	table := cfg.Table
	if table == "" {
		table = "task_transitions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TransitionStore{pool: pool, table: table}, nil
}

// NewTransitionStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewTransitionStoreWithPool(pool dbPool, table string) (*TransitionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "task_transitions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TransitionStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *TransitionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordTransition appends one transition row.
func (s *TransitionStore) RecordTransition(ctx context.Context, tr store.Transition) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("transition store is not configured")
	}
	if tr.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	task_id,
	kind,
	from_status,
	to_status,
	progress,
	phase,
	message,
	observed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)
	args := []any{
		tr.TaskID,
		string(tr.Kind),
		string(tr.From),
		string(tr.To),
		tr.Progress,
		tr.Phase,
		tr.Message,
		tr.At,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns a task's transitions, newest first.
func (s *TransitionStore) ListTransitions(
	ctx context.Context,
	taskID string,
	limit,
	offset int,
) ([]store.Transition, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("transition store is not configured")
	}
	query := fmt.Sprintf(`
SELECT task_id, kind, from_status, to_status, progress, phase, message, observed_at
FROM %s
WHERE task_id = $1
ORDER BY observed_at DESC
LIMIT $2 OFFSET $3`, s.table)
	rows, err := s.pool.Query(ctx, query, taskID, limit, offset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []store.Transition
	for rows.Next() {
		var tr store.Transition
		var kind, from, to string
		if err := rows.Scan(&tr.TaskID, &kind, &from, &to, &tr.Progress, &tr.Phase, &tr.Message, &tr.At); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		tr.Kind = task.Kind(kind)
		tr.From = task.Status(from)
		tr.To = task.Status(to)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition rows: %w", err)
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out, nil
}
