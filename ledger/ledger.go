// Package ledger records which external events have already been applied.
// Webhook and compensation transports are at-least-once; consulting the
// ledger before side effects keeps duplicate deliveries from compensating or
// committing twice.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// MarkProcessed claims an event key. It returns false when the key was
// already claimed, in which case the caller must skip all side effects.
func (l *Ledger) MarkProcessed(ctx context.Context, key, kind string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_key, kind) VALUES ($1, $2) ON CONFLICT (event_key) DO NOTHING",
		key, kind,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	return affected == 1, nil
}
