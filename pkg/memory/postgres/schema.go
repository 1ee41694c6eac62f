package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema lists the statements that bring a database up to date, in order.
// Every statement must be idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_entries (
		id          BIGSERIAL   PRIMARY KEY,
		session_id  TEXT        NOT NULL,
		role        TEXT        NOT NULL CHECK (role IN ('user', 'assistant')),
		text        TEXT        NOT NULL,
		raw_text    TEXT        NOT NULL DEFAULT '',
		spoken      BOOLEAN     NOT NULL DEFAULT false,
		timestamp   TIMESTAMPTZ NOT NULL DEFAULT now(),
		duration_ns BIGINT      NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS session_entries_session_ts_idx
		ON session_entries (session_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS session_entries_text_idx
		ON session_entries USING GIN (to_tsvector('english', text))`,
}

// Migrate applies the schema in a single transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
