package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS book_checkpoints (
		checkpoint_id UUID PRIMARY KEY,
		instance_id   TEXT        NOT NULL,
		product_id    TEXT        NOT NULL,
		sequence      BIGINT      NOT NULL,
		taken_at      TIMESTAMPTZ NOT NULL,
		bid_orders    INTEGER     NOT NULL,
		ask_orders    INTEGER     NOT NULL,
		best_bid      NUMERIC,
		best_ask      NUMERIC
	)`,
	`CREATE INDEX IF NOT EXISTS book_checkpoints_product_seq
		ON book_checkpoints (product_id, sequence DESC)`,
	`CREATE TABLE IF NOT EXISTS book_checkpoint_orders (
		checkpoint_id UUID    NOT NULL REFERENCES book_checkpoints (checkpoint_id) ON DELETE CASCADE,
		side          TEXT    NOT NULL,
		position      INTEGER NOT NULL,
		order_id      TEXT    NOT NULL,
		price         NUMERIC NOT NULL,
		size          NUMERIC NOT NULL,
		PRIMARY KEY (checkpoint_id, side, position)
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		product_id     TEXT        NOT NULL,
		trade_id       BIGINT      NOT NULL,
		sequence       BIGINT      NOT NULL,
		maker_order_id TEXT        NOT NULL,
		taker_order_id TEXT        NOT NULL,
		side           TEXT        NOT NULL,
		price          NUMERIC     NOT NULL,
		size           NUMERIC     NOT NULL,
		exchange_time  TIMESTAMPTZ,
		received_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (product_id, trade_id)
	)`,
}

// EnsureSchema creates the checkpoint and match tables if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
