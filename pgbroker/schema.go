package pgbroker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the DDL the broker needs. Statements are idempotent so Migrate
// can run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS queueflow_jobs (
	id               TEXT PRIMARY KEY,
	queue            TEXT NOT NULL,
	task_id          TEXT NOT NULL,
	payload          JSONB,
	status           TEXT NOT NULL DEFAULT 'waiting',
	attempts         INT NOT NULL DEFAULT 0,
	max_attempts     INT NOT NULL DEFAULT 3,
	backoff_kind     TEXT NOT NULL DEFAULT 'exponential',
	backoff_delay_ms BIGINT NOT NULL DEFAULT 1000,
	last_error       TEXT NOT NULL DEFAULT '',
	enqueued_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	available_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	locked_by        TEXT,
	locked_until     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS queueflow_jobs_claim_idx
	ON queueflow_jobs (queue, status, available_at);

CREATE TABLE IF NOT EXISTS queueflow_repeatables (
	key         TEXT NOT NULL,
	queue       TEXT NOT NULL,
	name        TEXT NOT NULL,
	cron        TEXT NOT NULL,
	timezone    TEXT NOT NULL DEFAULT '',
	next_run_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (queue, key)
);

CREATE INDEX IF NOT EXISTS queueflow_repeatables_due_idx
	ON queueflow_repeatables (queue, next_run_at);
`

// Migrate creates the broker's tables if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply queueflow schema: %w", err)
	}
	return nil
}
