// Package ledger persists every job transition to PostgreSQL. It is an audit trail only;
// the in-memory job store stays the source of truth for polling.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_events (
	id          BIGSERIAL PRIMARY KEY,
	job_id      UUID        NOT NULL,
	from_status VARCHAR(16) NOT NULL DEFAULT '',
	to_status   VARCHAR(16) NOT NULL,
	detail      TEXT        NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events (job_id, occurred_at);
`

const insertEvent = `
INSERT INTO job_events (job_id, from_status, to_status, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5)`

const selectHistory = `
SELECT id, job_id, from_status, to_status, detail, occurred_at
FROM job_events
WHERE job_id = $1
ORDER BY occurred_at ASC, id ASC`

// DB is the subset of *sqlx.DB the ledger needs
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Record is one persisted transition
type Record struct {
	ID         int64     `db:"id" json:"id"`
	JobID      string    `db:"job_id" json:"job_id"`
	FromStatus string    `db:"from_status" json:"from_status,omitempty"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Detail     string    `db:"detail" json:"detail,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// Ledger writes transition events to the job_events table
type Ledger struct {
	db     DB
	logger *slog.Logger
}

// New creates a Ledger over db
func New(db DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger}
}

// EnsureSchema creates the job_events table if it does not exist
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Name identifies the ledger as an event sink
func (l *Ledger) Name() string { return "ledger" }

// Handle stores one transition event
func (l *Ledger) Handle(ctx context.Context, ev jobs.Event) error {
	_, err := l.db.ExecContext(ctx, insertEvent,
		ev.JobID,
		string(ev.From),
		string(ev.To),
		ev.Detail,
		ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job event: %w", err)
	}
	return nil
}

// History returns the recorded transitions of a job, oldest first. Ids that are not
// UUIDs were never issued and report ErrNotFound without touching the database.
func (l *Ledger) History(ctx context.Context, jobID string) ([]Record, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: job %q", jobs.ErrNotFound, jobID)
	}

	var records []Record
	if err := l.db.SelectContext(ctx, &records, selectHistory, id.String()); err != nil {
		return nil, fmt.Errorf("failed to select job history: %w", err)
	}
	return records, nil
}
