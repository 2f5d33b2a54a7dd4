package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the Postgres DDL used by [PgxLog.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS login_audit_logs (
	id             BIGSERIAL PRIMARY KEY,
	event_id       VARCHAR(64)  NOT NULL,
	event_type     VARCHAR(32)  NOT NULL,
	user_id        VARCHAR(36),
	email          VARCHAR(255) NOT NULL DEFAULT '',
	ip             VARCHAR(64)  NOT NULL DEFAULT '',
	user_agent     VARCHAR(512) NOT NULL DEFAULT '',
	success        BOOLEAN      NOT NULL,
	failure_reason VARCHAR(64),
	occurred_at    TIMESTAMPTZ  NOT NULL,
	created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_login_audit_logs_event_id ON login_audit_logs (event_id);
CREATE INDEX IF NOT EXISTS idx_login_audit_logs_user_id ON login_audit_logs (user_id);
CREATE INDEX IF NOT EXISTS idx_login_audit_logs_occurred_at ON login_audit_logs (occurred_at);
`

const insertRow = `
INSERT INTO login_audit_logs
	(event_id, event_type, user_id, email, ip, user_agent, success, failure_reason, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (event_id) DO NOTHING`

// PgxLog implements [Log] directly on a pgx pool.
type PgxLog struct {
	pool *pgxpool.Pool
}

// NewPgxLog wraps pool. Call Migrate before first use.
func NewPgxLog(pool *pgxpool.Pool) *PgxLog {
	return &PgxLog{pool: pool}
}

// Migrate creates the audit table if it does not exist.
func (l *PgxLog) Migrate(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Append inserts row unless its event_id is already stored.
func (l *PgxLog) Append(ctx context.Context, row *LoginAuditLog) (bool, error) {
	tag, err := l.pool.Exec(ctx, insertRow,
		row.EventID,
		row.EventType,
		row.UserID,
		row.Email,
		row.IP,
		row.UserAgent,
		row.Success,
		row.FailureReason,
		row.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of rows stored for eventID.
func (l *PgxLog) Count(ctx context.Context, eventID string) (int64, error) {
	var n int64
	err := l.pool.QueryRow(ctx, `SELECT count(*) FROM login_audit_logs WHERE event_id = $1`, eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
