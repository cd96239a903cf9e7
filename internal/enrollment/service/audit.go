package service

import (
	"context"
	"database/sql"
	"time"

	apperrors "sgpa-enrollment/internal/common/errors"

	"github.com/google/uuid"
)

// AuditRecord describes one submission attempt. Field values are never
// recorded.
type AuditRecord struct {
	SessionID    string
	SubmissionID string
	Outcome      string
	ErrorCode    string
	Duration     time.Duration
	CreatedAt    time.Time
}

// AuditRecorder stores submission attempts.
type AuditRecorder interface {
	Record(ctx context.Context, rec AuditRecord) error
}

const createSubmissionAttempts = `
CREATE TABLE IF NOT EXISTS submission_attempts (
    id            UUID PRIMARY KEY,
    session_id    TEXT NOT NULL,
    submission_id TEXT NOT NULL,
    outcome       TEXT NOT NULL,
    error_code    TEXT,
    duration_ms   BIGINT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL
)`

const insertSubmissionAttempt = `
INSERT INTO submission_attempts (id, session_id, submission_id, outcome, error_code, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// PostgresAuditRecorder writes to the submission_attempts table.
type PostgresAuditRecorder struct {
	db *sql.DB
}

func NewPostgresAuditRecorder(db *sql.DB) *PostgresAuditRecorder {
	return &PostgresAuditRecorder{db: db}
}

// EnsureSchema creates the table if it is missing.
func (p *PostgresAuditRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createSubmissionAttempts); err != nil {
		return apperrors.NewAuditInsertFailedError(err)
	}
	return nil
}

func (p *PostgresAuditRecorder) Record(ctx context.Context, rec AuditRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	errorCode := sql.NullString{String: rec.ErrorCode, Valid: rec.ErrorCode != ""}

	_, err := p.db.ExecContext(ctx, insertSubmissionAttempt,
		uuid.NewString(),
		rec.SessionID,
		rec.SubmissionID,
		rec.Outcome,
		errorCode,
		rec.Duration.Milliseconds(),
		createdAt,
	)
	if err != nil {
		return apperrors.NewAuditInsertFailedError(err)
	}
	return nil
}
