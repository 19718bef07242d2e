package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"commhub/internal/processing/models"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
	txcontext "commhub/pkg/platform/tx"

	"github.com/google/uuid"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const logColumns = `
	id, communication_id, step, status, engine, confidence, duration_ms,
	tokens_used, cost_cents, error_message, retry_count,
	started_at, completed_at
`

func (s *Postgres) Append(ctx context.Context, e *models.LogEntry) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO processing_log (
			id, communication_id, step, status, engine, confidence,
			duration_ms, tokens_used, cost_cents, error_message, retry_count,
			started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		uuid.UUID(e.ID), uuid.UUID(e.CommunicationID), string(e.Step),
		string(e.Status), e.Engine, e.Confidence, e.DurationMs,
		e.TokensUsed, e.CostCents, e.ErrorMessage, e.RetryCount,
		e.StartedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("append processing log: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, e *models.LogEntry) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE processing_log
		SET status = $2, engine = $3, confidence = $4, duration_ms = $5,
		    tokens_used = $6, cost_cents = $7, error_message = $8,
		    retry_count = $9, completed_at = $10
		WHERE id = $1
	`,
		uuid.UUID(e.ID), string(e.Status), e.Engine, e.Confidence,
		e.DurationMs, e.TokensUsed, e.CostCents, e.ErrorMessage,
		e.RetryCount, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update processing log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, id domain.LogEntryID) (*models.LogEntry, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+logColumns+`
		FROM processing_log
		WHERE id = $1
	`, uuid.UUID(id))
	return scanEntry(row)
}

func (s *Postgres) ListByCommunication(ctx context.Context, commID domain.CommunicationID) ([]*models.LogEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+logColumns+`
		FROM processing_log
		WHERE communication_id = $1
		ORDER BY started_at
	`, uuid.UUID(commID))
	if err != nil {
		return nil, fmt.Errorf("list processing log: %w", err)
	}
	defer rows.Close()

	var out []*models.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LogEntry, error) {
	var e models.LogEntry
	var id, commID uuid.UUID
	var step, status string
	err := row.Scan(
		&id, &commID, &step, &status, &e.Engine, &e.Confidence,
		&e.DurationMs, &e.TokensUsed, &e.CostCents,
		&e.ErrorMessage, &e.RetryCount,
		&e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan processing log entry: %w", err)
	}
	e.ID = domain.LogEntryID(id)
	e.CommunicationID = domain.CommunicationID(commID)
	e.Step = models.Step(step)
	e.Status = models.StepStatus(status)
	return &e, nil
}
