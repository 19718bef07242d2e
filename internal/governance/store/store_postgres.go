package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"commhub/internal/governance/models"
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

const policyColumns = `
	entity_type, compliance_category, retention_days, hard_delete_allowed,
	requires_approval, cascade_to_children, description
`

func (s *Postgres) FindPolicy(ctx context.Context, entityType domain.EntityType) (*models.DeletionPolicy, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+policyColumns+`
		FROM deletion_policies
		WHERE entity_type = $1
	`, string(entityType))
	return scanPolicy(row)
}

func (s *Postgres) SavePolicy(ctx context.Context, p *models.DeletionPolicy) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO deletion_policies (
			entity_type, compliance_category, retention_days, hard_delete_allowed,
			requires_approval, cascade_to_children, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (entity_type) DO UPDATE SET
			compliance_category = EXCLUDED.compliance_category,
			retention_days = EXCLUDED.retention_days,
			hard_delete_allowed = EXCLUDED.hard_delete_allowed,
			requires_approval = EXCLUDED.requires_approval,
			cascade_to_children = EXCLUDED.cascade_to_children,
			description = EXCLUDED.description
	`,
		string(p.EntityType), string(p.Category), p.RetentionDays,
		p.HardDeleteAllowed, p.RequiresApproval, p.CascadeToChildren, p.Description,
	)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

func (s *Postgres) ListPolicies(ctx context.Context) ([]*models.DeletionPolicy, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+policyColumns+`
		FROM deletion_policies
		ORDER BY entity_type
	`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*models.DeletionPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const auditColumns = `
	id, entity_type, entity_id, action, actor, reason, context,
	policy_snapshot, parent_audit_id, created_at
`

func (s *Postgres) AppendAudit(ctx context.Context, a *models.DeletionAudit) error {
	snapshot, err := json.Marshal(a.PolicySnapshot)
	if err != nil {
		return fmt.Errorf("marshal policy snapshot: %w", err)
	}
	var parent any
	if a.ParentAuditID != nil {
		parent = uuid.UUID(*a.ParentAuditID)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO deletion_audit (
			id, entity_type, entity_id, action, actor, reason, context,
			policy_snapshot, parent_audit_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		uuid.UUID(a.ID), string(a.EntityType), a.EntityID, string(a.Action),
		a.Actor, a.Reason, a.Context, snapshot, parent, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *Postgres) FindAudit(ctx context.Context, id domain.AuditID) (*models.DeletionAudit, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+auditColumns+`
		FROM deletion_audit
		WHERE id = $1
	`, uuid.UUID(id))
	return scanAudit(row)
}

func (s *Postgres) ListAudit(ctx context.Context, f AuditFilter) ([]*models.DeletionAudit, error) {
	query := `SELECT ` + auditColumns + ` FROM deletion_audit WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.EntityType != "" {
		query += ` AND entity_type = ` + arg(string(f.EntityType))
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ` + arg(f.EntityID)
	}
	if f.Actor != "" {
		query += ` AND actor = ` + arg(f.Actor)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ` + arg(f.Since)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []*models.DeletionAudit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*models.DeletionPolicy, error) {
	var p models.DeletionPolicy
	var entityType, category string
	err := row.Scan(
		&entityType, &category, &p.RetentionDays, &p.HardDeleteAllowed,
		&p.RequiresApproval, &p.CascadeToChildren, &p.Description,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan policy: %w", err)
	}
	p.EntityType = domain.EntityType(entityType)
	p.Category = domain.ComplianceCategory(category)
	return &p, nil
}

func scanAudit(row rowScanner) (*models.DeletionAudit, error) {
	var a models.DeletionAudit
	var id uuid.UUID
	var parent uuid.NullUUID
	var entityType, action string
	var snapshot []byte
	err := row.Scan(
		&id, &entityType, &a.EntityID, &action, &a.Actor, &a.Reason, &a.Context,
		&snapshot, &parent, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan audit: %w", err)
	}
	a.ID = domain.AuditID(id)
	a.EntityType = domain.EntityType(entityType)
	a.Action = models.AuditAction(action)
	if parent.Valid {
		pid := domain.AuditID(parent.UUID)
		a.ParentAuditID = &pid
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &a.PolicySnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal policy snapshot: %w", err)
		}
	}
	return &a, nil
}
