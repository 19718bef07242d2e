// Package store persists deletion policies and the deletion audit trail.
// Audit rows are append-only; nothing updates or deletes them.
package store

import (
	"context"
	"time"

	"commhub/internal/governance/models"
	"commhub/pkg/domain"
)

// AuditFilter narrows audit queries. Zero values mean "any".
type AuditFilter struct {
	EntityType domain.EntityType
	EntityID   string
	Actor      string
	Since      time.Time
	Limit      int
}

type Store interface {
	FindPolicy(ctx context.Context, entityType domain.EntityType) (*models.DeletionPolicy, error)
	SavePolicy(ctx context.Context, p *models.DeletionPolicy) error
	ListPolicies(ctx context.Context) ([]*models.DeletionPolicy, error)

	AppendAudit(ctx context.Context, a *models.DeletionAudit) error
	FindAudit(ctx context.Context, id domain.AuditID) (*models.DeletionAudit, error)
	ListAudit(ctx context.Context, f AuditFilter) ([]*models.DeletionAudit, error)
}
