// Package policy resolves deletion policies per entity type.
//
// Policies change rarely and reads happen on every governance call, so the
// resolver caches for the process lifetime and falls back to a conservative
// default when no policy row exists: nothing hard-deletable, approval
// required, a seven-year retention.
package policy

import (
	"context"
	"log/slog"
	"sync"

	"commhub/internal/governance/models"
	"commhub/pkg/domain"
)

// Store is the persistence slice the resolver reads. The in-memory seed
// store and the postgres table both satisfy it.
type Store interface {
	FindPolicy(ctx context.Context, entityType domain.EntityType) (*models.DeletionPolicy, error)
}

// Defaults are the seeded policies. Processing logs keep the audit-grade
// retention; they are never deletable through any path.
func Defaults() []models.DeletionPolicy {
	return []models.DeletionPolicy{
		{
			EntityType:        domain.EntityCommunication,
			Category:          domain.CategoryPersonal,
			RetentionDays:     90,
			HardDeleteAllowed: true,
			RequiresApproval:  false,
			CascadeToChildren: true,
			Description:       "Messages restore freely for 90 days, then may be purged.",
		},
		{
			EntityType:        domain.EntityAttachment,
			Category:          domain.CategoryPersonal,
			RetentionDays:     90,
			HardDeleteAllowed: true,
			RequiresApproval:  false,
			CascadeToChildren: false,
			Description:       "Attachments follow their communication.",
		},
		{
			EntityType:        domain.EntityContact,
			Category:          domain.CategoryBusiness,
			RetentionDays:     365,
			HardDeleteAllowed: false,
			RequiresApproval:  true,
			CascadeToChildren: false,
			Description:       "Contact removal needs sign-off; history stays intact.",
		},
		{
			EntityType:        domain.EntityContactIdentity,
			Category:          domain.CategoryPersonal,
			RetentionDays:     365,
			HardDeleteAllowed: false,
			RequiresApproval:  true,
			CascadeToChildren: false,
		},
		{
			EntityType:        domain.EntityProcessingLog,
			Category:          domain.CategoryAudit,
			RetentionDays:     2555,
			HardDeleteAllowed: false,
			RequiresApproval:  true,
			CascadeToChildren: false,
			Description:       "Append-only; retained for the audit horizon.",
		},
	}
}

// Fallback is applied when an entity type has no stored policy. Deliberately
// the strictest combination.
func Fallback(entityType domain.EntityType) models.DeletionPolicy {
	return models.DeletionPolicy{
		EntityType:        entityType,
		Category:          domain.CategoryAudit,
		RetentionDays:     2555,
		HardDeleteAllowed: false,
		RequiresApproval:  true,
		CascadeToChildren: false,
		Description:       "fallback policy",
	}
}

type Resolver struct {
	store Store
	log   *slog.Logger

	mu    sync.RWMutex
	cache map[domain.EntityType]models.DeletionPolicy
}

func NewResolver(store Store, log *slog.Logger) *Resolver {
	return &Resolver{
		store: store,
		log:   log,
		cache: make(map[domain.EntityType]models.DeletionPolicy),
	}
}

// Resolve returns the policy for an entity type, caching hits and falling
// back when the store has nothing. Fallbacks are logged but not cached, so
// a later seed takes effect without a restart.
func (r *Resolver) Resolve(ctx context.Context, entityType domain.EntityType) models.DeletionPolicy {
	r.mu.RLock()
	cached, ok := r.cache[entityType]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	p, err := r.store.FindPolicy(ctx, entityType)
	if err != nil || p == nil {
		r.log.WarnContext(ctx, "no deletion policy found, using fallback",
			slog.String("entity_type", string(entityType)))
		return Fallback(entityType)
	}

	r.mu.Lock()
	r.cache[entityType] = *p
	r.mu.Unlock()
	return *p
}
