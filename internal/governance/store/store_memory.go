package store

import (
	"context"
	"sort"
	"sync"

	"commhub/internal/governance/models"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.Mutex
	policies map[domain.EntityType]*models.DeletionPolicy
	audits   map[domain.AuditID]*models.DeletionAudit
	order    []domain.AuditID
}

func NewInMemory() *InMemory {
	return &InMemory{
		policies: make(map[domain.EntityType]*models.DeletionPolicy),
		audits:   make(map[domain.AuditID]*models.DeletionAudit),
	}
}

// NewInMemorySeeded returns a store preloaded with the given policies.
func NewInMemorySeeded(policies []models.DeletionPolicy) *InMemory {
	s := NewInMemory()
	for i := range policies {
		p := policies[i]
		s.policies[p.EntityType] = &p
	}
	return s
}

func (s *InMemory) FindPolicy(_ context.Context, entityType domain.EntityType) (*models.DeletionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[entityType]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	dup := *p
	return &dup, nil
}

func (s *InMemory) SavePolicy(_ context.Context, p *models.DeletionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *p
	s.policies[p.EntityType] = &dup
	return nil
}

func (s *InMemory) ListPolicies(_ context.Context) ([]*models.DeletionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeletionPolicy
	for _, p := range s.policies {
		dup := *p
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out, nil
}

func (s *InMemory) AppendAudit(_ context.Context, a *models.DeletionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[a.ID]; ok {
		return sentinel.ErrConflict
	}
	dup := *a
	s.audits[a.ID] = &dup
	s.order = append(s.order, a.ID)
	return nil
}

func (s *InMemory) FindAudit(_ context.Context, id domain.AuditID) (*models.DeletionAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	dup := *a
	return &dup, nil
}

func (s *InMemory) ListAudit(_ context.Context, f AuditFilter) ([]*models.DeletionAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeletionAudit
	// newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.audits[s.order[i]]
		if f.EntityType != "" && a.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && a.EntityID != f.EntityID {
			continue
		}
		if f.Actor != "" && a.Actor != f.Actor {
			continue
		}
		if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
			continue
		}
		dup := *a
		out = append(out, &dup)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
