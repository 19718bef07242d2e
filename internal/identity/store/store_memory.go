package store

import (
	"context"
	"sync"
	"time"

	"commhub/internal/identity/models"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
)

type identityKey struct {
	platform   domain.Platform
	identifier string
}

// InMemory keeps contacts and identities behind a single mutex so the
// insert-if-absent check and the insert commit as one critical section.
type InMemory struct {
	mu         sync.RWMutex
	contacts   map[domain.ContactID]*models.Contact
	identities map[domain.IdentityID]*models.ContactIdentity
	byKey      map[identityKey]domain.IdentityID
}

func NewInMemory() *InMemory {
	return &InMemory{
		contacts:   make(map[domain.ContactID]*models.Contact),
		identities: make(map[domain.IdentityID]*models.ContactIdentity),
		byKey:      make(map[identityKey]domain.IdentityID),
	}
}

func (s *InMemory) CreateContactWithIdentity(_ context.Context, contact *models.Contact, identity *models.ContactIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identityKey{identity.Platform, identity.PlatformIdentifier}
	if existingID, ok := s.byKey[key]; ok {
		if existing := s.identities[existingID]; existing != nil && !existing.IsDeleted() {
			return sentinel.ErrConflict
		}
	}

	c := *contact
	i := *identity
	s.contacts[c.ID] = &c
	s.identities[i.ID] = &i
	s.byKey[key] = i.ID
	return nil
}

func (s *InMemory) FindIdentity(_ context.Context, platform domain.Platform, identifier string) (*models.ContactIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[identityKey{platform, identifier}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	identity := s.identities[id]
	if identity == nil || identity.IsDeleted() {
		return nil, sentinel.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *InMemory) FindIdentityByID(_ context.Context, id domain.IdentityID) (*models.ContactIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *InMemory) FindContact(_ context.Context, id domain.ContactID) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contact, ok := s.contacts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *contact
	return &copied, nil
}

func (s *InMemory) ListContacts(_ context.Context, includeDeleted bool) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contact
	for _, contact := range s.contacts {
		if !includeDeleted && !contact.IsActive() {
			continue
		}
		copied := *contact
		out = append(out, &copied)
	}
	return out, nil
}

func (s *InMemory) ListIdentitiesByContact(_ context.Context, contactID domain.ContactID) ([]*models.ContactIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ContactIdentity
	for _, identity := range s.identities {
		if identity.ContactID == contactID && !identity.IsDeleted() {
			copied := *identity
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *InMemory) TouchIdentity(_ context.Context, id domain.IdentityID, seenAt time.Time, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	identity.LastSeenAt = seenAt
	if displayName != "" {
		identity.PlatformDisplayName = displayName
	}
	return nil
}

func (s *InMemory) ReassignIdentities(_ context.Context, from, to domain.ContactID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contacts[to]; !ok {
		return 0, sentinel.ErrNotFound
	}
	moved := 0
	for _, identity := range s.identities {
		if identity.ContactID == from && !identity.IsDeleted() {
			identity.ContactID = to
			moved++
		}
	}
	return moved, nil
}

func (s *InMemory) UpdateContact(_ context.Context, contact *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contacts[contact.ID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *contact
	s.contacts[contact.ID] = &copied
	return nil
}

func (s *InMemory) UpdateIdentity(_ context.Context, identity *models.ContactIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identity.ID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *identity
	s.identities[identity.ID] = &copied
	return nil
}

func (s *InMemory) PurgeContact(_ context.Context, id domain.ContactID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contacts[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.contacts, id)
	return nil
}

func (s *InMemory) PurgeIdentity(_ context.Context, id domain.IdentityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byKey, identityKey{identity.Platform, identity.PlatformIdentifier})
	delete(s.identities, id)
	return nil
}
