package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"commhub/internal/comms/models"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
)

type dedupKey struct {
	platform  domain.Platform
	messageID string
}

// InMemory is the development and test store. One mutex guards everything so
// the dedup insert stays atomic.
type InMemory struct {
	mu          sync.Mutex
	comms       map[domain.CommunicationID]*models.Communication
	attachments map[domain.AttachmentID]*models.Attachment
	byKey       map[dedupKey]domain.CommunicationID
}

func NewInMemory() *InMemory {
	return &InMemory{
		comms:       make(map[domain.CommunicationID]*models.Communication),
		attachments: make(map[domain.AttachmentID]*models.Attachment),
		byKey:       make(map[dedupKey]domain.CommunicationID),
	}
}

func (s *InMemory) Create(_ context.Context, c *models.Communication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.PlatformMessageID != "" {
		key := dedupKey{c.Platform, c.PlatformMessageID}
		if existingID, ok := s.byKey[key]; ok {
			if existing := s.comms[existingID]; existing != nil && !existing.IsDeleted() {
				return sentinel.ErrConflict
			}
		}
		s.byKey[key] = c.ID
	}
	s.comms[c.ID] = copyComm(c)
	return nil
}

func (s *InMemory) Find(_ context.Context, id domain.CommunicationID) (*models.Communication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comms[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyComm(c), nil
}

func (s *InMemory) FindByPlatformMessageID(_ context.Context, platform domain.Platform, messageID string, includeDeleted bool) (*models.Communication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The key index only tracks the latest holder; deleted rows may have
	// been superseded, so scan when deleted rows matter.
	if id, ok := s.byKey[dedupKey{platform, messageID}]; ok {
		if c := s.comms[id]; c != nil && (includeDeleted || !c.IsDeleted()) {
			return copyComm(c), nil
		}
	}
	if includeDeleted {
		for _, c := range s.comms {
			if c.Platform == platform && c.PlatformMessageID == messageID {
				return copyComm(c), nil
			}
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListByPlatformThreadID(_ context.Context, platform domain.Platform, platformThreadID string) ([]*models.Communication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Communication
	for _, c := range s.comms {
		if c.Platform == platform && c.PlatformThreadID == platformThreadID && !c.IsDeleted() {
			out = append(out, copyComm(c))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemory) ListByThread(_ context.Context, threadID domain.ThreadID, includeDeleted bool) ([]*models.Communication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Communication
	for _, c := range s.comms {
		if c.ThreadID != threadID {
			continue
		}
		if !includeDeleted && !c.IsActive() {
			continue
		}
		out = append(out, copyComm(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (s *InMemory) List(_ context.Context, f Filter) ([]*models.Communication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Communication
	for _, c := range s.comms {
		if !matches(c, f) {
			continue
		}
		out = append(out, copyComm(c))
	}
	sortNewestFirst(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(c *models.Communication, f Filter) bool {
	// Pending-deletion rows hide with the deleted ones.
	if !f.IncludeDeleted && !c.IsActive() {
		return false
	}
	if f.Platform != "" && c.Platform != f.Platform {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.ThreadID != "" && c.ThreadID != f.ThreadID {
		return false
	}
	if !f.ContactID.IsNil() {
		hit := false
		for _, p := range c.Participants() {
			if p == f.ContactID {
				hit = true
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (s *InMemory) Update(_ context.Context, c *models.Communication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comms[c.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.comms[c.ID] = copyComm(c)
	return nil
}

func (s *InMemory) ListProcessedBefore(_ context.Context, cutoff time.Time) ([]*models.Communication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Communication
	for _, c := range s.comms {
		if c.Status == models.StatusProcessed && !c.IsDeleted() && c.SentAt.Before(cutoff) {
			out = append(out, copyComm(c))
		}
	}
	return out, nil
}

func (s *InMemory) CreateAttachment(_ context.Context, a *models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comms[a.CommunicationID]; !ok {
		return sentinel.ErrNotFound
	}
	s.attachments[a.ID] = copyAttachment(a)
	return nil
}

func (s *InMemory) FindAttachment(_ context.Context, id domain.AttachmentID) (*models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attachments[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyAttachment(a), nil
}

func (s *InMemory) ListAttachments(_ context.Context, commID domain.CommunicationID, includeDeleted bool) ([]*models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Attachment
	for _, a := range s.attachments {
		if a.CommunicationID != commID {
			continue
		}
		if !includeDeleted && !a.IsActive() {
			continue
		}
		out = append(out, copyAttachment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) UpdateAttachment(_ context.Context, a *models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attachments[a.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.attachments[a.ID] = copyAttachment(a)
	return nil
}

func (s *InMemory) PurgeCommunication(_ context.Context, id domain.CommunicationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comms[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.PlatformMessageID != "" {
		key := dedupKey{c.Platform, c.PlatformMessageID}
		if s.byKey[key] == id {
			delete(s.byKey, key)
		}
	}
	delete(s.comms, id)
	return nil
}

func (s *InMemory) PurgeAttachment(_ context.Context, id domain.AttachmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attachments[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.attachments, id)
	return nil
}

func sortNewestFirst(cs []*models.Communication) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].SentAt.After(cs[j].SentAt) })
}

func copyComm(c *models.Communication) *models.Communication {
	dup := *c
	if c.GroupParticipants != nil {
		dup.GroupParticipants = append([]string(nil), c.GroupParticipants...)
	}
	return &dup
}

func copyAttachment(a *models.Attachment) *models.Attachment {
	dup := *a
	return &dup
}
