// Package store persists communications and their attachments.
//
// Stores speak in sentinel errors; services translate them into
// code-carrying errors for callers.
package store

import (
	"context"
	"time"

	"commhub/internal/comms/models"
	"commhub/pkg/domain"
)

// Filter narrows List results. Zero values mean "any". Without
// IncludeDeleted, deleted rows and rows parked pending a deletion approval
// both stay out of the results.
type Filter struct {
	Platform       domain.Platform
	Status         models.ProcessingStatus
	ContactID      domain.ContactID
	ThreadID       domain.ThreadID
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type Store interface {
	// Create persists a communication. When PlatformMessageID is set,
	// (Platform, PlatformMessageID) is unique among non-deleted rows and a
	// duplicate returns sentinel.ErrConflict without writing anything.
	Create(ctx context.Context, c *models.Communication) error

	Find(ctx context.Context, id domain.CommunicationID) (*models.Communication, error)

	// FindByPlatformMessageID looks a communication up by its dedup key.
	// Soft-deleted rows are included when includeDeleted is set; thread
	// inheritance needs them.
	FindByPlatformMessageID(ctx context.Context, platform domain.Platform, messageID string, includeDeleted bool) (*models.Communication, error)

	// ListByPlatformThreadID returns non-deleted communications carrying the
	// given platform-native thread id, newest first.
	ListByPlatformThreadID(ctx context.Context, platform domain.Platform, platformThreadID string) ([]*models.Communication, error)

	ListByThread(ctx context.Context, threadID domain.ThreadID, includeDeleted bool) ([]*models.Communication, error)

	List(ctx context.Context, f Filter) ([]*models.Communication, error)

	Update(ctx context.Context, c *models.Communication) error

	// ListProcessedBefore returns processed communications whose SentAt is
	// before the cutoff. The retention sweep archives these.
	ListProcessedBefore(ctx context.Context, cutoff time.Time) ([]*models.Communication, error)

	CreateAttachment(ctx context.Context, a *models.Attachment) error
	FindAttachment(ctx context.Context, id domain.AttachmentID) (*models.Attachment, error)
	ListAttachments(ctx context.Context, commID domain.CommunicationID, includeDeleted bool) ([]*models.Attachment, error)
	UpdateAttachment(ctx context.Context, a *models.Attachment) error

	// Purge removes rows permanently. Only governance hard-deletion calls
	// these, and only after the policy check passed.
	PurgeCommunication(ctx context.Context, id domain.CommunicationID) error
	PurgeAttachment(ctx context.Context, id domain.AttachmentID) error
}
