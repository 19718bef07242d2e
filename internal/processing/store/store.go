// Package store persists the processing log. The log is append-only and
// exempt from soft deletion; governance retains it under the audit policy
// regardless of what happens to the communication it describes.
package store

import (
	"context"

	"commhub/internal/processing/models"
	"commhub/pkg/domain"
)

type Store interface {
	Append(ctx context.Context, e *models.LogEntry) error

	// Update rewrites an in-flight entry (status, error, retry count).
	// Completed entries are never updated again.
	Update(ctx context.Context, e *models.LogEntry) error

	Find(ctx context.Context, id domain.LogEntryID) (*models.LogEntry, error)

	// ListByCommunication returns entries oldest first, the order the
	// pipeline ran them.
	ListByCommunication(ctx context.Context, commID domain.CommunicationID) ([]*models.LogEntry, error)
}
