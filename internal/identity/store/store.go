package store

import (
	"context"
	"time"

	"commhub/internal/identity/models"
	"commhub/pkg/domain"
)

// Store persists contacts and their platform identity bindings.
//
// CreateContactWithIdentity is the resolver's atomic insert-if-absent: it
// commits the new contact and its identity binding together, or fails the
// whole operation with sentinel.ErrConflict when another caller already owns
// the (platform, identifier) pair. Losers re-read via FindIdentity; the
// half-created contact is never visible.
type Store interface {
	CreateContactWithIdentity(ctx context.Context, contact *models.Contact, identity *models.ContactIdentity) error
	FindIdentity(ctx context.Context, platform domain.Platform, identifier string) (*models.ContactIdentity, error)
	FindContact(ctx context.Context, id domain.ContactID) (*models.Contact, error)
	ListContacts(ctx context.Context, includeDeleted bool) ([]*models.Contact, error)
	ListIdentitiesByContact(ctx context.Context, contactID domain.ContactID) ([]*models.ContactIdentity, error)
	TouchIdentity(ctx context.Context, id domain.IdentityID, seenAt time.Time, displayName string) error
	ReassignIdentities(ctx context.Context, from, to domain.ContactID) (int, error)
	UpdateContact(ctx context.Context, contact *models.Contact) error
	UpdateIdentity(ctx context.Context, identity *models.ContactIdentity) error

	// PurgeContact and PurgeIdentity physically remove rows. Only the
	// governance engine calls these, after policy checks.
	PurgeContact(ctx context.Context, id domain.ContactID) error
	PurgeIdentity(ctx context.Context, id domain.IdentityID) error
	FindIdentityByID(ctx context.Context, id domain.IdentityID) (*models.ContactIdentity, error)
}
