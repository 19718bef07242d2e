package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	governancemodels "commhub/internal/governance/models"
	"commhub/internal/identity/models"
	"commhub/internal/identity/store"
	"commhub/internal/platform/metrics"
	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
	"commhub/pkg/email"
	"commhub/pkg/platform/sentinel"
	"commhub/pkg/requestcontext"
)

// Deleter is the narrow slice of the governance engine the merge flow needs.
// Soft-deleting the losing contact goes through the engine's single entry
// point so the merge is audited like any other deletion.
type Deleter interface {
	Delete(ctx context.Context, entityType domain.EntityType, entityID, actor, reason string) (governancemodels.ActionResult, error)
}

// Service resolves raw sender identifiers to canonical contacts and performs
// explicit, audited contact merges. It never merges silently.
type Service struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	deleter Deleter
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithDeleter(d Deleter) Option {
	return func(s *Service) { s.deleter = d }
}

func New(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: st, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolution reports how a sender identifier was resolved.
type Resolution struct {
	Contact  *models.Contact
	Identity *models.ContactIdentity
	Created  bool
}

// Resolve finds or creates the canonical contact for a sender identifier.
//
// The create path is an atomic insert-if-absent against the
// (platform, identifier) uniqueness invariant: when a concurrent caller wins
// the race, this call discards its half-created contact and returns the
// winning identity's contact. Conflicts are never surfaced to the caller.
//
// Errors: CodeInvalidIdentifier when the identifier is malformed; the caller
// must still persist the communication with an unresolved sender.
func (s *Service) Resolve(ctx context.Context, platform domain.Platform, identifier, displayName string) (*Resolution, error) {
	normalized, err := email.NormalizeIdentifier(platform, identifier)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	identity, err := s.store.FindIdentity(ctx, platform, normalized)
	if err == nil {
		contact, err := s.store.FindContact(ctx, identity.ContactID)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "identity owner lookup failed", err)
		}
		if err := s.store.TouchIdentity(ctx, identity.ID, now, displayName); err != nil {
			s.logger.WarnContext(ctx, "identity touch failed",
				"identity_id", identity.ID, "error", err)
		}
		return &Resolution{Contact: contact, Identity: identity}, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "identity lookup failed", err)
	}

	contact, identity, err := s.newContactFor(platform, normalized, displayName, now)
	if err != nil {
		return nil, err
	}

	err = s.store.CreateContactWithIdentity(ctx, contact, identity)
	if err == nil {
		if s.metrics != nil {
			s.metrics.ContactsCreated.Inc()
		}
		s.logger.InfoContext(ctx, "contact auto-created",
			"contact_id", contact.ID,
			"platform", platform,
		)
		return &Resolution{Contact: contact, Identity: identity, Created: true}, nil
	}
	if !errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "contact creation failed", err)
	}

	// Lost the insert race: re-read the identity that won.
	winner, err := s.store.FindIdentity(ctx, platform, normalized)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "winning identity lookup failed", err)
	}
	winnerContact, err := s.store.FindContact(ctx, winner.ContactID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "winning contact lookup failed", err)
	}
	return &Resolution{Contact: winnerContact, Identity: winner}, nil
}

func (s *Service) newContactFor(platform domain.Platform, identifier, displayName string, now time.Time) (*models.Contact, *models.ContactIdentity, error) {
	first, last := email.SplitDisplayName(displayName)
	if first == "" {
		if platform.UsesEmailAddresses() {
			first, last = email.DeriveNameFromEmail(identifier)
		} else {
			first, last = "Unknown", "Sender"
		}
	}

	contact, err := models.NewContact(domain.NewContactID(), first, last, now)
	if err != nil {
		return nil, nil, err
	}
	contact.Source = "auto:" + string(platform)

	identity, err := models.NewContactIdentity(domain.NewIdentityID(), contact.ID, platform, identifier, displayName, now)
	if err != nil {
		return nil, nil, err
	}
	return contact, identity, nil
}

// MergeResult summarizes an explicit contact merge.
type MergeResult struct {
	Winner     *models.Contact
	Reassigned int
	AuditID    domain.AuditID
}

// Merge reassigns every identity of the losing contact to the winner, then
// soft-deletes the loser through the governance engine so the action is
// audited. Merging is never inferred; this is the only path that moves an
// identity between contacts.
func (s *Service) Merge(ctx context.Context, winnerID, loserID domain.ContactID, actor, reason string) (*MergeResult, error) {
	if winnerID == loserID {
		return nil, dErrors.New(dErrors.CodeBadRequest, "cannot merge a contact into itself")
	}
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "merge requires an acting operator")
	}

	winner, err := s.store.FindContact(ctx, winnerID)
	if err != nil {
		return nil, s.translateLookup(err, "winner contact")
	}
	if !winner.IsActive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "cannot merge into a deleted contact")
	}
	if _, err := s.store.FindContact(ctx, loserID); err != nil {
		return nil, s.translateLookup(err, "loser contact")
	}

	moved, err := s.store.ReassignIdentities(ctx, loserID, winnerID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "identity reassignment failed", err)
	}

	result := &MergeResult{Winner: winner, Reassigned: moved}
	if s.deleter != nil {
		deleted, err := s.deleter.Delete(ctx, domain.EntityContact, loserID.String(), actor, "merged into "+winnerID.String()+": "+reason)
		if err != nil {
			return nil, err
		}
		result.AuditID = deleted.AuditID
	}

	s.logger.InfoContext(ctx, "contacts merged",
		"winner_id", winnerID,
		"loser_id", loserID,
		"identities_reassigned", moved,
		"actor", actor,
	)
	return result, nil
}

// Contact returns one contact by id, including deleted ones so governance
// views can inspect them.
func (s *Service) Contact(ctx context.Context, id domain.ContactID) (*models.Contact, error) {
	contact, err := s.store.FindContact(ctx, id)
	if err != nil {
		return nil, s.translateLookup(err, "contact")
	}
	return contact, nil
}

// ListContacts returns contacts, excluding deleted and pending records unless
// includeDeleted is set.
func (s *Service) ListContacts(ctx context.Context, includeDeleted bool) ([]*models.Contact, error) {
	contacts, err := s.store.ListContacts(ctx, includeDeleted)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "contact listing failed", err)
	}
	return contacts, nil
}

// Identities returns the active identity bindings owned by a contact.
func (s *Service) Identities(ctx context.Context, contactID domain.ContactID) ([]*models.ContactIdentity, error) {
	identities, err := s.store.ListIdentitiesByContact(ctx, contactID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "identity listing failed", err)
	}
	return identities, nil
}

func (s *Service) translateLookup(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(dErrors.CodeInternal, what+" lookup failed", err)
}
