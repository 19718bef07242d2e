package models

import (
	"time"

	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
)

// ContactStatus is the lifecycle state of a contact.
type ContactStatus string

const (
	ContactStatusActive   ContactStatus = "active"
	ContactStatusInactive ContactStatus = "inactive"
	ContactStatusProspect ContactStatus = "prospect"
)

// VerificationStatus marks whether an identity binding has been confirmed by
// an operator. Auto-created bindings start unverified.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
)

// SoftDelete carries the shared governance fields for every governed entity.
// An entity is active iff DeletedAt and PendingAt are both nil; PendingAt
// marks a deletion awaiting approval, which excludes the record from active
// views without starting its restoration-expiry countdown.
type SoftDelete struct {
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	DeletedBy       string     `json:"deleted_by,omitempty"`
	DeletionReason  string     `json:"deletion_reason,omitempty"`
	DeletionContext string     `json:"deletion_context,omitempty"`
	PendingAt       *time.Time `json:"pending_at,omitempty"`
}

func (s SoftDelete) IsActive() bool  { return s.DeletedAt == nil && s.PendingAt == nil }
func (s SoftDelete) IsDeleted() bool { return s.DeletedAt != nil }
func (s SoftDelete) IsPending() bool { return s.PendingAt != nil && s.DeletedAt == nil }

// MarkPending parks the entity in the approval-pending state.
func (s *SoftDelete) MarkPending(now time.Time, actor, reason string) {
	s.PendingAt = &now
	s.DeletedBy = actor
	s.DeletionReason = reason
}

// MarkDeleted applies the soft delete, clearing any pending marker.
func (s *SoftDelete) MarkDeleted(now time.Time, actor, reason, context string) {
	s.DeletedAt = &now
	s.DeletedBy = actor
	s.DeletionReason = reason
	s.DeletionContext = context
	s.PendingAt = nil
}

// ClearDeleted restores the entity to the active state.
func (s *SoftDelete) ClearDeleted() {
	s.DeletedAt = nil
	s.DeletedBy = ""
	s.DeletionReason = ""
	s.DeletionContext = ""
	s.PendingAt = nil
}

// Contact is the canonical record for a person or organization the business
// communicates with.
//
// Invariants:
//   - FirstName is non-empty (auto-created contacts derive it from the
//     sender identifier)
//   - Status is one of active, inactive, prospect
//   - a Contact is only ever removed through governed hard delete
type Contact struct {
	ID        domain.ContactID `json:"id"`
	FirstName string           `json:"first_name"`
	LastName  string           `json:"last_name"`
	Title     string           `json:"title,omitempty"`
	Company   string           `json:"company,omitempty"`
	Notes     string           `json:"notes,omitempty"`
	Source    string           `json:"source,omitempty"`
	Status    ContactStatus    `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	SoftDelete
}

func (c *Contact) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// NewContact validates invariants and constructs an active contact.
func NewContact(id domain.ContactID, firstName, lastName string, now time.Time) (*Contact, error) {
	if firstName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "contact first name cannot be empty")
	}
	return &Contact{
		ID:        id,
		FirstName: firstName,
		LastName:  lastName,
		Status:    ContactStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ContactIdentity binds one platform-specific identifier to exactly one
// Contact.
//
// Invariants:
//   - (Platform, PlatformIdentifier) is unique across all non-hard-deleted
//     rows; the store enforces this with atomic insert-if-absent
//   - ownership is exclusive and reassignable only through an explicit merge
type ContactIdentity struct {
	ID                   domain.IdentityID  `json:"id"`
	ContactID            domain.ContactID   `json:"contact_id"`
	Platform             domain.Platform    `json:"platform"`
	PlatformIdentifier   string             `json:"platform_identifier"`
	PlatformDisplayName  string             `json:"platform_display_name,omitempty"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
	IsPrimaryForPlatform bool               `json:"is_primary_for_platform"`
	LastSeenAt           time.Time          `json:"last_seen_at"`
	CreatedAt            time.Time          `json:"created_at"`
	SoftDelete
}

// NewContactIdentity constructs an unverified identity binding.
func NewContactIdentity(id domain.IdentityID, contactID domain.ContactID, platform domain.Platform, identifier, displayName string, now time.Time) (*ContactIdentity, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "platform identifier cannot be empty")
	}
	return &ContactIdentity{
		ID:                   id,
		ContactID:            contactID,
		Platform:             platform,
		PlatformIdentifier:   identifier,
		PlatformDisplayName:  displayName,
		VerificationStatus:   VerificationUnverified,
		IsPrimaryForPlatform: true,
		LastSeenAt:           now,
		CreatedAt:            now,
	}, nil
}
