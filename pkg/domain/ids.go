package domain

import (
	"github.com/google/uuid"

	dErrors "commhub/pkg/domain-errors"
)

// Typed entity identifiers. Distinct types keep a ContactID from being passed
// where a CommunicationID is expected; the compiler enforces the boundary.
//
// Invariant: a parsed ID is a valid, non-nil UUID. Construct via the Parse*
// functions at trust boundaries; direct casting bypasses validation.
type (
	ContactID       uuid.UUID
	IdentityID      uuid.UUID
	CommunicationID uuid.UUID
	AttachmentID    uuid.UUID
	AuditID         uuid.UUID
	LogEntryID      uuid.UUID
)

func NewContactID() ContactID             { return ContactID(uuid.New()) }
func NewIdentityID() IdentityID           { return IdentityID(uuid.New()) }
func NewCommunicationID() CommunicationID { return CommunicationID(uuid.New()) }
func NewAttachmentID() AttachmentID       { return AttachmentID(uuid.New()) }
func NewAuditID() AuditID                 { return AuditID(uuid.New()) }
func NewLogEntryID() LogEntryID           { return LogEntryID(uuid.New()) }

func (id ContactID) String() string       { return uuid.UUID(id).String() }
func (id IdentityID) String() string      { return uuid.UUID(id).String() }
func (id CommunicationID) String() string { return uuid.UUID(id).String() }
func (id AttachmentID) String() string    { return uuid.UUID(id).String() }
func (id AuditID) String() string         { return uuid.UUID(id).String() }
func (id LogEntryID) String() string      { return uuid.UUID(id).String() }

func (id ContactID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CommunicationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AuditID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }

// JSON renders the ids as canonical UUID strings. Defined types do not
// inherit uuid.UUID's text marshaling, so each id carries its own.

func (id ContactID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id IdentityID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id CommunicationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id AttachmentID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id AuditID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }
func (id LogEntryID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }

func (id *ContactID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ContactID(u)
	return nil
}

func (id *IdentityID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = IdentityID(u)
	return nil
}

func (id *CommunicationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = CommunicationID(u)
	return nil
}

func (id *AttachmentID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = AttachmentID(u)
	return nil
}

func (id *AuditID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = AuditID(u)
	return nil
}

func (id *LogEntryID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = LogEntryID(u)
	return nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return parsed, nil
}

func ParseContactID(s string) (ContactID, error) {
	u, err := parseUUID(s)
	return ContactID(u), err
}

func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s)
	return IdentityID(u), err
}

func ParseCommunicationID(s string) (CommunicationID, error) {
	u, err := parseUUID(s)
	return CommunicationID(u), err
}

func ParseAttachmentID(s string) (AttachmentID, error) {
	u, err := parseUUID(s)
	return AttachmentID(u), err
}

func ParseAuditID(s string) (AuditID, error) {
	u, err := parseUUID(s)
	return AuditID(u), err
}

// ThreadID is a monotonic opaque conversation token (ULID). Unlike the UUID
// ids above it is minted by the thread linker, never parsed from user input
// beyond an emptiness check, and never reused.
type ThreadID string

func (id ThreadID) String() string { return string(id) }
func (id ThreadID) IsZero() bool   { return id == "" }
