package domain

import dErrors "commhub/pkg/domain-errors"

// Platform identifies the communication channel a message arrived on.
//
// Usage: construct via ParsePlatform at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type Platform string

const (
	PlatformEmail        Platform = "email"
	PlatformPhysicalMail Platform = "physical_mail"
	PlatformIMessage     Platform = "imessage"
	PlatformWhatsApp     Platform = "whatsapp"
	PlatformInstagramDM  Platform = "instagram_dm"
	PlatformSMS          Platform = "sms"
	PlatformSlack        Platform = "slack"
	PlatformTelegram     Platform = "telegram"
)

var validPlatforms = map[Platform]bool{
	PlatformEmail:        true,
	PlatformPhysicalMail: true,
	PlatformIMessage:     true,
	PlatformWhatsApp:     true,
	PlatformInstagramDM:  true,
	PlatformSMS:          true,
	PlatformSlack:        true,
	PlatformTelegram:     true,
}

func (p Platform) IsValid() bool { return validPlatforms[p] }

// UsesEmailAddresses reports whether sender identifiers on this platform are
// email addresses. Physical mail scans carry a sender address line that the
// vision service normalizes into an email-like mailbox token.
func (p Platform) UsesEmailAddresses() bool {
	return p == PlatformEmail || p == PlatformPhysicalMail
}

// UsesPhoneNumbers reports whether sender identifiers on this platform are
// phone numbers.
func (p Platform) UsesPhoneNumbers() bool {
	return p == PlatformIMessage || p == PlatformWhatsApp || p == PlatformSMS
}

// ParsePlatform constructs a Platform from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParsePlatform(s string) (Platform, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "platform cannot be empty")
	}
	p := Platform(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported platform: "+s)
	}
	return p, nil
}

// EntityType names a governed entity category for deletion policy lookup.
type EntityType string

const (
	EntityContact         EntityType = "contact"
	EntityContactIdentity EntityType = "contact_identity"
	EntityCommunication   EntityType = "communication"
	EntityAttachment      EntityType = "communication_attachment"
	EntityProcessingLog   EntityType = "processing_log"
)

var validEntityTypes = map[EntityType]bool{
	EntityContact:         true,
	EntityContactIdentity: true,
	EntityCommunication:   true,
	EntityAttachment:      true,
	EntityProcessingLog:   true,
}

func (e EntityType) IsValid() bool { return validEntityTypes[e] }

func ParseEntityType(s string) (EntityType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "entity_type cannot be empty")
	}
	e := EntityType(s)
	if !e.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported entity_type: "+s)
	}
	return e, nil
}

// ComplianceCategory groups deletion policies by regulatory treatment.
type ComplianceCategory string

const (
	CategoryFinancial ComplianceCategory = "financial"
	CategoryPersonal  ComplianceCategory = "personal"
	CategoryBusiness  ComplianceCategory = "business"
	CategoryAudit     ComplianceCategory = "audit"
)

// Direction marks a communication as inbound or outbound.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionIncoming, DirectionOutgoing:
		return Direction(s), nil
	case "":
		// Ingest defaults to incoming; outbound records set it explicitly.
		return DirectionIncoming, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported direction: "+s)
}
