package models

import (
	"time"

	identitymodels "commhub/internal/identity/models"
	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
)

// ProcessingStatus is the pipeline state of a communication.
//
// Transitions:
//
//	needs_processing → processed
//	needs_processing → flagged_for_review
//	flagged_for_review → processed
//	processed → archived
//
// No transition leaves archived.
type ProcessingStatus string

const (
	StatusNeedsProcessing  ProcessingStatus = "needs_processing"
	StatusProcessed        ProcessingStatus = "processed"
	StatusFlaggedForReview ProcessingStatus = "flagged_for_review"
	StatusArchived         ProcessingStatus = "archived"
)

var statusTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusNeedsProcessing:  {StatusProcessed, StatusFlaggedForReview},
	StatusFlaggedForReview: {StatusProcessed},
	StatusProcessed:        {StatusArchived},
	StatusArchived:         {},
}

func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ContentCategory classifies what a communication is about. Assigned by the
// extraction collaborator, refined by operators.
type ContentCategory string

const (
	CategoryBusiness     ContentCategory = "business"
	CategoryPersonal     ContentCategory = "personal"
	CategoryFinancial    ContentCategory = "financial"
	CategoryLegal        ContentCategory = "legal"
	CategoryMarketing    ContentCategory = "marketing"
	CategoryNotification ContentCategory = "notification"
	CategoryBill         ContentCategory = "bill"
	CategoryInvoice      ContentCategory = "invoice"
)

// UrgencyLevel ranks a communication for triage.
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyNormal UrgencyLevel = "normal"
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyUrgent UrgencyLevel = "urgent"
)

// PlatformMetadata is the tagged variant carrying platform-specific fields.
// Exactly one variant pointer is set for known platforms; Extra keeps unknown
// platform payloads without losing them.
type PlatformMetadata struct {
	Email *EmailMetadata    `json:"email,omitempty"`
	Chat  *ChatMetadata     `json:"chat,omitempty"`
	Mail  *MailScanMetadata `json:"mail,omitempty"`
	Extra map[string]any    `json:"extra,omitempty"`
}

// EmailMetadata carries the header fields threading and dedup care about.
type EmailMetadata struct {
	MessageID  string   `json:"message_id,omitempty"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`
	CC         []string `json:"cc,omitempty"`
}

// ChatMetadata covers the messaging platforms (imessage, whatsapp, slack,
// telegram, instagram).
type ChatMetadata struct {
	ChannelID    string `json:"channel_id,omitempty"`
	SegmentCount int    `json:"segment_count,omitempty"`
	Edited       bool   `json:"edited,omitempty"`
}

// MailScanMetadata describes a scanned physical-mail item.
type MailScanMetadata struct {
	ScanFile   string  `json:"scan_file,omitempty"`
	PageCount  int     `json:"page_count,omitempty"`
	OCRQuality float64 `json:"ocr_quality,omitempty"`
}

// Communication is one inbound or outbound message on any platform.
//
// Invariants:
//   - when PlatformMessageID is set, (Platform, PlatformMessageID) is a dedup
//     key: re-ingesting returns the existing row unchanged
//   - ThreadID is stable once assigned
type Communication struct {
	ID                domain.CommunicationID `json:"id"`
	Platform          domain.Platform        `json:"platform"`
	PlatformMessageID string                 `json:"platform_message_id,omitempty"`
	PlatformThreadID  string                 `json:"platform_thread_id,omitempty"`

	SenderIdentifier    string            `json:"sender_identifier"`
	SenderDisplayName   string            `json:"sender_display_name,omitempty"`
	RecipientIdentifier string            `json:"recipient_identifier,omitempty"`
	SenderContactID     *domain.ContactID `json:"sender_contact_id,omitempty"`
	RecipientContactID  *domain.ContactID `json:"recipient_contact_id,omitempty"`

	IsGroupConversation bool     `json:"is_group_conversation,omitempty"`
	GroupName           string   `json:"group_name,omitempty"`
	GroupParticipants   []string `json:"group_participants,omitempty"`

	SubjectLine string           `json:"subject_line,omitempty"`
	Content     string           `json:"content"`
	Metadata    PlatformMetadata `json:"metadata,omitempty"`

	Direction domain.Direction `json:"direction"`
	SentAt    time.Time        `json:"sent_at"`

	Status               ProcessingStatus `json:"processing_status"`
	Category             ContentCategory  `json:"content_category,omitempty"`
	Urgency              UrgencyLevel     `json:"urgency_level"`
	ExtractionConfidence *float64         `json:"extraction_confidence,omitempty"`
	ProcessedAt          *time.Time       `json:"processed_at,omitempty"`

	ThreadID domain.ThreadID         `json:"thread_id"`
	ReplyTo  *domain.CommunicationID `json:"reply_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	identitymodels.SoftDelete
}

// Transition validates and applies a processing status change.
func (c *Communication) Transition(next ProcessingStatus, now time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"illegal status transition "+string(c.Status)+" → "+string(next))
	}
	c.Status = next
	c.UpdatedAt = now
	if next == StatusProcessed {
		c.ProcessedAt = &now
	}
	return nil
}

// Participants returns the resolved contact ids on this communication.
// Used to scope platform-thread matching to the same conversation partners.
func (c *Communication) Participants() []domain.ContactID {
	var out []domain.ContactID
	if c.SenderContactID != nil {
		out = append(out, *c.SenderContactID)
	}
	if c.RecipientContactID != nil {
		out = append(out, *c.RecipientContactID)
	}
	return out
}

// SharesParticipant reports whether two communications have at least one
// resolved contact in common.
func (c *Communication) SharesParticipant(other *Communication) bool {
	for _, a := range c.Participants() {
		for _, b := range other.Participants() {
			if a == b {
				return true
			}
		}
	}
	return false
}

// Attachment is owned exclusively by one Communication and is deleted and
// restored in lock-step with it when the parent's policy cascades.
type Attachment struct {
	ID              domain.AttachmentID    `json:"id"`
	CommunicationID domain.CommunicationID `json:"communication_id"`
	Filename        string                 `json:"filename"`
	MediaType       string                 `json:"media_type,omitempty"`
	SizeBytes       int64                  `json:"size_bytes,omitempty"`
	StoragePath     string                 `json:"storage_path,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	identitymodels.SoftDelete
}

// NewCommunication constructs a needs_processing communication.
func NewCommunication(id domain.CommunicationID, platform domain.Platform, senderIdentifier, content string, direction domain.Direction, sentAt, now time.Time) (*Communication, error) {
	if senderIdentifier == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "sender identifier cannot be empty")
	}
	if content == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "content cannot be empty")
	}
	if sentAt.IsZero() {
		sentAt = now
	}
	return &Communication{
		ID:               id,
		Platform:         platform,
		SenderIdentifier: senderIdentifier,
		Content:          content,
		Direction:        direction,
		SentAt:           sentAt,
		Status:           StatusNeedsProcessing,
		Urgency:          UrgencyNormal,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
