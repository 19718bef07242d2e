package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"commhub/internal/comms/models"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
	txcontext "commhub/pkg/platform/tx"

	"github.com/google/uuid"
)

// Postgres persists communications and attachments. Dedup on
// (platform, platform_message_id) is a partial unique index over non-deleted
// rows; the first committer wins and duplicates see sentinel.ErrConflict.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const commColumns = `
	id, platform, platform_message_id, platform_thread_id,
	sender_identifier, sender_display_name, recipient_identifier,
	sender_contact_id, recipient_contact_id,
	is_group_conversation, group_name, group_participants,
	subject_line, content, metadata,
	direction, sent_at,
	processing_status, content_category, urgency_level,
	extraction_confidence, processed_at,
	thread_id, reply_to,
	created_at, updated_at,
	deleted_at, deleted_by, deletion_reason, deletion_context, pending_at
`

func (s *Postgres) Create(ctx context.Context, c *models.Communication) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	participants, err := json.Marshal(c.GroupParticipants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}

	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO communications (
			id, platform, platform_message_id, platform_thread_id,
			sender_identifier, sender_display_name, recipient_identifier,
			sender_contact_id, recipient_contact_id,
			is_group_conversation, group_name, group_participants,
			subject_line, content, metadata,
			direction, sent_at,
			processing_status, content_category, urgency_level,
			extraction_confidence, processed_at,
			thread_id, reply_to,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (platform, platform_message_id) WHERE deleted_at IS NULL DO NOTHING
	`,
		uuid.UUID(c.ID), string(c.Platform), nullString(c.PlatformMessageID), c.PlatformThreadID,
		c.SenderIdentifier, c.SenderDisplayName, c.RecipientIdentifier,
		contactIDOrNil(c.SenderContactID), contactIDOrNil(c.RecipientContactID),
		c.IsGroupConversation, c.GroupName, participants,
		c.SubjectLine, c.Content, metadata,
		string(c.Direction), c.SentAt,
		string(c.Status), string(c.Category), string(c.Urgency),
		c.ExtractionConfidence, c.ProcessedAt,
		string(c.ThreadID), commIDOrNil(c.ReplyTo),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert communication: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, id domain.CommunicationID) (*models.Communication, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+commColumns+`
		FROM communications
		WHERE id = $1
	`, uuid.UUID(id))
	return scanComm(row)
}

func (s *Postgres) FindByPlatformMessageID(ctx context.Context, platform domain.Platform, messageID string, includeDeleted bool) (*models.Communication, error) {
	query := `SELECT ` + commColumns + `
		FROM communications
		WHERE platform = $1 AND platform_message_id = $2`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT 1`
	row := s.execer(ctx).QueryRowContext(ctx, query, string(platform), messageID)
	return scanComm(row)
}

func (s *Postgres) ListByPlatformThreadID(ctx context.Context, platform domain.Platform, platformThreadID string) ([]*models.Communication, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+commColumns+`
		FROM communications
		WHERE platform = $1 AND platform_thread_id = $2 AND deleted_at IS NULL
		ORDER BY sent_at DESC
	`, string(platform), platformThreadID)
	if err != nil {
		return nil, fmt.Errorf("list by platform thread: %w", err)
	}
	return collectComms(rows)
}

func (s *Postgres) ListByThread(ctx context.Context, threadID domain.ThreadID, includeDeleted bool) ([]*models.Communication, error) {
	query := `SELECT ` + commColumns + `
		FROM communications
		WHERE thread_id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL AND pending_at IS NULL`
	}
	query += ` ORDER BY sent_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(threadID))
	if err != nil {
		return nil, fmt.Errorf("list by thread: %w", err)
	}
	return collectComms(rows)
}

func (s *Postgres) List(ctx context.Context, f Filter) ([]*models.Communication, error) {
	query := `SELECT ` + commColumns + ` FROM communications WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.IncludeDeleted {
		query += ` AND deleted_at IS NULL AND pending_at IS NULL`
	}
	if f.Platform != "" {
		query += ` AND platform = ` + arg(string(f.Platform))
	}
	if f.Status != "" {
		query += ` AND processing_status = ` + arg(string(f.Status))
	}
	if f.ThreadID != "" {
		query += ` AND thread_id = ` + arg(string(f.ThreadID))
	}
	if !f.ContactID.IsNil() {
		p := arg(uuid.UUID(f.ContactID))
		query += ` AND (sender_contact_id = ` + p + ` OR recipient_contact_id = ` + p + `)`
	}
	query += ` ORDER BY sent_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list communications: %w", err)
	}
	return collectComms(rows)
}

func (s *Postgres) Update(ctx context.Context, c *models.Communication) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE communications
		SET sender_contact_id = $2, recipient_contact_id = $3,
		    processing_status = $4, content_category = $5, urgency_level = $6,
		    extraction_confidence = $7, processed_at = $8,
		    thread_id = $9, reply_to = $10, metadata = $11, updated_at = $12,
		    deleted_at = $13, deleted_by = $14, deletion_reason = $15,
		    deletion_context = $16, pending_at = $17
		WHERE id = $1
	`,
		uuid.UUID(c.ID), contactIDOrNil(c.SenderContactID), contactIDOrNil(c.RecipientContactID),
		string(c.Status), string(c.Category), string(c.Urgency),
		c.ExtractionConfidence, c.ProcessedAt,
		string(c.ThreadID), commIDOrNil(c.ReplyTo), metadata, c.UpdatedAt,
		c.DeletedAt, c.DeletedBy, c.DeletionReason, c.DeletionContext, c.PendingAt,
	)
	if err != nil {
		return fmt.Errorf("update communication: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) ListProcessedBefore(ctx context.Context, cutoff time.Time) ([]*models.Communication, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+commColumns+`
		FROM communications
		WHERE processing_status = $1 AND deleted_at IS NULL AND sent_at < $2
	`, string(models.StatusProcessed), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list processed before: %w", err)
	}
	return collectComms(rows)
}

const attachmentColumns = `
	id, communication_id, filename, media_type, size_bytes, storage_path,
	created_at,
	deleted_at, deleted_by, deletion_reason, deletion_context, pending_at
`

func (s *Postgres) CreateAttachment(ctx context.Context, a *models.Attachment) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO communication_attachments (
			id, communication_id, filename, media_type, size_bytes, storage_path, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(a.ID), uuid.UUID(a.CommunicationID), a.Filename,
		a.MediaType, a.SizeBytes, a.StoragePath, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *Postgres) FindAttachment(ctx context.Context, id domain.AttachmentID) (*models.Attachment, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+attachmentColumns+`
		FROM communication_attachments
		WHERE id = $1
	`, uuid.UUID(id))
	return scanAttachment(row)
}

func (s *Postgres) ListAttachments(ctx context.Context, commID domain.CommunicationID, includeDeleted bool) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + `
		FROM communication_attachments
		WHERE communication_id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL AND pending_at IS NULL`
	}
	query += ` ORDER BY created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(commID))
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateAttachment(ctx context.Context, a *models.Attachment) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE communication_attachments
		SET filename = $2, media_type = $3, size_bytes = $4, storage_path = $5,
		    deleted_at = $6, deleted_by = $7, deletion_reason = $8,
		    deletion_context = $9, pending_at = $10
		WHERE id = $1
	`,
		uuid.UUID(a.ID), a.Filename, a.MediaType, a.SizeBytes, a.StoragePath,
		a.DeletedAt, a.DeletedBy, a.DeletionReason, a.DeletionContext, a.PendingAt,
	)
	if err != nil {
		return fmt.Errorf("update attachment: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) PurgeCommunication(ctx context.Context, id domain.CommunicationID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM communications WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("purge communication: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) PurgeAttachment(ctx context.Context, id domain.AttachmentID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM communication_attachments WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("purge attachment: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// nullString maps "" to SQL NULL so empty platform message ids never collide
// under the partial unique index.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func contactIDOrNil(id *domain.ContactID) any {
	if id == nil {
		return nil
	}
	return uuid.UUID(*id)
}

func commIDOrNil(id *domain.CommunicationID) any {
	if id == nil {
		return nil
	}
	return uuid.UUID(*id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectComms(rows *sql.Rows) ([]*models.Communication, error) {
	defer rows.Close()
	var out []*models.Communication
	for rows.Next() {
		c, err := scanComm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanComm(row rowScanner) (*models.Communication, error) {
	var c models.Communication
	var id uuid.UUID
	var platform, direction, status, category, urgency, threadID string
	var messageID sql.NullString
	var senderContact, recipientContact, replyTo uuid.NullUUID
	var metadata, participants []byte
	err := row.Scan(
		&id, &platform, &messageID, &c.PlatformThreadID,
		&c.SenderIdentifier, &c.SenderDisplayName, &c.RecipientIdentifier,
		&senderContact, &recipientContact,
		&c.IsGroupConversation, &c.GroupName, &participants,
		&c.SubjectLine, &c.Content, &metadata,
		&direction, &c.SentAt,
		&status, &category, &urgency,
		&c.ExtractionConfidence, &c.ProcessedAt,
		&threadID, &replyTo,
		&c.CreatedAt, &c.UpdatedAt,
		&c.DeletedAt, &c.DeletedBy, &c.DeletionReason, &c.DeletionContext, &c.PendingAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan communication: %w", err)
	}
	c.ID = domain.CommunicationID(id)
	c.Platform = domain.Platform(platform)
	c.PlatformMessageID = messageID.String
	c.Direction = domain.Direction(direction)
	c.Status = models.ProcessingStatus(status)
	c.Category = models.ContentCategory(category)
	c.Urgency = models.UrgencyLevel(urgency)
	c.ThreadID = domain.ThreadID(threadID)
	if senderContact.Valid {
		cid := domain.ContactID(senderContact.UUID)
		c.SenderContactID = &cid
	}
	if recipientContact.Valid {
		cid := domain.ContactID(recipientContact.UUID)
		c.RecipientContactID = &cid
	}
	if replyTo.Valid {
		rid := domain.CommunicationID(replyTo.UUID)
		c.ReplyTo = &rid
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &c.GroupParticipants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	return &c, nil
}

func scanAttachment(row rowScanner) (*models.Attachment, error) {
	var a models.Attachment
	var id, commID uuid.UUID
	err := row.Scan(
		&id, &commID, &a.Filename, &a.MediaType, &a.SizeBytes, &a.StoragePath,
		&a.CreatedAt,
		&a.DeletedAt, &a.DeletedBy, &a.DeletionReason, &a.DeletionContext, &a.PendingAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan attachment: %w", err)
	}
	a.ID = domain.AttachmentID(id)
	a.CommunicationID = domain.CommunicationID(commID)
	return &a, nil
}
