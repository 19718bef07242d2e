package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commhub/internal/identity/models"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
	txcontext "commhub/pkg/platform/tx"

	"github.com/google/uuid"
)

// Postgres persists contacts and identities. The
// (platform, platform_identifier) uniqueness invariant is enforced by a
// partial unique index over non-deleted rows, so first committer wins and
// losers observe sentinel.ErrConflict.
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

func (s *Postgres) CreateContactWithIdentity(ctx context.Context, contact *models.Contact, identity *models.ContactIdentity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create contact tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contacts (id, first_name, last_name, title, company, notes, source, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		uuid.UUID(contact.ID), contact.FirstName, contact.LastName, contact.Title,
		contact.Company, contact.Notes, contact.Source, string(contact.Status),
		contact.CreatedAt, contact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO contact_identities (
			id, contact_id, platform, platform_identifier, platform_display_name,
			verification_status, is_primary_for_platform, last_seen_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (platform, platform_identifier) WHERE deleted_at IS NULL DO NOTHING
	`,
		uuid.UUID(identity.ID), uuid.UUID(identity.ContactID), string(identity.Platform),
		identity.PlatformIdentifier, identity.PlatformDisplayName,
		string(identity.VerificationStatus), identity.IsPrimaryForPlatform,
		identity.LastSeenAt, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contact identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the race: abort so the half-created contact never lands.
		return sentinel.ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create contact tx: %w", err)
	}
	return nil
}

const identityColumns = `
	id, contact_id, platform, platform_identifier, platform_display_name,
	verification_status, is_primary_for_platform, last_seen_at, created_at,
	deleted_at, deleted_by, deletion_reason, deletion_context, pending_at
`

func (s *Postgres) FindIdentity(ctx context.Context, platform domain.Platform, identifier string) (*models.ContactIdentity, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+identityColumns+`
		FROM contact_identities
		WHERE platform = $1 AND platform_identifier = $2 AND deleted_at IS NULL
	`, string(platform), identifier)
	return scanIdentity(row)
}

func (s *Postgres) FindIdentityByID(ctx context.Context, id domain.IdentityID) (*models.ContactIdentity, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+identityColumns+`
		FROM contact_identities
		WHERE id = $1
	`, uuid.UUID(id))
	return scanIdentity(row)
}

const contactColumns = `
	id, first_name, last_name, title, company, notes, source, status,
	created_at, updated_at,
	deleted_at, deleted_by, deletion_reason, deletion_context, pending_at
`

func (s *Postgres) FindContact(ctx context.Context, id domain.ContactID) (*models.Contact, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE id = $1
	`, uuid.UUID(id))
	return scanContact(row)
}

func (s *Postgres) ListContacts(ctx context.Context, includeDeleted bool) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL AND pending_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []*models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, contact)
	}
	return out, rows.Err()
}

func (s *Postgres) ListIdentitiesByContact(ctx context.Context, contactID domain.ContactID) ([]*models.ContactIdentity, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+identityColumns+`
		FROM contact_identities
		WHERE contact_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`, uuid.UUID(contactID))
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []*models.ContactIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

func (s *Postgres) TouchIdentity(ctx context.Context, id domain.IdentityID, seenAt time.Time, displayName string) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE contact_identities
		SET last_seen_at = $2,
		    platform_display_name = CASE WHEN $3 = '' THEN platform_display_name ELSE $3 END
		WHERE id = $1
	`, uuid.UUID(id), seenAt, displayName)
	if err != nil {
		return fmt.Errorf("touch identity: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) ReassignIdentities(ctx context.Context, from, to domain.ContactID) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE contact_identities
		SET contact_id = $2
		WHERE contact_id = $1 AND deleted_at IS NULL
	`, uuid.UUID(from), uuid.UUID(to))
	if err != nil {
		return 0, fmt.Errorf("reassign identities: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *Postgres) UpdateContact(ctx context.Context, contact *models.Contact) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE contacts
		SET first_name = $2, last_name = $3, title = $4, company = $5,
		    notes = $6, source = $7, status = $8, updated_at = $9,
		    deleted_at = $10, deleted_by = $11, deletion_reason = $12,
		    deletion_context = $13, pending_at = $14
		WHERE id = $1
	`,
		uuid.UUID(contact.ID), contact.FirstName, contact.LastName, contact.Title,
		contact.Company, contact.Notes, contact.Source, string(contact.Status),
		contact.UpdatedAt, contact.DeletedAt, contact.DeletedBy,
		contact.DeletionReason, contact.DeletionContext, contact.PendingAt,
	)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) UpdateIdentity(ctx context.Context, identity *models.ContactIdentity) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE contact_identities
		SET contact_id = $2, platform_display_name = $3, verification_status = $4,
		    is_primary_for_platform = $5, last_seen_at = $6,
		    deleted_at = $7, deleted_by = $8, deletion_reason = $9,
		    deletion_context = $10, pending_at = $11
		WHERE id = $1
	`,
		uuid.UUID(identity.ID), uuid.UUID(identity.ContactID), identity.PlatformDisplayName,
		string(identity.VerificationStatus), identity.IsPrimaryForPlatform, identity.LastSeenAt,
		identity.DeletedAt, identity.DeletedBy, identity.DeletionReason,
		identity.DeletionContext, identity.PendingAt,
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) PurgeContact(ctx context.Context, id domain.ContactID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("purge contact: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) PurgeIdentity(ctx context.Context, id domain.IdentityID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM contact_identities WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("purge identity: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var c models.Contact
	var id uuid.UUID
	var status string
	err := row.Scan(
		&id, &c.FirstName, &c.LastName, &c.Title, &c.Company, &c.Notes,
		&c.Source, &status, &c.CreatedAt, &c.UpdatedAt,
		&c.DeletedAt, &c.DeletedBy, &c.DeletionReason, &c.DeletionContext, &c.PendingAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	c.ID = domain.ContactID(id)
	c.Status = models.ContactStatus(status)
	return &c, nil
}

func scanIdentity(row rowScanner) (*models.ContactIdentity, error) {
	var i models.ContactIdentity
	var id, contactID uuid.UUID
	var platform, verification string
	err := row.Scan(
		&id, &contactID, &platform, &i.PlatformIdentifier, &i.PlatformDisplayName,
		&verification, &i.IsPrimaryForPlatform, &i.LastSeenAt, &i.CreatedAt,
		&i.DeletedAt, &i.DeletedBy, &i.DeletionReason, &i.DeletionContext, &i.PendingAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	i.ID = domain.IdentityID(id)
	i.ContactID = domain.ContactID(contactID)
	i.Platform = domain.Platform(platform)
	i.VerificationStatus = models.VerificationStatus(verification)
	return &i, nil
}
