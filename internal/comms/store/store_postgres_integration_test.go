//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"commhub/internal/comms/models"
	"commhub/internal/comms/store"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
	"commhub/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "communication_attachments", "communications")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newCommunication(messageID string) *models.Communication {
	now := time.Now().UTC().Truncate(time.Microsecond)
	c, err := models.NewCommunication(domain.NewCommunicationID(), domain.PlatformEmail,
		"sender@example.com", "hello", domain.DirectionIncoming, now, now)
	s.Require().NoError(err)
	c.PlatformMessageID = messageID
	c.ThreadID = domain.ThreadID("01J" + uuid.NewString()[:10])
	return c
}

// TestConcurrentDuplicateIngest verifies that concurrent inserts of the same
// (platform, platform_message_id) pair result in exactly one row.
func (s *PostgresStoreSuite) TestConcurrentDuplicateIngest() {
	ctx := context.Background()
	messageID := "<race-" + uuid.NewString() + "@mail.example.com>"
	const goroutines = 50

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			c := s.newCommunication(messageID)
			err := s.store.Create(ctx, c)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one insert should win")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should observe the conflict")

	found, err := s.store.FindByPlatformMessageID(ctx, domain.PlatformEmail, messageID, false)
	s.Require().NoError(err)
	s.Equal(messageID, found.PlatformMessageID)
}

// TestEmptyMessageIDsDoNotCollide verifies that communications without a
// platform message id never trip the dedup constraint.
func (s *PostgresStoreSuite) TestEmptyMessageIDsDoNotCollide() {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := s.newCommunication("")
		s.Require().NoError(s.store.Create(ctx, c))
	}

	list, err := s.store.List(ctx, store.Filter{Platform: domain.PlatformEmail})
	s.Require().NoError(err)
	s.Len(list, 3)
}

// TestSoftDeletedRowFreesDedupKey verifies that a soft-deleted communication
// no longer blocks re-ingestion of its message id, while the deleted row stays
// reachable for thread inheritance.
func (s *PostgresStoreSuite) TestSoftDeletedRowFreesDedupKey() {
	ctx := context.Background()
	messageID := "<freed-" + uuid.NewString() + "@mail.example.com>"

	original := s.newCommunication(messageID)
	s.Require().NoError(s.store.Create(ctx, original))

	original.MarkDeleted(time.Now().UTC(), "operator", "cleanup", "")
	s.Require().NoError(s.store.Update(ctx, original))

	_, err := s.store.FindByPlatformMessageID(ctx, domain.PlatformEmail, messageID, false)
	s.ErrorIs(err, sentinel.ErrNotFound)

	deleted, err := s.store.FindByPlatformMessageID(ctx, domain.PlatformEmail, messageID, true)
	s.Require().NoError(err)
	s.Equal(original.ID, deleted.ID)

	replacement := s.newCommunication(messageID)
	s.Require().NoError(s.store.Create(ctx, replacement))
}

// TestThreadListingOrder verifies thread listings come back oldest first and
// respect the include-deleted flag.
func (s *PostgresStoreSuite) TestThreadListingOrder() {
	ctx := context.Background()
	threadID := domain.ThreadID("01J" + uuid.NewString()[:10])
	base := time.Now().UTC().Truncate(time.Microsecond)

	var comms []*models.Communication
	for i := 0; i < 3; i++ {
		c := s.newCommunication("<thread-" + uuid.NewString() + "@mail.example.com>")
		c.ThreadID = threadID
		c.SentAt = base.Add(time.Duration(i) * time.Minute)
		s.Require().NoError(s.store.Create(ctx, c))
		comms = append(comms, c)
	}

	comms[1].MarkDeleted(time.Now().UTC(), "operator", "cleanup", "")
	s.Require().NoError(s.store.Update(ctx, comms[1]))

	active, err := s.store.ListByThread(ctx, threadID, false)
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.Equal(comms[0].ID, active[0].ID)
	s.Equal(comms[2].ID, active[1].ID)

	all, err := s.store.ListByThread(ctx, threadID, true)
	s.Require().NoError(err)
	s.Len(all, 3)
}

// TestListFilters verifies the dynamic filter clauses compose.
func (s *PostgresStoreSuite) TestListFilters() {
	ctx := context.Background()
	contactID := domain.NewContactID()

	withContact := s.newCommunication("<filter-a-" + uuid.NewString() + "@mail.example.com>")
	withContact.SenderContactID = &contactID
	s.Require().NoError(s.store.Create(ctx, withContact))

	other := s.newCommunication("<filter-b-" + uuid.NewString() + "@mail.example.com>")
	s.Require().NoError(s.store.Create(ctx, other))

	// Contact filter matches sender or recipient.
	byContact, err := s.store.List(ctx, store.Filter{ContactID: contactID})
	s.Require().NoError(err)
	s.Require().Len(byContact, 1)
	s.Equal(withContact.ID, byContact[0].ID)

	byStatus, err := s.store.List(ctx, store.Filter{Status: models.StatusNeedsProcessing})
	s.Require().NoError(err)
	s.Len(byStatus, 2)

	limited, err := s.store.List(ctx, store.Filter{Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)
}

// TestListExcludesPendingDeletion verifies rows parked pending approval hide
// with the deleted ones until include_deleted asks for them.
func (s *PostgresStoreSuite) TestListExcludesPendingDeletion() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	active := s.newCommunication("<vis-a-" + uuid.NewString() + "@mail.example.com>")
	s.Require().NoError(s.store.Create(ctx, active))

	pending := s.newCommunication("<vis-b-" + uuid.NewString() + "@mail.example.com>")
	s.Require().NoError(s.store.Create(ctx, pending))
	pending.MarkPending(now, "operator@ops", "awaiting approval")
	s.Require().NoError(s.store.Update(ctx, pending))

	visible, err := s.store.List(ctx, store.Filter{})
	s.Require().NoError(err)
	s.Require().Len(visible, 1)
	s.Equal(active.ID, visible[0].ID)

	all, err := s.store.List(ctx, store.Filter{IncludeDeleted: true})
	s.Require().NoError(err)
	s.Len(all, 2)

	inThread, err := s.store.ListByThread(ctx, pending.ThreadID, false)
	s.Require().NoError(err)
	s.Empty(inThread, "pending rows hide from thread views too")
}

// TestMetadataRoundTrip verifies the JSONB columns survive a write and read.
func (s *PostgresStoreSuite) TestMetadataRoundTrip() {
	ctx := context.Background()

	c := s.newCommunication("<meta-" + uuid.NewString() + "@mail.example.com>")
	c.SubjectLine = "Quarterly invoice"
	c.Metadata = models.PlatformMetadata{
		Email: &models.EmailMetadata{
			MessageID: c.PlatformMessageID,
			InReplyTo: "<parent@mail.example.com>",
			CC:        []string{"cc@example.com"},
		},
	}
	c.IsGroupConversation = true
	c.GroupName = "vendors"
	c.GroupParticipants = []string{"sender@example.com", "cc@example.com"}
	s.Require().NoError(s.store.Create(ctx, c))

	found, err := s.store.Find(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.Metadata.Email)
	s.Equal("<parent@mail.example.com>", found.Metadata.Email.InReplyTo)
	s.Equal([]string{"cc@example.com"}, found.Metadata.Email.CC)
	s.Equal([]string{"sender@example.com", "cc@example.com"}, found.GroupParticipants)
	s.True(found.IsGroupConversation)
}

// TestListProcessedBefore verifies the archival sweep query.
func (s *PostgresStoreSuite) TestListProcessedBefore() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	old := s.newCommunication("<old-" + uuid.NewString() + "@mail.example.com>")
	old.SentAt = now.AddDate(0, 0, -200)
	s.Require().NoError(old.Transition(models.StatusProcessed, now))
	s.Require().NoError(s.store.Create(ctx, old))

	recent := s.newCommunication("<recent-" + uuid.NewString() + "@mail.example.com>")
	s.Require().NoError(recent.Transition(models.StatusProcessed, now))
	s.Require().NoError(s.store.Create(ctx, recent))

	unprocessed := s.newCommunication("<pending-" + uuid.NewString() + "@mail.example.com>")
	unprocessed.SentAt = now.AddDate(0, 0, -200)
	s.Require().NoError(s.store.Create(ctx, unprocessed))

	due, err := s.store.ListProcessedBefore(ctx, now.AddDate(0, 0, -180))
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(old.ID, due[0].ID)
}

// TestAttachmentLifecycle verifies attachment persistence and the
// include-deleted listing governance cascades rely on.
func (s *PostgresStoreSuite) TestAttachmentLifecycle() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	c := s.newCommunication("<attach-" + uuid.NewString() + "@mail.example.com>")
	s.Require().NoError(s.store.Create(ctx, c))

	a := &models.Attachment{
		ID:              domain.NewAttachmentID(),
		CommunicationID: c.ID,
		Filename:        "invoice.pdf",
		MediaType:       "application/pdf",
		SizeBytes:       43212,
		StoragePath:     "attachments/invoice.pdf",
		CreatedAt:       now,
	}
	s.Require().NoError(s.store.CreateAttachment(ctx, a))

	a.MarkDeleted(now, "operator", "cascade", "cascade:"+uuid.NewString())
	s.Require().NoError(s.store.UpdateAttachment(ctx, a))

	active, err := s.store.ListAttachments(ctx, c.ID, false)
	s.Require().NoError(err)
	s.Empty(active)

	all, err := s.store.ListAttachments(ctx, c.ID, true)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal("invoice.pdf", all[0].Filename)
	s.True(all[0].IsDeleted())

	s.Require().NoError(s.store.PurgeAttachment(ctx, a.ID))
	_, err = s.store.FindAttachment(ctx, a.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestNotFoundError verifies error handling for missing rows.
func (s *PostgresStoreSuite) TestNotFoundError() {
	ctx := context.Background()

	_, err := s.store.Find(ctx, domain.NewCommunicationID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByPlatformMessageID(ctx, domain.PlatformEmail, "<ghost@mail.example.com>", false)
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.PurgeCommunication(ctx, domain.NewCommunicationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
