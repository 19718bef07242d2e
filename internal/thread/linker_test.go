package thread

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commhub/internal/comms/models"
	"commhub/internal/comms/store"
	"commhub/pkg/domain"
)

func newLinker(t *testing.T) (*Linker, *store.InMemory) {
	t.Helper()
	st := store.NewInMemory()
	return NewLinker(st, slog.New(slog.DiscardHandler)), st
}

func newComm(t *testing.T, platform domain.Platform, sender string) *models.Communication {
	t.Helper()
	now := time.Now()
	c, err := models.NewCommunication(domain.NewCommunicationID(), platform, sender, "hello", domain.DirectionIncoming, now, now)
	require.NoError(t, err)
	return c
}

func TestAssign_MintsFreshThread(t *testing.T) {
	linker, _ := newLinker(t)
	c := newComm(t, domain.PlatformEmail, "a@example.com")

	require.NoError(t, linker.Assign(context.Background(), c))
	assert.NotEmpty(t, c.ThreadID)

	// Assign never reassigns an existing thread.
	existing := c.ThreadID
	require.NoError(t, linker.Assign(context.Background(), c))
	assert.Equal(t, existing, c.ThreadID)
}

func TestAssign_InheritsFromReplyTarget(t *testing.T) {
	linker, st := newLinker(t)
	ctx := context.Background()

	parent := newComm(t, domain.PlatformEmail, "a@example.com")
	require.NoError(t, linker.Assign(ctx, parent))
	require.NoError(t, st.Create(ctx, parent))

	child := newComm(t, domain.PlatformEmail, "b@example.com")
	child.ReplyTo = &parent.ID
	require.NoError(t, linker.Assign(ctx, child))

	assert.Equal(t, parent.ThreadID, child.ThreadID)
}

func TestAssign_InheritsViaInReplyToHeader(t *testing.T) {
	linker, st := newLinker(t)
	ctx := context.Background()

	parent := newComm(t, domain.PlatformEmail, "a@example.com")
	parent.PlatformMessageID = "<msg-1@example.com>"
	require.NoError(t, linker.Assign(ctx, parent))
	require.NoError(t, st.Create(ctx, parent))

	child := newComm(t, domain.PlatformEmail, "b@example.com")
	child.Metadata.Email = &models.EmailMetadata{InReplyTo: "<msg-1@example.com>"}
	require.NoError(t, linker.Assign(ctx, child))

	assert.Equal(t, parent.ThreadID, child.ThreadID)
	require.NotNil(t, child.ReplyTo)
	assert.Equal(t, parent.ID, *child.ReplyTo)
}

func TestAssign_ReplyToSoftDeletedParentStillInherits(t *testing.T) {
	linker, st := newLinker(t)
	ctx := context.Background()

	parent := newComm(t, domain.PlatformEmail, "a@example.com")
	parent.PlatformMessageID = "<gone@example.com>"
	require.NoError(t, linker.Assign(ctx, parent))
	parent.MarkDeleted(time.Now(), "operator", "cleanup", "")
	require.NoError(t, st.Create(ctx, parent))

	child := newComm(t, domain.PlatformEmail, "b@example.com")
	child.Metadata.Email = &models.EmailMetadata{InReplyTo: "<gone@example.com>"}
	require.NoError(t, linker.Assign(ctx, child))

	assert.Equal(t, parent.ThreadID, child.ThreadID,
		"thread continuity survives deletion of the ancestor")
}

func TestAssign_PlatformThreadNeedsSharedParticipant(t *testing.T) {
	linker, st := newLinker(t)
	ctx := context.Background()
	alice := domain.NewContactID()
	mallory := domain.NewContactID()

	existing := newComm(t, domain.PlatformWhatsApp, "+14155550100")
	existing.PlatformThreadID = "chat-42"
	existing.SenderContactID = &alice
	require.NoError(t, linker.Assign(ctx, existing))
	require.NoError(t, st.Create(ctx, existing))

	same := newComm(t, domain.PlatformWhatsApp, "+14155550100")
	same.PlatformThreadID = "chat-42"
	same.SenderContactID = &alice
	require.NoError(t, linker.Assign(ctx, same))
	assert.Equal(t, existing.ThreadID, same.ThreadID)

	// Same channel id, no overlapping participants: new conversation.
	other := newComm(t, domain.PlatformWhatsApp, "+14155550999")
	other.PlatformThreadID = "chat-42"
	other.SenderContactID = &mallory
	require.NoError(t, linker.Assign(ctx, other))
	assert.NotEqual(t, existing.ThreadID, other.ThreadID)
}

func TestAssign_UnresolvedSenderTrustsPlatformThread(t *testing.T) {
	linker, st := newLinker(t)
	ctx := context.Background()
	alice := domain.NewContactID()

	existing := newComm(t, domain.PlatformSlack, "U123")
	existing.PlatformThreadID = "C999.167"
	existing.SenderContactID = &alice
	require.NoError(t, linker.Assign(ctx, existing))
	require.NoError(t, st.Create(ctx, existing))

	unresolved := newComm(t, domain.PlatformSlack, "U456")
	unresolved.PlatformThreadID = "C999.167"
	require.NoError(t, linker.Assign(ctx, unresolved))
	assert.Equal(t, existing.ThreadID, unresolved.ThreadID)
}

func TestMint_SortsByTime(t *testing.T) {
	linker, _ := newLinker(t)
	earlier := linker.Mint(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	later := linker.Mint(time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC))
	assert.Less(t, string(earlier), string(later))
}
