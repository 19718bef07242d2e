package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	governancemodels "commhub/internal/governance/models"
	"commhub/internal/identity/store"
	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
)

func newService(t *testing.T, opts ...Option) (*Service, *store.InMemory) {
	t.Helper()
	st := store.NewInMemory()
	return New(st, slog.New(slog.DiscardHandler), opts...), st
}

func TestResolve_CreatesContactOnFirstSighting(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, domain.PlatformEmail, "jane.doe@vendor.com", "")
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "Jane", res.Contact.FirstName)
	assert.Equal(t, "Doe", res.Contact.LastName)
	assert.Equal(t, "auto:email", res.Contact.Source)
	assert.Equal(t, res.Contact.ID, res.Identity.ContactID)
}

func TestResolve_ReturnsExistingContact(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, domain.PlatformEmail, "new@vendor.com", "")
	require.NoError(t, err)

	second, err := svc.Resolve(ctx, domain.PlatformEmail, "New@Vendor.com", "New Vendor")
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Contact.ID, second.Contact.ID)
}

func TestResolve_DistinctPlatformsDistinctContacts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	emailRes, err := svc.Resolve(ctx, domain.PlatformEmail, "someone@vendor.com", "")
	require.NoError(t, err)
	smsRes, err := svc.Resolve(ctx, domain.PlatformSMS, "+14155550142", "")
	require.NoError(t, err)

	// No fuzzy auto-linking: different platforms mean different contacts
	// until an operator merges them.
	assert.NotEqual(t, emailRes.Contact.ID, smsRes.Contact.ID)
}

func TestResolve_InvalidIdentifier(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Resolve(context.Background(), domain.PlatformEmail, "not an address", "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidIdentifier))
}

// TestResolve_ConcurrentDeterminism exercises the resolution determinism
// property: N concurrent resolutions of a brand-new identifier yield exactly
// one contact, and every caller sees the same contact id.
func TestResolve_ConcurrentDeterminism(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	const callers = 24
	results := make([]domain.ContactID, callers)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			res, err := svc.Resolve(ctx, domain.PlatformWhatsApp, "+447700900123", "")
			if err != nil {
				return err
			}
			results[i] = res.Contact.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0], results[i], "caller %d saw a different contact", i)
	}

	contacts, err := svc.ListContacts(ctx, true)
	require.NoError(t, err)
	assert.Len(t, contacts, 1, "exactly one contact should exist")
}

type fakeDeleter struct {
	calls []string
}

func (f *fakeDeleter) Delete(_ context.Context, entityType domain.EntityType, entityID, actor, reason string) (governancemodels.ActionResult, error) {
	f.calls = append(f.calls, string(entityType)+":"+entityID)
	return governancemodels.ActionResult{AuditID: domain.NewAuditID(), Status: governancemodels.StatusPendingApproval}, nil
}

func TestMerge_ReassignsAndDeletesLoser(t *testing.T) {
	deleter := &fakeDeleter{}
	svc, _ := newService(t, WithDeleter(deleter))
	ctx := context.Background()

	winner, err := svc.Resolve(ctx, domain.PlatformEmail, "jane@vendor.com", "Jane Doe")
	require.NoError(t, err)
	loser, err := svc.Resolve(ctx, domain.PlatformWhatsApp, "+14155550199", "")
	require.NoError(t, err)

	result, err := svc.Merge(ctx, winner.Contact.ID, loser.Contact.ID, "ops@example.com", "same person")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Reassigned)
	assert.False(t, result.AuditID.IsNil())
	require.Len(t, deleter.calls, 1)
	assert.Equal(t, "contact:"+loser.Contact.ID.String(), deleter.calls[0])

	identities, err := svc.Identities(ctx, winner.Contact.ID)
	require.NoError(t, err)
	assert.Len(t, identities, 2)
}

func TestMerge_Rejections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, domain.PlatformEmail, "solo@vendor.com", "")
	require.NoError(t, err)

	t.Run("self merge", func(t *testing.T) {
		_, err := svc.Merge(ctx, res.Contact.ID, res.Contact.ID, "ops", "dup")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("missing actor", func(t *testing.T) {
		_, err := svc.Merge(ctx, res.Contact.ID, domain.NewContactID(), "", "dup")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("unknown loser", func(t *testing.T) {
		_, err := svc.Merge(ctx, res.Contact.ID, domain.NewContactID(), "ops", "dup")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
