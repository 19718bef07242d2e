//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commhub/internal/governance/models"
	"commhub/internal/governance/policy"
	"commhub/internal/governance/store"
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
	err := s.postgres.TruncateTables(ctx, "deletion_audit", "deletion_policies")
	s.Require().NoError(err)
}

// TestPolicyUpsert verifies SavePolicy inserts then overwrites by entity type.
func (s *PostgresStoreSuite) TestPolicyUpsert() {
	ctx := context.Background()

	for _, p := range policy.Defaults() {
		s.Require().NoError(s.store.SavePolicy(ctx, &p))
	}

	policies, err := s.store.ListPolicies(ctx)
	s.Require().NoError(err)
	s.Len(policies, len(policy.Defaults()))

	updated := &models.DeletionPolicy{
		EntityType:        domain.EntityContact,
		Category:          domain.CategoryBusiness,
		RetentionDays:     30,
		HardDeleteAllowed: true,
		RequiresApproval:  false,
		Description:       "shortened for test",
	}
	s.Require().NoError(s.store.SavePolicy(ctx, updated))

	found, err := s.store.FindPolicy(ctx, domain.EntityContact)
	s.Require().NoError(err)
	s.Equal(30, found.RetentionDays)
	s.True(found.HardDeleteAllowed)
	s.False(found.RequiresApproval)

	_, err = s.store.FindPolicy(ctx, domain.EntityType("unknown"))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) newAudit(entityID string, action models.AuditAction, actor string, at time.Time) *models.DeletionAudit {
	return &models.DeletionAudit{
		ID:         domain.NewAuditID(),
		EntityType: domain.EntityCommunication,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Reason:     "test",
		PolicySnapshot: models.DeletionPolicy{
			EntityType:    domain.EntityCommunication,
			Category:      domain.CategoryPersonal,
			RetentionDays: 90,
		},
		CreatedAt: at,
	}
}

// TestAuditTrailRoundTrip verifies append, snapshot round-trip, and the
// parent linkage cascades record.
func (s *PostgresStoreSuite) TestAuditTrailRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	parent := s.newAudit("comm-1", models.ActionSoftDeleted, "operator", now)
	s.Require().NoError(s.store.AppendAudit(ctx, parent))

	child := s.newAudit("att-1", models.ActionSoftDeleted, "operator", now.Add(time.Millisecond))
	child.EntityType = domain.EntityAttachment
	child.Context = "cascade:" + parent.ID.String()
	child.ParentAuditID = &parent.ID
	s.Require().NoError(s.store.AppendAudit(ctx, child))

	found, err := s.store.FindAudit(ctx, child.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.ParentAuditID)
	s.Equal(parent.ID, *found.ParentAuditID)
	s.Equal(90, found.PolicySnapshot.RetentionDays)
	s.Equal(domain.CategoryPersonal, found.PolicySnapshot.Category)

	root, err := s.store.FindAudit(ctx, parent.ID)
	s.Require().NoError(err)
	s.Nil(root.ParentAuditID)
}

// TestAuditFilters verifies the filter clauses and newest-first ordering.
func (s *PostgresStoreSuite) TestAuditFilters() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)

	s.Require().NoError(s.store.AppendAudit(ctx, s.newAudit("comm-1", models.ActionSoftDeleted, "alice", base)))
	s.Require().NoError(s.store.AppendAudit(ctx, s.newAudit("comm-1", models.ActionRestored, "bob", base.Add(time.Minute))))
	s.Require().NoError(s.store.AppendAudit(ctx, s.newAudit("comm-2", models.ActionSoftDeleted, "alice", base.Add(2*time.Minute))))

	all, err := s.store.ListAudit(ctx, store.AuditFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal("comm-2", all[0].EntityID, "newest first")

	byEntity, err := s.store.ListAudit(ctx, store.AuditFilter{
		EntityType: domain.EntityCommunication,
		EntityID:   "comm-1",
	})
	s.Require().NoError(err)
	s.Len(byEntity, 2)

	byActor, err := s.store.ListAudit(ctx, store.AuditFilter{Actor: "bob"})
	s.Require().NoError(err)
	s.Require().Len(byActor, 1)
	s.Equal(models.ActionRestored, byActor[0].Action)

	since, err := s.store.ListAudit(ctx, store.AuditFilter{Since: base.Add(30 * time.Second)})
	s.Require().NoError(err)
	s.Len(since, 2)

	limited, err := s.store.ListAudit(ctx, store.AuditFilter{Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(limited, 1)
	s.Equal("comm-2", limited[0].EntityID)
}

// TestFindAuditNotFound verifies lookup of a missing audit row.
func (s *PostgresStoreSuite) TestFindAuditNotFound() {
	ctx := context.Background()

	_, err := s.store.FindAudit(ctx, domain.NewAuditID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
