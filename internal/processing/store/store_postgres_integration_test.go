//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commhub/internal/processing/models"
	"commhub/internal/processing/store"
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
	err := s.postgres.TruncateTables(ctx, "processing_log")
	s.Require().NoError(err)
}

// TestAppendAndListOrder verifies entries come back in pipeline order.
func (s *PostgresStoreSuite) TestAppendAndListOrder() {
	ctx := context.Background()
	commID := domain.NewCommunicationID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	steps := []models.Step{models.StepIngestion, models.StepIdentityResolution, models.StepThreadLinking}
	for i, step := range steps {
		e := models.NewLogEntry(commID, step, base.Add(time.Duration(i)*time.Second))
		e.Complete(base.Add(time.Duration(i)*time.Second + 100*time.Millisecond))
		s.Require().NoError(s.store.Append(ctx, e))
	}

	entries, err := s.store.ListByCommunication(ctx, commID)
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	for i, step := range steps {
		s.Equal(step, entries[i].Step)
		s.Equal(models.StepCompleted, entries[i].Status)
		s.Require().NotNil(entries[i].CompletedAt)
	}

	other, err := s.store.ListByCommunication(ctx, domain.NewCommunicationID())
	s.Require().NoError(err)
	s.Empty(other)
}

// TestUpdateInFlightEntry verifies retry bookkeeping on an open entry.
func (s *PostgresStoreSuite) TestUpdateInFlightEntry() {
	ctx := context.Background()
	commID := domain.NewCommunicationID()
	now := time.Now().UTC().Truncate(time.Microsecond)

	e := models.NewLogEntry(commID, models.StepClassification, now)
	s.Require().NoError(s.store.Append(ctx, e))

	e.RetryCount = 2
	e.Fail(now.Add(time.Second), "classifier unavailable")
	s.Require().NoError(s.store.Update(ctx, e))

	found, err := s.store.Find(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(models.StepFailed, found.Status)
	s.Equal(2, found.RetryCount)
	s.Equal("classifier unavailable", found.ErrorMessage)
	s.Require().NotNil(found.CompletedAt)
}

// TestStepMetricsRoundTrip verifies engine, confidence, and spend columns.
func (s *PostgresStoreSuite) TestStepMetricsRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	confidence := 0.91
	e := models.NewLogEntry(domain.NewCommunicationID(), models.StepClassification, now)
	e.Annotate(models.StepMetrics{Engine: "vision-v2", Confidence: &confidence, TokensUsed: 1800, CostCents: 3})
	e.DurationMs = 742
	e.Complete(now.Add(time.Second))
	s.Require().NoError(s.store.Append(ctx, e))

	found, err := s.store.Find(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal("vision-v2", found.Engine)
	s.Require().NotNil(found.Confidence)
	s.InDelta(0.91, *found.Confidence, 1e-9)
	s.Equal(int64(742), found.DurationMs)
	s.Equal(1800, found.TokensUsed)
	s.Equal(3, found.CostCents)

	// Entries without collaborator metrics keep nulls and zeros.
	plain := models.NewLogEntry(domain.NewCommunicationID(), models.StepIngestion, now)
	plain.Complete(now)
	s.Require().NoError(s.store.Append(ctx, plain))
	foundPlain, err := s.store.Find(ctx, plain.ID)
	s.Require().NoError(err)
	s.Empty(foundPlain.Engine)
	s.Nil(foundPlain.Confidence)
	s.Zero(foundPlain.TokensUsed)
}

// TestLogSurvivesCommunicationPurge verifies there is no foreign key tying the
// log to the communications table.
func (s *PostgresStoreSuite) TestLogSurvivesCommunicationPurge() {
	ctx := context.Background()
	// A communication id that never existed in the communications table.
	commID := domain.NewCommunicationID()

	e := models.NewLogEntry(commID, models.StepIngestion, time.Now().UTC())
	e.Complete(time.Now().UTC())
	s.Require().NoError(s.store.Append(ctx, e))

	entries, err := s.store.ListByCommunication(ctx, commID)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

// TestNotFoundError verifies lookups of missing entries.
func (s *PostgresStoreSuite) TestNotFoundError() {
	ctx := context.Background()

	_, err := s.store.Find(ctx, domain.NewLogEntryID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	ghost := models.NewLogEntry(domain.NewCommunicationID(), models.StepReview, time.Now().UTC())
	s.ErrorIs(s.store.Update(ctx, ghost), sentinel.ErrNotFound)
}
