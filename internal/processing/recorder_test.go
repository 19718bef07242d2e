package processing

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commhub/internal/processing/models"
	"commhub/internal/processing/store"
	"commhub/pkg/domain"
	"commhub/pkg/requestcontext"
)

func newRecorder(t *testing.T) (*Recorder, *store.InMemory) {
	t.Helper()
	st := store.NewInMemory()
	return NewRecorder(st, slog.New(slog.DiscardHandler)), st
}

func TestRun_RecordsCompletedStep(t *testing.T) {
	rec, _ := newRecorder(t)
	commID := domain.NewCommunicationID()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	err := rec.Run(ctx, commID, models.StepClassification, func(context.Context) error { return nil })
	require.NoError(t, err)

	history, err := rec.History(ctx, commID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StepClassification, history[0].Step)
	assert.Equal(t, models.StepCompleted, history[0].Status)
	assert.Equal(t, 0, history[0].RetryCount)
	require.NotNil(t, history[0].CompletedAt)
	assert.Equal(t, now, *history[0].CompletedAt)
}

func TestRun_RecordsFailureAndReturnsStepError(t *testing.T) {
	rec, _ := newRecorder(t)
	commID := domain.NewCommunicationID()
	ctx := context.Background()
	boom := errors.New("parser choked")

	err := rec.Run(ctx, commID, models.StepIngestion, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	history, err := rec.History(ctx, commID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StepFailed, history[0].Status)
	assert.Equal(t, "parser choked", history[0].ErrorMessage)
}

func TestRunWithRetry_FoldsRetriesIntoOneEntry(t *testing.T) {
	rec, _ := newRecorder(t)
	commID := domain.NewCommunicationID()
	ctx := context.Background()

	calls := 0
	err := rec.RunWithRetry(ctx, commID, models.StepClassification, 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	history, err := rec.History(ctx, commID)
	require.NoError(t, err)
	require.Len(t, history, 1, "retries share one entry")
	assert.Equal(t, models.StepCompleted, history[0].Status)
	assert.Equal(t, 2, history[0].RetryCount)
}

func TestRunWithMetrics_RecordsEngineConfidenceAndSpend(t *testing.T) {
	rec, _ := newRecorder(t)
	commID := domain.NewCommunicationID()
	ctx := context.Background()

	confidence := 0.93
	calls := 0
	err := rec.RunWithMetrics(ctx, commID, models.StepClassification, 3, func(context.Context) (models.StepMetrics, error) {
		calls++
		if calls == 1 {
			// A failed attempt still burned tokens.
			return models.StepMetrics{Engine: "vision-v1", TokensUsed: 400, CostCents: 2}, errors.New("transient")
		}
		return models.StepMetrics{Engine: "vision-v2", Confidence: &confidence, TokensUsed: 1100, CostCents: 5}, nil
	})
	require.NoError(t, err)

	history, err := rec.History(ctx, commID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	entry := history[0]
	assert.Equal(t, "vision-v2", entry.Engine, "the winning attempt names the engine")
	require.NotNil(t, entry.Confidence)
	assert.Equal(t, 0.93, *entry.Confidence)
	assert.Equal(t, 1500, entry.TokensUsed, "spend accumulates across retries")
	assert.Equal(t, 7, entry.CostCents)
	assert.GreaterOrEqual(t, entry.DurationMs, int64(0))
	assert.Equal(t, 1, entry.RetryCount)
}

func TestRun_NewLogicalAttemptAppends(t *testing.T) {
	rec, _ := newRecorder(t)
	commID := domain.NewCommunicationID()
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	ctx := requestcontext.WithTime(context.Background(), base)
	_ = rec.Run(ctx, commID, models.StepClassification, func(context.Context) error { return errors.New("nope") })

	later := requestcontext.WithTime(context.Background(), base.Add(time.Hour))
	require.NoError(t, rec.Run(later, commID, models.StepClassification, func(context.Context) error { return nil }))

	history, err := rec.History(ctx, commID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.StepFailed, history[0].Status)
	assert.Equal(t, models.StepCompleted, history[1].Status)
}
