// Package processing wraps pipeline stages with durable log entries so every
// communication can answer "what happened to you, and when".
package processing

import (
	"context"
	"log/slog"
	"time"

	"commhub/internal/platform/metrics"
	"commhub/internal/processing/models"
	"commhub/internal/processing/store"
	"commhub/pkg/domain"
	"commhub/pkg/requestcontext"
)

type Recorder struct {
	store   store.Store
	log     *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Recorder)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func NewRecorder(st store.Store, log *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{store: st, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one pipeline step under a log entry. The step's error is
// returned to the caller untouched; failures to write the log itself are
// logged and swallowed so bookkeeping never sinks the pipeline.
func (r *Recorder) Run(ctx context.Context, commID domain.CommunicationID, step models.Step, fn func(context.Context) error) error {
	return r.RunWithRetry(ctx, commID, step, 1, fn)
}

// RunWithRetry retries fn up to attempts times within a single log entry,
// folding repeats into the entry's retry count. A new logical attempt at the
// step later gets its own entry.
func (r *Recorder) RunWithRetry(ctx context.Context, commID domain.CommunicationID, step models.Step, attempts int, fn func(context.Context) error) error {
	return r.RunWithMetrics(ctx, commID, step, attempts, func(ctx context.Context) (models.StepMetrics, error) {
		return models.StepMetrics{}, fn(ctx)
	})
}

// RunWithMetrics is RunWithRetry for steps that can report the engine,
// confidence, and spend behind each attempt. The reported metrics land on the
// entry alongside the wall-clock duration of the whole step.
func (r *Recorder) RunWithMetrics(ctx context.Context, commID domain.CommunicationID, step models.Step, attempts int, fn func(context.Context) (models.StepMetrics, error)) error {
	entry := models.NewLogEntry(commID, step, requestcontext.Now(ctx))
	if err := r.store.Append(ctx, entry); err != nil {
		r.log.ErrorContext(ctx, "append processing log entry",
			slog.String("step", string(step)),
			slog.String("communication_id", commID.String()),
			slog.String("error", err.Error()))
		entry = nil
	}

	started := time.Now()
	var stepErr error
	for attempt := 0; attempt < attempts; attempt++ {
		var meta models.StepMetrics
		meta, stepErr = fn(ctx)
		if entry != nil {
			entry.Annotate(meta)
		}
		if stepErr == nil {
			break
		}
		if entry != nil && attempt < attempts-1 {
			entry.RetryCount++
			if err := r.store.Update(ctx, entry); err != nil {
				r.log.ErrorContext(ctx, "update processing log entry",
					slog.String("step", string(step)),
					slog.String("error", err.Error()))
			}
		}
	}

	if entry != nil {
		entry.DurationMs = time.Since(started).Milliseconds()
		now := requestcontext.Now(ctx)
		if stepErr != nil {
			entry.Fail(now, stepErr.Error())
		} else {
			entry.Complete(now)
		}
		if err := r.store.Update(ctx, entry); err != nil {
			r.log.ErrorContext(ctx, "finalize processing log entry",
				slog.String("step", string(step)),
				slog.String("error", err.Error()))
		}
	}

	if stepErr != nil {
		if r.metrics != nil {
			r.metrics.ProcessingStepsFailed.WithLabelValues(string(step)).Inc()
		}
		r.log.WarnContext(ctx, "processing step failed",
			slog.String("step", string(step)),
			slog.String("communication_id", commID.String()),
			slog.String("error", stepErr.Error()))
	}
	return stepErr
}

// History returns the full log for a communication, oldest first.
func (r *Recorder) History(ctx context.Context, commID domain.CommunicationID) ([]*models.LogEntry, error) {
	return r.store.ListByCommunication(ctx, commID)
}
