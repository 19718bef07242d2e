package models

import (
	"time"

	"commhub/pkg/domain"
)

// Step names a pipeline stage. Entries are recorded per communication per
// stage attempt.
type Step string

const (
	StepIngestion          Step = "ingestion"
	StepIdentityResolution Step = "identity_resolution"
	StepThreadLinking      Step = "thread_linking"
	StepClassification     Step = "classification"
	StepReview             Step = "review"
	StepArchival           Step = "archival"
)

type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// LogEntry is one attempt at one pipeline step. The log is append-only:
// entries are never edited after completion and never soft-deleted.
// Re-running a failed step inside the same attempt bumps RetryCount; a fresh
// logical attempt gets its own entry.
//
// Engine, Confidence, TokensUsed, and CostCents come from the step itself
// when a collaborator did the work; DurationMs is measured by the recorder.
type LogEntry struct {
	ID              domain.LogEntryID      `json:"id"`
	CommunicationID domain.CommunicationID `json:"communication_id"`
	Step            Step                   `json:"step"`
	Status          StepStatus             `json:"status"`
	Engine          string                 `json:"engine,omitempty"`
	Confidence      *float64               `json:"confidence,omitempty"`
	DurationMs      int64                  `json:"duration_ms"`
	TokensUsed      int                    `json:"tokens_used,omitempty"`
	CostCents       int                    `json:"cost_cents,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	RetryCount      int                    `json:"retry_count"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

// StepMetrics is what a step reports about one attempt. Tokens and cost
// accumulate across retries within the entry; engine and confidence keep the
// latest attempt's values.
type StepMetrics struct {
	Engine     string
	Confidence *float64
	TokensUsed int
	CostCents  int
}

func (e *LogEntry) Annotate(m StepMetrics) {
	if m.Engine != "" {
		e.Engine = m.Engine
	}
	if m.Confidence != nil {
		e.Confidence = m.Confidence
	}
	e.TokensUsed += m.TokensUsed
	e.CostCents += m.CostCents
}

func NewLogEntry(commID domain.CommunicationID, step Step, now time.Time) *LogEntry {
	return &LogEntry{
		ID:              domain.NewLogEntryID(),
		CommunicationID: commID,
		Step:            step,
		Status:          StepStarted,
		StartedAt:       now,
	}
}

func (e *LogEntry) Complete(now time.Time) {
	e.Status = StepCompleted
	e.CompletedAt = &now
}

func (e *LogEntry) Fail(now time.Time, msg string) {
	e.Status = StepFailed
	e.ErrorMessage = msg
	e.CompletedAt = &now
}
