// Package service implements communication ingestion and the processing
// pipeline that follows it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"commhub/internal/comms/models"
	"commhub/internal/comms/store"
	"commhub/internal/extraction"
	"commhub/internal/platform/metrics"
	redisplatform "commhub/internal/platform/redis"
	"commhub/internal/processing"
	processingmodels "commhub/internal/processing/models"
	"commhub/internal/thread"
	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
	"commhub/pkg/platform/sentinel"
	"commhub/pkg/requestcontext"
)

// dedupTTL bounds the redis fast path. The store's unique index is the
// source of truth; the cache only saves a round trip for recent repeats.
const dedupTTL = 48 * time.Hour

// Resolver is the slice of the identity service ingestion needs.
type Resolver interface {
	Resolve(ctx context.Context, platform domain.Platform, identifier, displayName string) (ResolvedParty, error)
}

// ResolvedParty is what ingestion keeps from an identity resolution.
type ResolvedParty struct {
	ContactID domain.ContactID
	Created   bool
}

type Service struct {
	store      store.Store
	resolver   Resolver
	linker     *thread.Linker
	recorder   *processing.Recorder
	classifier extraction.Classifier
	cache      *redisplatform.Client
	log        *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	// classifications below this confidence go to review instead of
	// being applied automatically
	confidenceThreshold float64
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClassifier(c extraction.Classifier) Option {
	return func(s *Service) { s.classifier = c }
}

func WithCache(c *redisplatform.Client) Option {
	return func(s *Service) { s.cache = c }
}

func WithConfidenceThreshold(threshold float64) Option {
	return func(s *Service) { s.confidenceThreshold = threshold }
}

func New(st store.Store, resolver Resolver, linker *thread.Linker, recorder *processing.Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:               st,
		resolver:            resolver,
		linker:              linker,
		recorder:            recorder,
		log:                 logger,
		tracer:              otel.Tracer("commhub/comms"),
		confidenceThreshold: 0.75,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestRequest is one inbound or outbound message from a platform adapter.
type IngestRequest struct {
	Platform            domain.Platform
	PlatformMessageID   string
	PlatformThreadID    string
	SenderIdentifier    string
	SenderDisplayName   string
	RecipientIdentifier string
	IsGroupConversation bool
	GroupName           string
	GroupParticipants   []string
	SubjectLine         string
	Content             string
	Metadata            models.PlatformMetadata
	Direction           domain.Direction
	SentAt              time.Time
	ReplyTo             *domain.CommunicationID
	Attachments         []AttachmentInput
}

type AttachmentInput struct {
	Filename    string
	MediaType   string
	SizeBytes   int64
	StoragePath string
}

// IngestResult reports what Ingest did. Created is false when the message
// was already known and the existing row came back unchanged.
type IngestResult struct {
	Communication *models.Communication
	Attachments   []*models.Attachment
	Created       bool
}

// Ingest stores a communication, resolving its parties and linking its
// thread on the way in. Re-ingesting a message the store already holds is
// a no-op returning the existing row.
//
// A failing pipeline step flags the communication for review; it never
// rejects the ingestion itself.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "comms.Ingest",
		trace.WithAttributes(attribute.String("platform", string(req.Platform))))
	defer span.End()

	if existing, ok := s.dedupFastPath(ctx, req); ok {
		return existing, nil
	}

	now := requestcontext.Now(ctx)
	comm, err := models.NewCommunication(domain.NewCommunicationID(), req.Platform, req.SenderIdentifier, req.Content, req.Direction, req.SentAt, now)
	if err != nil {
		return nil, err
	}
	comm.PlatformMessageID = req.PlatformMessageID
	comm.PlatformThreadID = req.PlatformThreadID
	comm.SenderDisplayName = req.SenderDisplayName
	comm.RecipientIdentifier = req.RecipientIdentifier
	comm.IsGroupConversation = req.IsGroupConversation
	comm.GroupName = req.GroupName
	comm.GroupParticipants = req.GroupParticipants
	comm.SubjectLine = req.SubjectLine
	comm.Metadata = req.Metadata
	comm.ReplyTo = req.ReplyTo

	flagged := false
	resolveErr := s.recorder.Run(ctx, comm.ID, processingmodels.StepIdentityResolution, func(ctx context.Context) error {
		return s.resolveParties(ctx, comm)
	})
	if resolveErr != nil {
		flagged = true
	}

	linkErr := s.recorder.Run(ctx, comm.ID, processingmodels.StepThreadLinking, func(ctx context.Context) error {
		return s.linker.Assign(ctx, comm)
	})
	if linkErr != nil {
		// A communication without a thread is unreachable from the
		// conversation views; fall back to a fresh thread and flag it.
		comm.ThreadID = s.linker.Mint(now)
		flagged = true
	}

	if flagged {
		if err := comm.Transition(models.StatusFlaggedForReview, now); err != nil {
			return nil, err
		}
	}

	var created bool
	ingestErr := s.recorder.Run(ctx, comm.ID, processingmodels.StepIngestion, func(ctx context.Context) error {
		err := s.store.Create(ctx, comm)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		created = err == nil
		return err
	})
	if ingestErr != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "store communication", ingestErr)
	}
	if !created {
		// Lost to an earlier ingestion of the same platform message.
		if s.metrics != nil {
			s.metrics.IngestDuplicates.Inc()
		}
		existing, err := s.store.FindByPlatformMessageID(ctx, req.Platform, req.PlatformMessageID, false)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "load duplicate communication", err)
		}
		attachments, err := s.store.ListAttachments(ctx, existing.ID, false)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "load duplicate attachments", err)
		}
		return &IngestResult{Communication: existing, Attachments: attachments, Created: false}, nil
	}

	attachments, err := s.createAttachments(ctx, comm.ID, req.Attachments, now)
	if err != nil {
		return nil, err
	}

	s.rememberDedupKey(ctx, req.Platform, req.PlatformMessageID, comm.ID)
	if s.metrics != nil {
		s.metrics.CommunicationsIngested.WithLabelValues(string(req.Platform)).Inc()
	}
	s.log.InfoContext(ctx, "communication ingested",
		slog.String("communication_id", comm.ID.String()),
		slog.String("platform", string(req.Platform)),
		slog.String("thread_id", comm.ThreadID.String()),
		slog.Bool("flagged", flagged))

	span.SetAttributes(attribute.String("communication_id", comm.ID.String()))
	return &IngestResult{Communication: comm, Attachments: attachments, Created: true}, nil
}

// dedupFastPath consults the cache before touching the store. Cache misses
// and cache errors both fall through; the store's unique index catches what
// the cache does not.
func (s *Service) dedupFastPath(ctx context.Context, req IngestRequest) (*IngestResult, bool) {
	if s.cache == nil || req.PlatformMessageID == "" {
		return nil, false
	}
	val, err := s.cache.Get(ctx, dedupCacheKey(req.Platform, req.PlatformMessageID)).Result()
	if err != nil || val == "" {
		return nil, false
	}
	id, err := domain.ParseCommunicationID(val)
	if err != nil {
		return nil, false
	}
	existing, err := s.store.Find(ctx, id)
	if err != nil || existing.IsDeleted() {
		return nil, false
	}
	attachments, err := s.store.ListAttachments(ctx, existing.ID, false)
	if err != nil {
		return nil, false
	}
	if s.metrics != nil {
		s.metrics.DedupCacheHits.Inc()
		s.metrics.IngestDuplicates.Inc()
	}
	return &IngestResult{Communication: existing, Attachments: attachments, Created: false}, true
}

func (s *Service) rememberDedupKey(ctx context.Context, platform domain.Platform, messageID string, id domain.CommunicationID) {
	if s.cache == nil || messageID == "" {
		return
	}
	if err := s.cache.Set(ctx, dedupCacheKey(platform, messageID), id.String(), dedupTTL).Err(); err != nil {
		s.log.WarnContext(ctx, "dedup cache write failed", slog.String("error", err.Error()))
	}
}

func dedupCacheKey(platform domain.Platform, messageID string) string {
	return fmt.Sprintf("commhub:dedup:%s:%s", platform, messageID)
}

// resolveParties attaches contact ids for sender and recipient. An invalid
// identifier leaves the party unresolved without failing the step; operators
// resolve those by hand.
func (s *Service) resolveParties(ctx context.Context, comm *models.Communication) error {
	sender, err := s.resolver.Resolve(ctx, comm.Platform, comm.SenderIdentifier, comm.SenderDisplayName)
	switch {
	case err == nil:
		comm.SenderContactID = &sender.ContactID
	case dErrors.HasCode(err, dErrors.CodeInvalidIdentifier):
		if s.metrics != nil {
			s.metrics.UnresolvedSenders.Inc()
		}
		s.log.WarnContext(ctx, "sender left unresolved",
			slog.String("platform", string(comm.Platform)),
			slog.String("identifier", comm.SenderIdentifier))
	default:
		return err
	}

	if comm.RecipientIdentifier != "" {
		recipient, err := s.resolver.Resolve(ctx, comm.Platform, comm.RecipientIdentifier, "")
		switch {
		case err == nil:
			comm.RecipientContactID = &recipient.ContactID
		case dErrors.HasCode(err, dErrors.CodeInvalidIdentifier):
			// tolerated, same as the sender
		default:
			return err
		}
	}
	return nil
}

func (s *Service) createAttachments(ctx context.Context, commID domain.CommunicationID, inputs []AttachmentInput, now time.Time) ([]*models.Attachment, error) {
	var out []*models.Attachment
	for _, in := range inputs {
		a := &models.Attachment{
			ID:              domain.NewAttachmentID(),
			CommunicationID: commID,
			Filename:        in.Filename,
			MediaType:       in.MediaType,
			SizeBytes:       in.SizeBytes,
			StoragePath:     in.StoragePath,
			CreatedAt:       now,
		}
		if err := s.store.CreateAttachment(ctx, a); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "store attachment", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Classify runs the extraction collaborator over a communication. A verdict
// at or above the confidence threshold is applied and the communication
// moves to processed; anything weaker, including a collaborator failure,
// flags it for review.
func (s *Service) Classify(ctx context.Context, id domain.CommunicationID) (*models.Communication, error) {
	if s.classifier == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "no classifier configured")
	}
	comm, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if comm.Status == models.StatusArchived {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "archived communications are immutable")
	}

	var result *extraction.Result
	classifyErr := s.recorder.RunWithMetrics(ctx, comm.ID, processingmodels.StepClassification, 3, func(ctx context.Context) (processingmodels.StepMetrics, error) {
		var err error
		result, err = s.classifier.Classify(ctx, comm)
		if err != nil {
			return processingmodels.StepMetrics{}, err
		}
		return processingmodels.StepMetrics{
			Engine:     result.Engine,
			Confidence: &result.Confidence,
			TokensUsed: result.TokensUsed,
			CostCents:  result.CostCents,
		}, nil
	})

	now := requestcontext.Now(ctx)
	switch {
	case classifyErr != nil:
		if comm.Status != models.StatusFlaggedForReview {
			if err := comm.Transition(models.StatusFlaggedForReview, now); err != nil {
				return nil, err
			}
		}
	case result.Confidence >= s.confidenceThreshold:
		comm.Category = result.Category
		if result.Urgency != "" {
			comm.Urgency = result.Urgency
		}
		comm.ExtractionConfidence = &result.Confidence
		if err := comm.Transition(models.StatusProcessed, now); err != nil {
			return nil, err
		}
	default:
		// Keep the low-confidence verdict visible to the reviewer.
		comm.Category = result.Category
		comm.ExtractionConfidence = &result.Confidence
		if comm.Status != models.StatusFlaggedForReview {
			if err := comm.Transition(models.StatusFlaggedForReview, now); err != nil {
				return nil, err
			}
		}
	}

	if err := s.store.Update(ctx, comm); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "update communication", err)
	}
	return comm, nil
}

// Review applies an operator's verdict to a flagged communication and moves
// it to processed.
func (s *Service) Review(ctx context.Context, id domain.CommunicationID, category models.ContentCategory, urgency models.UrgencyLevel) (*models.Communication, error) {
	comm, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if comm.Status != models.StatusFlaggedForReview {
		return nil, dErrors.New(dErrors.CodeConflict, "communication is not awaiting review")
	}

	now := requestcontext.Now(ctx)
	var reviewErr error
	_ = s.recorder.Run(ctx, comm.ID, processingmodels.StepReview, func(ctx context.Context) error {
		comm.Category = category
		if urgency != "" {
			comm.Urgency = urgency
		}
		if err := comm.Transition(models.StatusProcessed, now); err != nil {
			reviewErr = err
			return err
		}
		if err := s.store.Update(ctx, comm); err != nil {
			reviewErr = dErrors.Wrap(dErrors.CodeInternal, "update communication", err)
			return reviewErr
		}
		return nil
	})
	if reviewErr != nil {
		return nil, reviewErr
	}
	s.log.InfoContext(ctx, "review resolved",
		slog.String("communication_id", comm.ID.String()),
		slog.String("actor", requestcontext.Actor(ctx)),
		slog.String("category", string(category)))
	return comm, nil
}

// Archive moves processed communications older than the cutoff to archived.
// Returns how many it moved. The retention sweep drives this.
func (s *Service) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.store.ListProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(dErrors.CodeInternal, "list archivable communications", err)
	}
	archived := 0
	for _, comm := range stale {
		err := s.recorder.Run(ctx, comm.ID, processingmodels.StepArchival, func(ctx context.Context) error {
			if err := comm.Transition(models.StatusArchived, requestcontext.Now(ctx)); err != nil {
				return err
			}
			return s.store.Update(ctx, comm)
		})
		if err != nil {
			continue
		}
		archived++
	}
	return archived, nil
}

func (s *Service) Get(ctx context.Context, id domain.CommunicationID) (*models.Communication, error) {
	comm, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "communication not found")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find communication", err)
	}
	return comm, nil
}

func (s *Service) List(ctx context.Context, f store.Filter) ([]*models.Communication, error) {
	comms, err := s.store.List(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list communications", err)
	}
	return comms, nil
}

// Thread returns a conversation oldest first. Soft-deleted members are
// excluded; the thread id they carry persists so restoration puts them back
// in place.
func (s *Service) Thread(ctx context.Context, threadID domain.ThreadID) ([]*models.Communication, error) {
	comms, err := s.store.ListByThread(ctx, threadID, false)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list thread", err)
	}
	if len(comms) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "thread not found")
	}
	return comms, nil
}

// History returns the processing log for a communication.
func (s *Service) History(ctx context.Context, id domain.CommunicationID) ([]*processingmodels.LogEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.recorder.History(ctx, id)
}

// Attachments lists the live attachments of a communication.
func (s *Service) Attachments(ctx context.Context, id domain.CommunicationID) ([]*models.Attachment, error) {
	attachments, err := s.store.ListAttachments(ctx, id, false)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list attachments", err)
	}
	return attachments, nil
}
