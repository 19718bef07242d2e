package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"commhub/internal/comms/models"
	"commhub/internal/comms/service"
	"commhub/internal/comms/store"
	"commhub/internal/platform/middleware"
	processingmodels "commhub/internal/processing/models"
	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
	"commhub/pkg/platform/httputil"
)

// Service defines the communication operations the handler exposes.
type Service interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error)
	Get(ctx context.Context, id domain.CommunicationID) (*models.Communication, error)
	List(ctx context.Context, f store.Filter) ([]*models.Communication, error)
	Thread(ctx context.Context, threadID domain.ThreadID) ([]*models.Communication, error)
	Classify(ctx context.Context, id domain.CommunicationID) (*models.Communication, error)
	Review(ctx context.Context, id domain.CommunicationID, category models.ContentCategory, urgency models.UrgencyLevel) (*models.Communication, error)
	History(ctx context.Context, id domain.CommunicationID) ([]*processingmodels.LogEntry, error)
	Attachments(ctx context.Context, id domain.CommunicationID) ([]*models.Attachment, error)
}

type Handler struct {
	logger        *slog.Logger
	comms         Service
	validator     middleware.TokenValidator
	ingestKeyHash string
}

type Option func(*Handler)

// WithIngestKeyHash gates ingestion behind a shared API key, verified against
// the given bcrypt hash.
func WithIngestKeyHash(hash string) Option {
	return func(h *Handler) { h.ingestKeyHash = hash }
}

func New(comms Service, logger *slog.Logger, validator middleware.TokenValidator, opts ...Option) *Handler {
	h := &Handler{
		logger:    logger,
		comms:     comms,
		validator: validator,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/communications", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.With(middleware.RequireAPIKey(h.ingestKeyHash, h.logger)).Post("/", h.handleIngest)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/history", h.handleHistory)
		r.Get("/{id}/attachments", h.handleAttachments)
		r.Post("/{id}/classify", h.handleClassify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(h.validator, h.logger))
			r.Post("/{id}/review", h.handleReview)
		})
	})
	r.Get("/threads/{id}", h.handleThread)
}

type ingestRequest struct {
	Platform            string                  `json:"platform"`
	PlatformMessageID   string                  `json:"platform_message_id,omitempty"`
	PlatformThreadID    string                  `json:"platform_thread_id,omitempty"`
	SenderIdentifier    string                  `json:"sender_identifier"`
	SenderDisplayName   string                  `json:"sender_display_name,omitempty"`
	RecipientIdentifier string                  `json:"recipient_identifier,omitempty"`
	IsGroupConversation bool                    `json:"is_group_conversation,omitempty"`
	GroupName           string                  `json:"group_name,omitempty"`
	GroupParticipants   []string                `json:"group_participants,omitempty"`
	SubjectLine         string                  `json:"subject_line,omitempty"`
	Content             string                  `json:"content"`
	Metadata            models.PlatformMetadata `json:"metadata,omitempty"`
	Direction           string                  `json:"direction,omitempty"`
	SentAt              time.Time               `json:"sent_at,omitempty"`
	ReplyTo             string                  `json:"reply_to,omitempty"`
	Attachments         []attachmentInput       `json:"attachments,omitempty"`
}

type attachmentInput struct {
	Filename    string `json:"filename"`
	MediaType   string `json:"media_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[ingestRequest](w, r, h.logger)
	if !ok {
		return
	}
	platform, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	direction, err := domain.ParseDirection(req.Direction)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.SenderIdentifier == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "sender_identifier is required"))
		return
	}
	if req.Content == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "content is required"))
		return
	}

	ingest := service.IngestRequest{
		Platform:            platform,
		PlatformMessageID:   req.PlatformMessageID,
		PlatformThreadID:    req.PlatformThreadID,
		SenderIdentifier:    req.SenderIdentifier,
		SenderDisplayName:   req.SenderDisplayName,
		RecipientIdentifier: req.RecipientIdentifier,
		IsGroupConversation: req.IsGroupConversation,
		GroupName:           req.GroupName,
		GroupParticipants:   req.GroupParticipants,
		SubjectLine:         req.SubjectLine,
		Content:             req.Content,
		Metadata:            req.Metadata,
		Direction:           direction,
		SentAt:              req.SentAt,
	}
	if req.ReplyTo != "" {
		replyTo, err := domain.ParseCommunicationID(req.ReplyTo)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid reply_to"))
			return
		}
		ingest.ReplyTo = &replyTo
	}
	for _, a := range req.Attachments {
		ingest.Attachments = append(ingest.Attachments, service.AttachmentInput{
			Filename:    a.Filename,
			MediaType:   a.MediaType,
			SizeBytes:   a.SizeBytes,
			StoragePath: a.StoragePath,
		})
	}

	result, err := h.comms.Ingest(r.Context(), ingest)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, map[string]any{
		"communication": result.Communication,
		"attachments":   result.Attachments,
		"created":       result.Created,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Platform:       domain.Platform(q.Get("platform")),
		Status:         models.ProcessingStatus(q.Get("status")),
		ThreadID:       domain.ThreadID(q.Get("thread_id")),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}
	if f.Platform != "" && !f.Platform.IsValid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unsupported platform filter"))
		return
	}
	if raw := q.Get("contact_id"); raw != "" {
		contactID, err := domain.ParseContactID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid contact_id"))
			return
		}
		f.ContactID = contactID
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid limit"))
			return
		}
		f.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid offset"))
			return
		}
		f.Offset = offset
	}

	comms, err := h.comms.List(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"communications": comms})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCommunicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	comm, err := h.comms.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, comm)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCommunicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	history, err := h.comms.History(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *Handler) handleAttachments(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCommunicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	attachments, err := h.comms.Attachments(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCommunicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	comm, err := h.comms.Classify(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, comm)
}

type reviewRequest struct {
	Category string `json:"content_category"`
	Urgency  string `json:"urgency_level,omitempty"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCommunicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[reviewRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Category == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "content_category is required"))
		return
	}
	comm, err := h.comms.Review(r.Context(), id, models.ContentCategory(req.Category), models.UrgencyLevel(req.Urgency))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, comm)
}

func (h *Handler) handleThread(w http.ResponseWriter, r *http.Request) {
	threadID := domain.ThreadID(chi.URLParam(r, "id"))
	if threadID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "thread id is required"))
		return
	}
	comms, err := h.comms.Thread(r.Context(), threadID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"thread_id":      threadID,
		"communications": comms,
	})
}
