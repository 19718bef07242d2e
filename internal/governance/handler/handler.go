package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"commhub/internal/governance/models"
	"commhub/internal/governance/store"
	"commhub/internal/platform/middleware"
	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
	"commhub/pkg/platform/httputil"
	"commhub/pkg/requestcontext"
)

// Service defines the governance operations the handler exposes.
type Service interface {
	Delete(ctx context.Context, entityType domain.EntityType, entityID, actor, reason string) (models.ActionResult, error)
	Approve(ctx context.Context, entityType domain.EntityType, entityID, approver string) (models.ActionResult, error)
	Restore(ctx context.Context, entityType domain.EntityType, entityID, actor string) (models.ActionResult, error)
	HardDelete(ctx context.Context, entityType domain.EntityType, entityID, actor, reason string) (models.ActionResult, error)
	AuditTrail(ctx context.Context, f store.AuditFilter) ([]*models.DeletionAudit, error)
	Policies(ctx context.Context) ([]*models.DeletionPolicy, error)
}

type Handler struct {
	logger     *slog.Logger
	governance Service
	validator  middleware.TokenValidator
}

func New(governance Service, logger *slog.Logger, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:     logger,
		governance: governance,
		validator:  validator,
	}
}

// Register mounts the governance routes. Every route is operator-only; the
// token subject is the actor recorded on the audit rows.
func (h *Handler) Register(r chi.Router) {
	r.Route("/governance", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.RequireOperator(h.validator, h.logger))
		r.Post("/delete", h.handleDelete)
		r.Post("/approve", h.handleApprove)
		r.Post("/restore", h.handleRestore)
		r.Post("/hard-delete", h.handleHardDelete)
		r.Get("/audit", h.handleAuditTrail)
		r.Get("/policies", h.handlePolicies)
	})
}

type actionRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) decodeAction(w http.ResponseWriter, r *http.Request) (domain.EntityType, actionRequest, bool) {
	req, ok := httputil.Decode[actionRequest](w, r, h.logger)
	if !ok {
		return "", actionRequest{}, false
	}
	entityType, err := domain.ParseEntityType(req.EntityType)
	if err != nil {
		httputil.WriteError(w, err)
		return "", actionRequest{}, false
	}
	if req.EntityID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "entity_id is required"))
		return "", actionRequest{}, false
	}
	return entityType, req, true
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	entityType, req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	result, err := h.governance.Delete(r.Context(), entityType, req.EntityID, requestcontext.Actor(r.Context()), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	entityType, req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	result, err := h.governance.Approve(r.Context(), entityType, req.EntityID, requestcontext.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	entityType, req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	result, err := h.governance.Restore(r.Context(), entityType, req.EntityID, requestcontext.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHardDelete(w http.ResponseWriter, r *http.Request) {
	entityType, req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	result, err := h.governance.HardDelete(r.Context(), entityType, req.EntityID, requestcontext.Actor(r.Context()), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuditFilter{
		EntityID: q.Get("entity_id"),
		Actor:    q.Get("actor"),
	}
	if raw := q.Get("entity_type"); raw != "" {
		entityType, err := domain.ParseEntityType(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		f.EntityType = entityType
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "since must be RFC 3339"))
			return
		}
		f.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid limit"))
			return
		}
		f.Limit = limit
	}

	trail, err := h.governance.AuditTrail(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"audit": trail})
}

func (h *Handler) handlePolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.governance.Policies(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"policies": policies})
}
