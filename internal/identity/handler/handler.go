package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	identitymodels "commhub/internal/identity/models"
	identityservice "commhub/internal/identity/service"
	"commhub/internal/platform/middleware"
	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
	"commhub/pkg/platform/httputil"
	"commhub/pkg/requestcontext"
)

// Service defines the contact operations the handler exposes.
type Service interface {
	Contact(ctx context.Context, id domain.ContactID) (*identitymodels.Contact, error)
	ListContacts(ctx context.Context, includeDeleted bool) ([]*identitymodels.Contact, error)
	Identities(ctx context.Context, contactID domain.ContactID) ([]*identitymodels.ContactIdentity, error)
	Merge(ctx context.Context, winnerID, loserID domain.ContactID, actor, reason string) (*identityservice.MergeResult, error)
}

type Handler struct {
	logger    *slog.Logger
	contacts  Service
	validator middleware.TokenValidator
}

func New(contacts Service, logger *slog.Logger, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		contacts:  contacts,
		validator: validator,
	}
}

// Register mounts the contact routes. Merging rewrites identity ownership,
// so it sits behind operator auth; reads do not.
func (h *Handler) Register(r chi.Router) {
	r.Route("/contacts", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/", h.handleListContacts)
		r.Get("/{id}", h.handleGetContact)
		r.Get("/{id}/identities", h.handleListIdentities)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(h.validator, h.logger))
			r.Post("/merge", h.handleMerge)
		})
	})
}

func (h *Handler) handleListContacts(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	contacts, err := h.contacts.ListContacts(r.Context(), includeDeleted)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (h *Handler) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseContactID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	contact, err := h.contacts.Contact(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, contact)
}

func (h *Handler) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseContactID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identities, err := h.contacts.Identities(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"identities": identities})
}

type mergeRequest struct {
	WinnerID string `json:"winner_id"`
	LoserID  string `json:"loser_id"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[mergeRequest](w, r, h.logger)
	if !ok {
		return
	}
	winnerID, err := domain.ParseContactID(req.WinnerID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid winner_id"))
		return
	}
	loserID, err := domain.ParseContactID(req.LoserID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid loser_id"))
		return
	}
	result, err := h.contacts.Merge(r.Context(), winnerID, loserID, requestcontext.Actor(r.Context()), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
