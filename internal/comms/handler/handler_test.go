package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	commsservice "commhub/internal/comms/service"
	commsstore "commhub/internal/comms/store"
	"commhub/internal/platform/middleware"
	"commhub/internal/processing"
	processingstore "commhub/internal/processing/store"
	"commhub/internal/thread"
	"commhub/pkg/domain"
)

const signingKey = "handler-test-signing-key"

type stubResolver struct {
	contactID domain.ContactID
}

func (r stubResolver) Resolve(ctx context.Context, platform domain.Platform, identifier, displayName string) (commsservice.ResolvedParty, error) {
	return commsservice.ResolvedParty{ContactID: r.contactID}, nil
}

func newCommsRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	comms := commsstore.NewInMemory()
	recorder := processing.NewRecorder(processingstore.NewInMemory(), logger)
	linker := thread.NewLinker(comms, logger)
	svc := commsservice.New(comms, stubResolver{contactID: domain.NewContactID()}, linker, recorder, logger)

	h := New(svc, logger, middleware.NewHMACValidator(signingKey))
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "reviewer@example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func ingestPayload(messageID string) map[string]any {
	return map[string]any{
		"platform":            "email",
		"platform_message_id": messageID,
		"sender_identifier":   "sender@example.com",
		"subject_line":        "Quarterly invoice",
		"content":             "Please find the invoice attached.",
	}
}

func postJSON(t *testing.T, router http.Handler, path string, payload any, token string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngestCreatesAndDeduplicates(t *testing.T) {
	router := newCommsRouter(t)

	rec := postJSON(t, router, "/communications", ingestPayload("<msg-1@mail.example.com>"), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first ingest, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Communication struct {
			ID       string `json:"id"`
			ThreadID string `json:"thread_id"`
		} `json:"communication"`
		Created bool `json:"created"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode ingest response: %v", err)
	}
	if !created.Created || created.Communication.ID == "" {
		t.Fatalf("expected created communication, got %+v", created)
	}
	if created.Communication.ThreadID == "" {
		t.Fatalf("expected a minted thread id")
	}

	rec = postJSON(t, router, "/communications", ingestPayload("<msg-1@mail.example.com>"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate ingest, got %d", rec.Code)
	}
	var dup struct {
		Communication struct {
			ID string `json:"id"`
		} `json:"communication"`
		Created bool `json:"created"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&dup); err != nil {
		t.Fatalf("failed to decode duplicate response: %v", err)
	}
	if dup.Created || dup.Communication.ID != created.Communication.ID {
		t.Fatalf("expected existing communication back, got %+v", dup)
	}
}

func TestIngestRejectsUnknownPlatform(t *testing.T) {
	router := newCommsRouter(t)

	payload := ingestPayload("<msg-2@mail.example.com>")
	payload["platform"] = "carrier_pigeon"
	rec := postJSON(t, router, "/communications", payload, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown platform, got %d", rec.Code)
	}
}

func TestThreadAndHistoryEndpoints(t *testing.T) {
	router := newCommsRouter(t)

	rec := postJSON(t, router, "/communications", ingestPayload("<msg-3@mail.example.com>"), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created struct {
		Communication struct {
			ID       string `json:"id"`
			ThreadID string `json:"thread_id"`
		} `json:"communication"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode ingest response: %v", err)
	}

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/threads/"+created.Communication.ThreadID, nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching thread, got %d", getRec.Code)
	}
	var threadResp struct {
		Communications []json.RawMessage `json:"communications"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&threadResp); err != nil {
		t.Fatalf("failed to decode thread response: %v", err)
	}
	if len(threadResp.Communications) != 1 {
		t.Fatalf("expected 1 communication in thread, got %d", len(threadResp.Communications))
	}

	histRec := httptest.NewRecorder()
	router.ServeHTTP(histRec, httptest.NewRequest(http.MethodGet, "/communications/"+created.Communication.ID+"/history", nil))
	if histRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching history, got %d", histRec.Code)
	}
	var histResp struct {
		History []struct {
			Step   string `json:"step"`
			Status string `json:"status"`
		} `json:"history"`
	}
	if err := json.NewDecoder(histRec.Body).Decode(&histResp); err != nil {
		t.Fatalf("failed to decode history response: %v", err)
	}
	if len(histResp.History) == 0 {
		t.Fatalf("expected processing log entries for the ingest pipeline")
	}
}

func TestListHidesPendingAndDeletedByDefault(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	comms := commsstore.NewInMemory()
	recorder := processing.NewRecorder(processingstore.NewInMemory(), logger)
	linker := thread.NewLinker(comms, logger)
	svc := commsservice.New(comms, stubResolver{contactID: domain.NewContactID()}, linker, recorder, logger)
	h := New(svc, logger, middleware.NewHMACValidator(signingKey))
	router := chi.NewRouter()
	h.Register(router)

	ids := make(map[string]string)
	for _, msgID := range []string{"<active@x>", "<pending@x>", "<deleted@x>"} {
		rec := postJSON(t, router, "/communications", ingestPayload(msgID), "")
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201 ingesting %s, got %d", msgID, rec.Code)
		}
		var created struct {
			Communication struct {
				ID string `json:"id"`
			} `json:"communication"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
			t.Fatalf("failed to decode ingest response: %v", err)
		}
		ids[msgID] = created.Communication.ID
	}

	now := time.Now().UTC()
	pendingID, _ := domain.ParseCommunicationID(ids["<pending@x>"])
	pending, err := comms.Find(t.Context(), pendingID)
	if err != nil {
		t.Fatalf("find pending communication: %v", err)
	}
	pending.MarkPending(now, "operator@ops", "awaiting approval")
	if err := comms.Update(t.Context(), pending); err != nil {
		t.Fatalf("update pending communication: %v", err)
	}

	deletedID, _ := domain.ParseCommunicationID(ids["<deleted@x>"])
	deleted, err := comms.Find(t.Context(), deletedID)
	if err != nil {
		t.Fatalf("find deleted communication: %v", err)
	}
	deleted.MarkDeleted(now, "operator@ops", "removed", "")
	if err := comms.Update(t.Context(), deleted); err != nil {
		t.Fatalf("update deleted communication: %v", err)
	}

	list := func(path string) []struct {
		ID string `json:"id"`
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 listing %s, got %d", path, rec.Code)
		}
		var resp struct {
			Communications []struct {
				ID string `json:"id"`
			} `json:"communications"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode listing: %v", err)
		}
		return resp.Communications
	}

	visible := list("/communications")
	if len(visible) != 1 || visible[0].ID != ids["<active@x>"] {
		t.Fatalf("expected only the active communication, got %+v", visible)
	}

	all := list("/communications?include_deleted=true")
	if len(all) != 3 {
		t.Fatalf("expected all 3 communications with include_deleted, got %d", len(all))
	}
}

func TestReviewRequiresOperatorToken(t *testing.T) {
	router := newCommsRouter(t)

	rec := postJSON(t, router, "/communications", ingestPayload("<msg-4@mail.example.com>"), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created struct {
		Communication struct {
			ID string `json:"id"`
		} `json:"communication"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode ingest response: %v", err)
	}

	review := map[string]string{"content_category": "invoice", "urgency_level": "high"}
	rec = postJSON(t, router, "/communications/"+created.Communication.ID+"/review", review, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// A freshly ingested communication is not flagged for review yet, so an
	// authorized review attempt is rejected as a conflict.
	rec = postJSON(t, router, "/communications/"+created.Communication.ID+"/review", review, operatorToken(t))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 reviewing an unflagged communication, got %d", rec.Code)
	}
}
