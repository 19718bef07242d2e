package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"commhub/pkg/secrets"
)

func TestRequireAPIKey(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	key, err := secrets.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := secrets.Hash(key)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}

	t.Run("empty hash disables the gate", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAPIKey("", logger)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected passthrough, got %d", rec.Code)
		}
	})

	t.Run("missing key rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAPIKey(hash, logger)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-API-Key", "not-the-key")
		rec := httptest.NewRecorder()
		RequireAPIKey(hash, logger)(next).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("valid key passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		RequireAPIKey(hash, logger)(next).ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
	})
}
