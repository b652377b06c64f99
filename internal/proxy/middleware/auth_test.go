package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/pysugar/copilot-nexus/internal/db"
)

func setupAuth(t *testing.T) (*db.Store, http.Handler) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = APIKeyFromContext(r.Context())
		w.Write([]byte(captured))
	})
	return store, APIKeyAuth(store)(inner)
}

func TestAuthNoKeyPassesThrough(t *testing.T) {
	_, handler := setupAuth(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d with no key, want 200", rec.Code)
	}
}

func TestAuthInvalidKeyRejected(t *testing.T) {
	_, handler := setupAuth(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer cak_bogus")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d with bogus bearer, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", "cak_bogus")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d with bogus x-api-key, want 401", rec.Code)
	}
}

func TestAuthValidKeyAccepted(t *testing.T) {
	store, handler := setupAuth(t)

	key, err := store.CreateAPIKey("test")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+key.Key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d with valid key, want 200", rec.Code)
	}
	if rec.Body.String() != key.Key {
		t.Errorf("context key = %q, want %q", rec.Body.String(), key.Key)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", key.Key)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d with valid x-api-key, want 200", rec.Code)
	}
}
