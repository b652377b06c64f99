package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/copilot-nexus/internal/pool"
)

type tokenStatus struct {
	ID       string `json:"id"`
	HasToken bool   `json:"has_token"`
}

// TokensStatusHandler handles GET /internal/tokens: per-account hydration
// state. Token values are never exposed.
func TokensStatusHandler(accountPool *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]tokenStatus, 0, accountPool.Len())
		for _, account := range accountPool.Accounts() {
			out = append(out, tokenStatus{ID: account.ID, HasToken: account.CopilotToken != ""})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"tokens": out})
	}
}

// RefreshTokenHandler handles POST /internal/tokens/{id}/refresh: forces a
// fresh bearer token for one account by clearing its live state and
// re-hydrating.
func RefreshTokenHandler(accountPool *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		account := accountPool.Find(id)
		if account == nil {
			writeOpenAIError(w, "Account not found: "+id, http.StatusNotFound)
			return
		}

		if err := accountPool.Rehydrate(r.Context(), account); err != nil {
			writeRoutingError(w, writeOpenAIError, GetOrGenerateRequestID(r), err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenStatus{ID: account.ID, HasToken: true})
	}
}
