package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pysugar/copilot-nexus/internal/db"
)

// APIKeysListHandler handles GET /internal/api-keys.
func APIKeysListHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := store.LoadAPIKeys()
		if err != nil {
			writeOpenAIError(w, "Failed to load api keys", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"api_keys": keys})
	}
}

type createAPIKeyRequest struct {
	Label string `json:"label,omitempty"`
}

// CreateAPIKeyHandler handles POST /internal/api-keys: mints a new opaque
// client key. The full key value is returned only here, at creation time.
func CreateAPIKeyHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAPIKeyRequest
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&req)
		}

		key, err := store.CreateAPIKey(req.Label)
		if err != nil {
			writeOpenAIError(w, "Failed to create api key", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(key)
	}
}
