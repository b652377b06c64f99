package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pysugar/copilot-nexus/internal/gate"
	"github.com/pysugar/copilot-nexus/internal/pool"
	"github.com/pysugar/copilot-nexus/internal/upstream"
)

// EmbeddingsHandler handles /v1/embeddings. Embeddings are stateless so no
// conversation binding is involved; routing is explicit pin or rotation.
func EmbeddingsHandler(accountPool *pool.Pool, g *gate.Gate, backend *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestId := GetOrGenerateRequestID(r)

		var payload upstream.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeOpenAIError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		account, err := selectAccount(r.Context(), accountPool, g, pool.SelectOptions{
			ExplicitAccountID: r.Header.Get(accountHeader),
			Model:             payload.Model,
		})
		if err != nil {
			writeRoutingError(w, writeOpenAIError, requestId, err)
			return
		}

		resp, err := backend.Embeddings(r.Context(), account.Session(), &payload, accountPool.ClientVersion())
		if err != nil {
			writeRoutingError(w, writeOpenAIError, requestId, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
