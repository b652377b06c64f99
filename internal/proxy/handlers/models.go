package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/pysugar/copilot-nexus/internal/pool"
	"github.com/pysugar/copilot-nexus/internal/upstream"
)

// ModelsHandler handles GET /v1/models: the union of every account's model
// catalog, de-duplicated by id. Accounts that fail to hydrate are skipped so
// one bad credential cannot blank the listing.
func ModelsHandler(accountPool *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seen := make(map[string]bool)
		out := upstream.ModelsResponse{Object: "list", Data: []upstream.Model{}}

		for _, account := range accountPool.Accounts() {
			if err := accountPool.EnsureReady(r.Context(), account); err != nil {
				log.Printf("[models] skipping account %q: %v", account.ID, err)
				continue
			}
			if account.Models == nil {
				continue
			}
			for _, model := range account.Models.Data {
				if seen[model.ID] {
					continue
				}
				seen[model.ID] = true
				out.Data = append(out.Data, model)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
