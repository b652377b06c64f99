package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/copilot-nexus/internal/gate"
)

// ApprovalsListHandler handles GET /internal/approvals: requests currently
// parked awaiting the operator.
func ApprovalsListHandler(g *gate.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"pending": g.Pending()})
	}
}

type resolveApprovalRequest struct {
	Accept bool `json:"accept"`
}

// ResolveApprovalHandler handles POST /internal/approvals/{id}: releases a
// parked request with the operator's verdict.
func ResolveApprovalHandler(g *gate.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveApprovalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		id := chi.URLParam(r, "id")
		if err := g.Resolve(id, req.Accept); err != nil {
			writeOpenAIError(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "accepted": req.Accept})
	}
}
