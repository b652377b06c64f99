package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pysugar/copilot-nexus/internal/pool"
)

type accountSummary struct {
	ID          string `json:"id"`
	AccountType string `json:"account_type"`
	Login       string `json:"login,omitempty"`
	HasToken    bool   `json:"has_token"`
}

// AccountsListHandler handles GET /internal/accounts. GitHub credentials
// and bearer tokens never appear in the listing.
func AccountsListHandler(accountPool *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]accountSummary, 0, accountPool.Len())
		for _, account := range accountPool.Accounts() {
			out = append(out, accountSummary{
				ID:          account.ID,
				AccountType: account.AccountType,
				Login:       account.Login,
				HasToken:    account.CopilotToken != "",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"accounts": out})
	}
}

type addAccountRequest struct {
	GithubToken string `json:"github_token"`
	AccountType string `json:"account_type,omitempty"`
}

// AddAccountHandler handles POST /internal/accounts: registers an account
// from a pre-obtained long-lived GitHub token.
func AddAccountHandler(accountPool *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.GithubToken == "" {
			writeOpenAIError(w, "github_token is required", http.StatusBadRequest)
			return
		}

		account, err := accountPool.AddAccountWithToken(r.Context(), req.GithubToken, req.AccountType)
		if err != nil {
			writeRoutingError(w, writeOpenAIError, GetOrGenerateRequestID(r), err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(accountSummary{
			ID:          account.ID,
			AccountType: account.AccountType,
			Login:       account.Login,
		})
	}
}
