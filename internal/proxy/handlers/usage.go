package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pysugar/copilot-nexus/internal/gate"
	"github.com/pysugar/copilot-nexus/internal/pool"
	"github.com/pysugar/copilot-nexus/internal/upstream"
)

type accountUsage struct {
	ID          string                  `json:"id"`
	AccountType string                  `json:"account_type"`
	LastRequest *time.Time              `json:"last_request,omitempty"`
	Usage       *upstream.UsageResponse `json:"usage,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// UsageHandler handles GET /usage: quota snapshots and last-request times,
// either for the account named by the X-Nexus-Account header or for every
// account. A per-account fetch failure is reported inline rather than
// failing the whole view.
func UsageHandler(accountPool *pool.Pool, g *gate.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts := accountPool.Accounts()
		if id := r.Header.Get(accountHeader); id != "" {
			account := accountPool.Find(id)
			if account == nil {
				writeOpenAIError(w, "unknown account: "+id, http.StatusNotFound)
				return
			}
			accounts = []*pool.Account{account}
		}

		out := make([]accountUsage, 0, len(accounts))
		for _, account := range accounts {
			entry := accountUsage{ID: account.ID, AccountType: account.AccountType}
			if last, ok := g.LastRequest(account.ID); ok {
				entry.LastRequest = &last
			}
			usage, err := accountPool.Usage(r.Context(), account)
			if err != nil {
				entry.Error = err.Error()
			} else {
				entry.Usage = usage
			}
			out = append(out, entry)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"accounts": out})
	}
}
