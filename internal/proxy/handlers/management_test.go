package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/copilot-nexus/internal/pool"
)

func TestAccountsListHidesCredentials(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))
	handler := AccountsListHandler(stack.pool)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/internal/accounts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "gh_acc") {
		t.Errorf("github token leaked in listing: %s", body)
	}

	var resp struct {
		Accounts []accountSummary `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Accounts) != 1 || resp.Accounts[0].ID != "acc" {
		t.Errorf("accounts = %+v", resp.Accounts)
	}
	if resp.Accounts[0].HasToken {
		t.Error("has_token = true before hydration")
	}
}

func TestAddAccount(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))
	handler := AddAccountHandler(stack.pool)

	body := `{"github_token":"gh_fresh","account_type":"business"}`
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/internal/accounts", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created accountSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID != "tester" || created.AccountType != "business" {
		t.Errorf("created = %+v", created)
	}
	if stack.pool.Find("tester") == nil {
		t.Error("account not present in pool after add")
	}
}

func TestAddAccountMissingToken(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))
	handler := AddAccountHandler(stack.pool)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/internal/accounts", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))

	rec := httptest.NewRecorder()
	CreateAPIKeyHandler(stack.store)(rec, httptest.NewRequest(http.MethodPost, "/internal/api-keys", strings.NewReader(`{"label":"ci"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		Key   string `json:"key"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(created.Key, "cak_") || created.Label != "ci" {
		t.Errorf("created = %+v", created)
	}

	rec = httptest.NewRecorder()
	APIKeysListHandler(stack.store)(rec, httptest.NewRequest(http.MethodGet, "/internal/api-keys", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), created.Key) {
		t.Error("created key missing from listing")
	}
}

func TestTokenRefreshEndpoint(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))

	r := chi.NewRouter()
	r.Post("/internal/tokens/{id}/refresh", RefreshTokenHandler(stack.pool))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/tokens/acc/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if stack.pool.Find("acc").CopilotToken == "" {
		t.Error("account has no bearer token after forced refresh")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/tokens/ghost/refresh", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown account, want 404", rec.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))
	handler := UsageHandler(stack.pool, stack.gate)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/usage", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Accounts []accountUsage `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(resp.Accounts))
	}
	entry := resp.Accounts[0]
	if entry.Usage == nil || entry.Usage.QuotaSnapshots.PremiumInteractions == nil {
		t.Fatalf("usage missing: %+v", entry)
	}
	if !entry.Usage.QuotaSnapshots.PremiumInteractions.Unlimited {
		t.Error("premium snapshot not reported as unlimited")
	}
}

func TestModelsEndpointDeduplicates(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))
	// Both accounts report the same catalog; the listing must not repeat it.
	second := pool.Account{ID: "acc2", GithubToken: "gh_acc2", AccountType: "individual"}
	if err := stack.pool.Upsert(&second); err != nil {
		t.Fatalf("add second account: %v", err)
	}

	handler := ModelsHandler(stack.pool)
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if got := strings.Count(rec.Body.String(), `"gpt-5"`); got != 1 {
		t.Errorf("gpt-5 listed %d times, want 1", got)
	}
}

func TestApprovalEndpoints(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))

	r := chi.NewRouter()
	r.Get("/internal/approvals", ApprovalsListHandler(stack.gate))
	r.Post("/internal/approvals/{id}", ResolveApprovalHandler(stack.gate))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/approvals", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/approvals/ghost", strings.NewReader(`{"accept":true}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("resolve unknown status = %d, want 404", rec.Code)
	}
}
