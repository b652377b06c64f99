package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/copilot-nexus/internal/util"
)

const (
	githubAPIBaseURL = "https://api.github.com"

	editorPluginVersion = "copilot-chat/0.26.7"
	userAgent           = "GitHubCopilotChat/0.26.7"
	githubAPIVersion    = "2025-04-01"
)

// Session carries the per-account credentials a backend call needs.
type Session struct {
	GithubToken  string
	CopilotToken string
	AccountType  string // individual, business, enterprise
}

// Client issues authenticated calls against GitHub and the Copilot API.
// Timeouts are its responsibility; callers treat any timeout as a generic
// upstream failure.
type Client struct {
	httpClient *http.Client

	// Overridable for tests.
	githubBaseURL  string
	copilotBaseURL string
}

// NewClient creates an upstream client with a streaming-friendly timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		githubBaseURL: githubAPIBaseURL,
	}
}

// NewClientForBase creates a client pinned to one base URL for both GitHub
// and Copilot endpoints. Used by tests.
func NewClientForBase(base string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		githubBaseURL:  base,
		copilotBaseURL: base,
	}
}

// copilotBase maps the account type to its Copilot API host. Business and
// enterprise plans live on dedicated subdomains.
func (c *Client) copilotBase(sess Session) string {
	if c.copilotBaseURL != "" {
		return c.copilotBaseURL
	}
	switch sess.AccountType {
	case "business":
		return "https://api.business.githubcopilot.com"
	case "enterprise":
		return "https://api.enterprise.githubcopilot.com"
	default:
		return "https://api.githubcopilot.com"
	}
}

func (c *Client) githubHeaders(req *http.Request, githubToken, clientVersion string) {
	req.Header.Set("Authorization", "token "+githubToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Editor-Version", "vscode/"+clientVersion)
	req.Header.Set("Editor-Plugin-Version", editorPluginVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Github-Api-Version", githubAPIVersion)
}

func (c *Client) copilotHeaders(req *http.Request, sess Session, clientVersion string) {
	req.Header.Set("Authorization", "Bearer "+sess.CopilotToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Editor-Version", "vscode/"+clientVersion)
	req.Header.Set("Editor-Plugin-Version", editorPluginVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Openai-Intent", "conversation-panel")
	req.Header.Set("X-Github-Api-Version", githubAPIVersion)
	req.Header.Set("X-Request-Id", uuid.New().String())
}

// ExchangeCopilotToken trades the long-lived GitHub credential for a
// short-lived Copilot bearer token plus its refresh interval.
func (c *Client) ExchangeCopilotToken(ctx context.Context, githubToken, clientVersion string) (*CopilotTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.githubBaseURL+"/copilot_internal/v2/token", nil)
	if err != nil {
		return nil, err
	}
	c.githubHeaders(req, githubToken, clientVersion)

	var token CopilotTokenResponse
	if err := c.doJSON(req, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// FetchUser resolves the GitHub login behind a credential.
func (c *Client) FetchUser(ctx context.Context, githubToken string) (*GithubUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.githubBaseURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+githubToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	var user GithubUser
	if err := c.doJSON(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FetchModels retrieves the capability catalog visible to one account.
func (c *Client) FetchModels(ctx context.Context, sess Session, clientVersion string) (*ModelsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.copilotBase(sess)+"/models", nil)
	if err != nil {
		return nil, err
	}
	c.copilotHeaders(req, sess, clientVersion)

	var models ModelsResponse
	if err := c.doJSON(req, &models); err != nil {
		return nil, err
	}
	return &models, nil
}

// FetchUsage reads the account's quota snapshots.
func (c *Client) FetchUsage(ctx context.Context, sess Session, clientVersion string) (*UsageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.githubBaseURL+"/copilot_internal/user", nil)
	if err != nil {
		return nil, err
	}
	c.githubHeaders(req, sess.GithubToken, clientVersion)

	var usage UsageResponse
	if err := c.doJSON(req, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// ChatCompletions forwards a chat payload to Copilot. The caller owns the
// returned response body: a single JSON document when payload.Stream is
// false, an SSE stream otherwise. Non-2xx statuses are returned as-is so
// handlers can forward status and body.
func (c *Client) ChatCompletions(ctx context.Context, sess Session, payload *ChatCompletionsPayload, clientVersion string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	if util.IsVerbose() {
		log.Printf("[upstream] chat payload: %s", util.TruncateBytes(body))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.copilotBase(sess)+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.copilotHeaders(req, sess, clientVersion)
	req.Header.Set("X-Initiator", initiator(payload.Messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	return resp, nil
}

// Embeddings forwards an embedding request to Copilot.
func (c *Client) Embeddings(ctx context.Context, sess Session, payload *EmbeddingRequest, clientVersion string) (*EmbeddingResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.copilotBase(sess)+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.copilotHeaders(req, sess, clientVersion)

	var embeddings EmbeddingResponse
	if err := c.doJSON(req, &embeddings); err != nil {
		return nil, err
	}
	return &embeddings, nil
}

// initiator reports "agent" when any non-user message is in the transcript,
// "user" otherwise.
func initiator(messages []Message) string {
	for _, m := range messages {
		if m.Role == "tool" || m.Role == "assistant" {
			return "agent"
		}
	}
	return "user"
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}
