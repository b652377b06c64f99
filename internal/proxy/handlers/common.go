// Package handlers implements the HTTP surface: the OpenAI-compatible and
// Anthropic-compatible inference endpoints plus the management API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/pysugar/copilot-nexus/internal/gate"
	"github.com/pysugar/copilot-nexus/internal/pool"
	"github.com/pysugar/copilot-nexus/internal/upstream"
)

// accountHeader pins a request to one account, bypassing rotation.
const accountHeader = "X-Nexus-Account"

// GetOrGenerateRequestID uses the client-provided X-Request-ID when present,
// otherwise mints one.
func GetOrGenerateRequestID(r *http.Request) string {
	if requestId := r.Header.Get("X-Request-ID"); requestId != "" {
		return requestId
	}
	return "agent-" + uuid.New().String()
}

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeOpenAIError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    openAIErrorType(status),
		},
	})
}

func openAIErrorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func writeAnthropicError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    anthropicErrorType(status),
			"message": message,
		},
	})
}

func anthropicErrorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusServiceUnavailable:
		return "overloaded_error"
	default:
		if status >= 400 && status < 500 {
			return "invalid_request_error"
		}
		return "api_error"
	}
}

// errorWriter abstracts over the two error dialects so the routing and
// upstream plumbing is shared between the OpenAI and Anthropic handlers.
type errorWriter func(w http.ResponseWriter, message string, status int)

// writeRoutingError maps pool, gate and backend failures onto the right
// status for the caller's dialect. Backend HTTP errors forward their status
// and body untouched so clients see the backend's own diagnostics.
func writeRoutingError(w http.ResponseWriter, writeErr errorWriter, requestId string, err error) {
	var httpErr *upstream.HTTPError
	switch {
	case errors.Is(err, pool.ErrNoAccounts):
		writeErr(w, "no accounts available", http.StatusServiceUnavailable)
	case errors.Is(err, pool.ErrClientVersionNotSet):
		writeErr(w, "service not initialized", http.StatusServiceUnavailable)
	case errors.Is(err, gate.ErrNotApproved):
		writeErr(w, "request rejected by operator", http.StatusForbidden)
	case errors.As(err, &httpErr):
		log.Printf("[%s] backend error (status %d): %s", requestId, httpErr.StatusCode, httpErr.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpErr.StatusCode)
		w.Write([]byte(httpErr.Body))
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		log.Printf("[%s] upstream error: %v", requestId, err)
		writeErr(w, "upstream error: "+err.Error(), http.StatusBadGateway)
	}
}

// selectAccount runs the full admission path for one inference request:
// pick an account (selection makes it ready), pass the rate gate and, when
// manual approval is on, wait for the operator's verdict.
func selectAccount(ctx context.Context, p *pool.Pool, g *gate.Gate, opts pool.SelectOptions) (*pool.Account, error) {
	account, err := p.Select(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := g.Wait(ctx, account.ID); err != nil {
		return nil, err
	}
	if err := g.AwaitApproval(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

// fillMaxTokens defaults max_tokens from the account's model catalog when
// the client omitted it. Unknown models are left alone.
func fillMaxTokens(payload *upstream.ChatCompletionsPayload, account *pool.Account) {
	if payload.MaxTokens != nil || account.Models == nil {
		return
	}
	model := account.Models.Find(payload.Model)
	if model == nil {
		return
	}
	if limit := model.Capabilities.Limits.MaxOutputTokens; limit > 0 {
		payload.MaxTokens = &limit
	}
}
