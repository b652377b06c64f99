package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pysugar/copilot-nexus/internal/proxy/mappers"
)

func TestMessagesNonStreaming(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("Bonjour."))
	handler := AnthropicMessagesHandler(stack.pool, stack.gate, stack.backend)

	body := `{"model":"gpt-5","max_tokens":128,"system":"Reply in French.","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp mappers.AnthropicResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Type != "message" || resp.Role != "assistant" {
		t.Errorf("envelope = %+v", resp)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "Bonjour." {
		t.Errorf("content = %+v", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q", resp.StopReason)
	}

	// The backend must have seen the translated OpenAI shape.
	sent := stack.chatRequests[0]
	if sent.Messages[0].Role != "system" {
		t.Errorf("first backend message role = %q, want system", sent.Messages[0].Role)
	}
	if sent.MaxTokens == nil || *sent.MaxTokens != 128 {
		t.Errorf("max_tokens = %v, want 128", sent.MaxTokens)
	}
}

func TestMessagesStreaming(t *testing.T) {
	stack := newTestStack(t,
		respondChatSSE(
			`{"id":"chatcmpl-1","model":"gpt-5","choices":[{"index":0,"delta":{"role":"assistant","content":"Bon"}}]}`,
			`{"id":"chatcmpl-1","model":"gpt-5","choices":[{"index":0,"delta":{"content":"jour"}}]}`,
			`{"id":"chatcmpl-1","model":"gpt-5","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2}}`,
		),
	)
	handler := AnthropicMessagesHandler(stack.pool, stack.gate, stack.backend)

	body := `{"model":"gpt-5","max_tokens":128,"stream":true,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	out := rec.Body.String()
	for _, eventName := range []string{
		"event: message_start",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
	} {
		if !strings.Contains(out, eventName) {
			t.Errorf("stream missing %q:\n%s", eventName, out)
		}
	}
	if !strings.Contains(out, `"text":"Bon"`) || !strings.Contains(out, `"text":"jour"`) {
		t.Errorf("text deltas missing:\n%s", out)
	}
	if !strings.Contains(out, `"stop_reason":"end_turn"`) {
		t.Errorf("stop_reason missing:\n%s", out)
	}
	if strings.Contains(out, "[DONE]") {
		t.Error("backend terminator leaked into the Anthropic stream")
	}
}

func TestMessagesBackendErrorTranslated(t *testing.T) {
	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"model not supported"}}`))
	})
	handler := AnthropicMessagesHandler(stack.pool, stack.gate, stack.backend)

	body := `{"model":"gpt-5","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if errResp.Type != "error" || errResp.Error.Message != "model not supported" {
		t.Errorf("error body = %s", rec.Body.String())
	}
}

func TestMessagesInvalidBody(t *testing.T) {
	stack := newTestStack(t, respondChatJSON("x"))
	handler := AnthropicMessagesHandler(stack.pool, stack.gate, stack.backend)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
