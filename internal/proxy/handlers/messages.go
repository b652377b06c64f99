package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/pysugar/copilot-nexus/internal/convo"
	"github.com/pysugar/copilot-nexus/internal/gate"
	"github.com/pysugar/copilot-nexus/internal/pool"
	"github.com/pysugar/copilot-nexus/internal/proxy/mappers"
	"github.com/pysugar/copilot-nexus/internal/proxy/middleware"
	"github.com/pysugar/copilot-nexus/internal/upstream"
	"github.com/pysugar/copilot-nexus/internal/util"
)

// AnthropicMessagesHandler handles /v1/messages (also mounted under
// /anthropic/v1). Requests translate to the backend's chat-completions
// shape; responses translate back, streaming included.
func AnthropicMessagesHandler(accountPool *pool.Pool, g *gate.Gate, backend *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestId := GetOrGenerateRequestID(r)

		var req mappers.AnthropicMessagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAnthropicError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		payload := mappers.AnthropicToOpenAI(&req)

		if util.IsVerbose() {
			payloadBytes, _ := json.Marshal(payload)
			log.Printf("[VERBOSE] [%s] /v1/messages translated request: %s", requestId, util.TruncateBytes(payloadBytes))
		}

		userID := ""
		if req.Metadata != nil {
			userID = req.Metadata.UserID
		}
		conversationID := convo.DeriveID(convo.Options{
			UserID:   userID,
			APIKey:   middleware.APIKeyFromContext(r.Context()),
			Header:   r.Header,
			Messages: payload.Messages,
		})

		account, err := selectAccount(r.Context(), accountPool, g, pool.SelectOptions{
			ExplicitAccountID: r.Header.Get(accountHeader),
			ConversationID:    conversationID,
			Model:             payload.Model,
		})
		if err != nil {
			writeRoutingError(w, writeAnthropicError, requestId, err)
			return
		}
		fillMaxTokens(payload, account)

		resp, err := backend.ChatCompletions(r.Context(), account.Session(), payload, accountPool.ClientVersion())
		if err != nil {
			writeRoutingError(w, writeAnthropicError, requestId, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			log.Printf("[%s] [%s] backend error (status %d): %s", requestId, account.ID, resp.StatusCode, util.TruncateBytes(body))
			writeAnthropicError(w, backendErrorMessage(body), resp.StatusCode)
			return
		}

		if req.Stream {
			translateAnthropicStream(w, resp, requestId)
			return
		}

		var chatResp upstream.ChatCompletionResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			writeAnthropicError(w, "Response conversion error", http.StatusInternalServerError)
			return
		}

		out := mappers.OpenAIToAnthropic(&chatResp)
		if util.IsVerbose() {
			outBytes, _ := json.Marshal(out)
			log.Printf("[VERBOSE] [%s] /v1/messages response: %s", requestId, util.TruncateBytes(outBytes))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// backendErrorMessage pulls the human message out of a backend error body,
// falling back to the raw body.
func backendErrorMessage(body []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return string(body)
}

// translateAnthropicStream reads backend SSE chunks and re-emits them as
// Anthropic stream events through a fresh StreamState.
func translateAnthropicStream(w http.ResponseWriter, resp *http.Response, requestId string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAnthropicError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	SetSSEHeaders(w)

	state := mappers.NewStreamState()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk upstream.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			if util.IsVerbose() {
				log.Printf("[VERBOSE] [%s] stream parse error: %v", requestId, err)
			}
			continue
		}

		emitAnthropicEvents(w, flusher, state.Translate(&chunk))
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[%s] stream translation ended: %v", requestId, err)
		return
	}

	emitAnthropicEvents(w, flusher, state.Finish())
}

func emitAnthropicEvents(w http.ResponseWriter, flusher http.Flusher, events []mappers.AnthropicStreamEvent) {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	}
	if len(events) > 0 {
		flusher.Flush()
	}
}
