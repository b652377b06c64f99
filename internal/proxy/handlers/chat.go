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
	"github.com/pysugar/copilot-nexus/internal/proxy/middleware"
	"github.com/pysugar/copilot-nexus/internal/upstream"
	"github.com/pysugar/copilot-nexus/internal/util"
)

// OpenAIChatHandler handles /v1/chat/completions. The backend already
// speaks this protocol, so translation is a no-op; the handler's job is
// account routing, admission and stream relaying.
func OpenAIChatHandler(accountPool *pool.Pool, g *gate.Gate, backend *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestId := GetOrGenerateRequestID(r)

		var payload upstream.ChatCompletionsPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeOpenAIError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		if util.IsVerbose() {
			payloadBytes, _ := json.Marshal(payload)
			log.Printf("[VERBOSE] [%s] /v1/chat/completions request: %s", requestId, util.TruncateBytes(payloadBytes))
		}

		conversationID := convo.DeriveID(convo.Options{
			UserID:   payload.User,
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
			writeRoutingError(w, writeOpenAIError, requestId, err)
			return
		}
		fillMaxTokens(&payload, account)

		resp, err := backend.ChatCompletions(r.Context(), account.Session(), &payload, accountPool.ClientVersion())
		if err != nil {
			writeRoutingError(w, writeOpenAIError, requestId, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			log.Printf("[%s] [%s] backend error (status %d): %s", requestId, account.ID, resp.StatusCode, util.TruncateBytes(body))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resp.StatusCode)
			w.Write(body)
			return
		}

		if payload.Stream {
			relayOpenAIStream(w, resp, requestId)
			return
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			writeOpenAIError(w, "Upstream read error: "+err.Error(), http.StatusBadGateway)
			return
		}
		if util.IsVerbose() {
			log.Printf("[VERBOSE] [%s] /v1/chat/completions response: %s", requestId, util.TruncateBytes(body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// relayOpenAIStream forwards backend SSE frames verbatim, flushing per
// event. The request context cancels the copy when the client disconnects.
func relayOpenAIStream(w http.ResponseWriter, resp *http.Response, requestId string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeOpenAIError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	SetSSEHeaders(w)

	// Large frames happen with big tool schemas, so the buffer is generous.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		fmt.Fprintf(w, "%s\n\n", line)
		flusher.Flush()
		if strings.TrimPrefix(line, "data: ") == "[DONE]" {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[%s] stream relay ended: %v", requestId, err)
	}
}
