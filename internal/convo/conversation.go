// Package convo derives a stable conversation identity from request context
// so repeated calls in one logical session route to the same account.
package convo

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/pysugar/copilot-nexus/internal/upstream"
)

// sessionHeaders are checked in order when no explicit id is supplied.
var sessionHeaders = []string{
	"x-request-id",
	"x-session-id",
	"x-client-id",
	"x-conversation-id",
	"x-title",
	"x-referer",
	"referer",
	"http-referer",
	"origin",
}

// Options is the request context DeriveID inspects.
type Options struct {
	ExplicitID   string
	UserID       string
	APIKey       string
	Header       http.Header
	Messages     []upstream.Message
	FallbackText string
}

// DeriveID resolves a conversation identity, first match wins: explicit id,
// payload user id, session-hinting headers, the resolved gateway API key,
// then a short hash of the first user message's text. Returns "" when
// nothing applies; the request is then treated as anonymous and no binding
// is recorded.
func DeriveID(opts Options) string {
	if opts.ExplicitID != "" {
		return opts.ExplicitID
	}
	if opts.UserID != "" {
		return opts.UserID
	}
	if opts.Header != nil {
		for _, name := range sessionHeaders {
			if v := opts.Header.Get(name); v != "" {
				return v
			}
		}
	}
	if opts.APIKey != "" {
		return opts.APIKey
	}

	text := opts.FallbackText
	if text == "" {
		text = firstUserMessageText(opts.Messages)
	}
	if text != "" {
		return "msg-" + hashText(text)
	}
	return ""
}

func firstUserMessageText(messages []upstream.Message) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		return m.Content.TextContent()
	}
	return ""
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}
