package convo

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pysugar/copilot-nexus/internal/upstream"
)

func TestDeriveIDExplicitWins(t *testing.T) {
	h := http.Header{}
	h.Set("x-session-id", "sess-1")

	id := DeriveID(Options{ExplicitID: "conv-42", UserID: "user-1", Header: h})
	if id != "conv-42" {
		t.Errorf("DeriveID() = %q, want conv-42", id)
	}
}

func TestDeriveIDUserBeforeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-session-id", "sess-1")

	id := DeriveID(Options{UserID: "user-1", Header: h})
	if id != "user-1" {
		t.Errorf("DeriveID() = %q, want user-1", id)
	}
}

func TestDeriveIDHeaderOrder(t *testing.T) {
	h := http.Header{}
	h.Set("x-conversation-id", "conv-h")
	h.Set("x-session-id", "sess-h")

	// x-session-id is checked before x-conversation-id.
	id := DeriveID(Options{Header: h})
	if id != "sess-h" {
		t.Errorf("DeriveID() = %q, want sess-h", id)
	}
}

func TestDeriveIDAPIKeyBeforeMessageHash(t *testing.T) {
	messages := []upstream.Message{{Role: "user", Content: upstream.Text("hello")}}

	id := DeriveID(Options{APIKey: "cak_test", Messages: messages})
	if id != "cak_test" {
		t.Errorf("DeriveID() = %q, want cak_test", id)
	}
}

func TestDeriveIDMessageHashStable(t *testing.T) {
	messages := []upstream.Message{
		{Role: "system", Content: upstream.Text("be brief")},
		{Role: "user", Content: upstream.Text("what is the capital of France?")},
	}

	first := DeriveID(Options{Messages: messages})
	second := DeriveID(Options{Messages: messages})

	if first == "" {
		t.Fatal("DeriveID() returned empty id for a request with a user message")
	}
	if !strings.HasPrefix(first, "msg-") {
		t.Errorf("DeriveID() = %q, want msg- prefix", first)
	}
	if first != second {
		t.Errorf("DeriveID() not stable: %q vs %q", first, second)
	}
}

func TestDeriveIDSkipsNonUserMessages(t *testing.T) {
	onlySystem := DeriveID(Options{Messages: []upstream.Message{
		{Role: "system", Content: upstream.Text("be brief")},
	}})
	if onlySystem != "" {
		t.Errorf("DeriveID() = %q for system-only messages, want empty", onlySystem)
	}
}

func TestDeriveIDEmpty(t *testing.T) {
	if id := DeriveID(Options{}); id != "" {
		t.Errorf("DeriveID(empty) = %q, want empty", id)
	}
}

func TestDeriveIDDifferentTextsDiffer(t *testing.T) {
	a := DeriveID(Options{FallbackText: "first conversation"})
	b := DeriveID(Options{FallbackText: "second conversation"})
	if a == b {
		t.Errorf("distinct texts mapped to same id %q", a)
	}
}
