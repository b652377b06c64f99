package mappers

import (
	"encoding/json"

	"github.com/pysugar/copilot-nexus/internal/upstream"
)

// AnthropicStreamEvent is one SSE event on the Anthropic-style stream. The
// Type field doubles as the SSE event name.
type AnthropicStreamEvent struct {
	Type string `json:"type"`

	// message_start
	Message *AnthropicResponse `json:"message,omitempty"`

	// content_block_start / content_block_delta / content_block_stop
	Index        *int                   `json:"index,omitempty"`
	ContentBlock *AnthropicContentBlock `json:"content_block,omitempty"`
	Delta        *AnthropicStreamDelta  `json:"delta,omitempty"`

	// message_delta
	Usage *AnthropicUsage `json:"usage,omitempty"`
}

// AnthropicStreamDelta is the delta payload of content_block_delta and
// message_delta events.
type AnthropicStreamDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`

	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// StreamState translates one backend chunk stream into Anthropic stream
// events. It enforces the event grammar: message_start exactly once, at most
// one content block open at a time, block indices sequential from zero, and
// a single message_delta plus message_stop at the end. One StreamState per
// response; it is not safe for concurrent use.
type StreamState struct {
	messageStartSent bool
	blockIndex       int
	blockOpen        bool
	blockIsTool      bool

	// toolBlocks maps the backend's per-call index onto the Anthropic
	// block index it was assigned.
	toolBlocks map[int]int

	finishReason string
	usage        *toUsage
}

type toUsage struct {
	input  int
	output int
}

// NewStreamState returns a fresh translator for one streamed response.
func NewStreamState() *StreamState {
	return &StreamState{toolBlocks: make(map[int]int)}
}

// Translate consumes one backend chunk and returns zero or more Anthropic
// events to emit, in order. Chunks carrying neither content, tool deltas,
// finish reason nor usage produce nothing.
func (s *StreamState) Translate(chunk *upstream.ChatCompletionChunk) []AnthropicStreamEvent {
	var events []AnthropicStreamEvent

	if !s.messageStartSent {
		events = append(events, AnthropicStreamEvent{
			Type: "message_start",
			Message: &AnthropicResponse{
				ID:      chunk.ID,
				Type:    "message",
				Role:    "assistant",
				Model:   chunk.Model,
				Content: []AnthropicContentBlock{},
				Usage:   AnthropicUsage{},
			},
		})
		s.messageStartSent = true
	}

	if chunk.Usage != nil {
		s.usage = &toUsage{input: chunk.Usage.PromptTokens, output: chunk.Usage.CompletionTokens}
	}

	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		events = append(events, s.textDelta(choice.Delta.Content)...)
	}

	for _, call := range choice.Delta.ToolCalls {
		events = append(events, s.toolDelta(call)...)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.finishReason = *choice.FinishReason
	}

	return events
}

// textDelta routes text into the open text block, opening one (and closing
// any open tool block) as needed.
func (s *StreamState) textDelta(text string) []AnthropicStreamEvent {
	var events []AnthropicStreamEvent

	if s.blockOpen && s.blockIsTool {
		events = append(events, s.closeBlock())
	}
	if !s.blockOpen {
		idx := s.blockIndex
		events = append(events, AnthropicStreamEvent{
			Type:         "content_block_start",
			Index:        &idx,
			ContentBlock: &AnthropicContentBlock{Type: "text", Text: ""},
		})
		s.blockOpen = true
		s.blockIsTool = false
	}

	idx := s.blockIndex
	events = append(events, AnthropicStreamEvent{
		Type:  "content_block_delta",
		Index: &idx,
		Delta: &AnthropicStreamDelta{Type: "text_delta", Text: text},
	})
	return events
}

// toolDelta routes one tool-call fragment. A new backend tool index opens a
// fresh tool_use block, closing whatever was open; argument fragments stream
// as input_json_delta into the block bound to that index while it is still
// the open block, and are dropped once it has closed.
func (s *StreamState) toolDelta(call upstream.ToolCallDelta) []AnthropicStreamEvent {
	var events []AnthropicStreamEvent

	_, known := s.toolBlocks[call.Index]
	if !known {
		if s.blockOpen {
			events = append(events, s.closeBlock())
		}
		idx := s.blockIndex
		s.toolBlocks[call.Index] = idx
		events = append(events, AnthropicStreamEvent{
			Type:  "content_block_start",
			Index: &idx,
			ContentBlock: &AnthropicContentBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: json.RawMessage("{}"),
			},
		})
		s.blockOpen = true
		s.blockIsTool = true
	}

	if call.Function.Arguments != "" {
		idx := s.toolBlocks[call.Index]
		if !s.blockOpen || idx != s.blockIndex {
			// The block bound to this index already closed; dropping the
			// late fragment keeps at most one block open.
			return events
		}
		events = append(events, AnthropicStreamEvent{
			Type:  "content_block_delta",
			Index: &idx,
			Delta: &AnthropicStreamDelta{Type: "input_json_delta", PartialJSON: call.Function.Arguments},
		})
	}
	return events
}

// closeBlock emits content_block_stop for the open block and advances the
// index counter.
func (s *StreamState) closeBlock() AnthropicStreamEvent {
	idx := s.blockIndex
	s.blockOpen = false
	s.blockIndex++
	return AnthropicStreamEvent{Type: "content_block_stop", Index: &idx}
}

// Finish closes any open block and emits the terminal message_delta and
// message_stop pair. Call exactly once, after the backend stream ends.
func (s *StreamState) Finish() []AnthropicStreamEvent {
	var events []AnthropicStreamEvent

	if !s.messageStartSent {
		events = append(events, AnthropicStreamEvent{
			Type: "message_start",
			Message: &AnthropicResponse{
				Type:    "message",
				Role:    "assistant",
				Content: []AnthropicContentBlock{},
			},
		})
		s.messageStartSent = true
	}
	if s.blockOpen {
		events = append(events, s.closeBlock())
	}

	stopReason := mapStopReason(s.finishReason)
	if stopReason == "" {
		stopReason = "end_turn"
	}
	delta := AnthropicStreamEvent{
		Type:  "message_delta",
		Delta: &AnthropicStreamDelta{StopReason: stopReason},
	}
	if s.usage != nil {
		delta.Usage = &AnthropicUsage{InputTokens: s.usage.input, OutputTokens: s.usage.output}
	}
	events = append(events, delta)
	events = append(events, AnthropicStreamEvent{Type: "message_stop"})
	return events
}
