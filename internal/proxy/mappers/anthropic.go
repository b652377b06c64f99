// Package mappers translates between the Anthropic messages protocol and
// the OpenAI chat-completions protocol spoken by the backend.
package mappers

import (
	"encoding/json"
	"strings"

	"github.com/pysugar/copilot-nexus/internal/upstream"
)

// AnthropicMessagesRequest is the inbound Anthropic-style request body.
type AnthropicMessagesRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	System        AnthropicSystem    `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Tools         []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
	Metadata      *AnthropicMetadata `json:"metadata,omitempty"`
}

// AnthropicMetadata carries the caller-supplied user id.
type AnthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// AnthropicSystem is either a plain string or a list of text blocks on the
// wire. The original shape is preserved for round-tripping.
type AnthropicSystem struct {
	Text   string
	Blocks []AnthropicContentBlock
	IsText bool
}

func (s *AnthropicSystem) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		s.IsText = true
		return nil
	}
	s.IsText = false
	return json.Unmarshal(data, &s.Blocks)
}

func (s AnthropicSystem) MarshalJSON() ([]byte, error) {
	if s.IsText {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Blocks)
}

// TextContent flattens the system prompt to plain text.
func (s AnthropicSystem) TextContent() string {
	if s.IsText {
		return s.Text
	}
	var parts []string
	for _, block := range s.Blocks {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// IsEmpty reports whether no system prompt was supplied.
func (s AnthropicSystem) IsEmpty() bool {
	return !s.IsText && len(s.Blocks) == 0 || s.IsText && s.Text == ""
}

// AnthropicMessage is one conversation turn. Content is either a plain
// string or a block list.
type AnthropicMessage struct {
	Role    string                  `json:"role"`
	Content AnthropicMessageContent `json:"content"`
}

// AnthropicMessageContent mirrors the string-or-blocks content union.
type AnthropicMessageContent struct {
	Text   string
	Blocks []AnthropicContentBlock
	IsText bool
}

func (c *AnthropicMessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.IsText = true
		return nil
	}
	c.IsText = false
	return json.Unmarshal(data, &c.Blocks)
}

func (c AnthropicMessageContent) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

// AnthropicContentBlock is a single typed block: text, image, tool_use or
// tool_result.
type AnthropicContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *AnthropicImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// AnthropicImageSource is a base64 image payload.
type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// AnthropicTool declares a callable tool with a JSON schema for its input.
type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// AnthropicToolChoice selects the tool-use mode.
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// AnthropicResponse is the non-streaming Anthropic-style response.
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Model        string                  `json:"model"`
	Content      []AnthropicContentBlock `json:"content"`
	StopReason   string                  `json:"stop_reason,omitempty"`
	StopSequence *string                 `json:"stop_sequence"`
	Usage        AnthropicUsage          `json:"usage"`
}

// AnthropicUsage reports token accounting.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicToOpenAI translates an inbound Anthropic request into the
// backend's chat-completions shape. The system prompt becomes a leading
// system message; tool_use blocks become assistant tool_calls; tool_result
// blocks become tool-role messages keyed by tool_use_id.
func AnthropicToOpenAI(req *AnthropicMessagesRequest) *upstream.ChatCompletionsPayload {
	payload := &upstream.ChatCompletionsPayload{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		payload.MaxTokens = &maxTokens
	}
	if len(req.StopSequences) > 0 {
		payload.Stop = req.StopSequences
	}
	if req.Metadata != nil {
		payload.User = req.Metadata.UserID
	}

	if !req.System.IsEmpty() {
		payload.Messages = append(payload.Messages, upstream.Message{
			Role:    "system",
			Content: upstream.Text(req.System.TextContent()),
		})
	}

	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, convertAnthropicMessage(msg)...)
	}

	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, upstream.Tool{
			Type: "function",
			Function: upstream.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	if req.ToolChoice != nil {
		payload.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	return payload
}

// convertAnthropicMessage maps one Anthropic turn onto one or more OpenAI
// messages. tool_result blocks split into standalone tool-role messages
// because the backend protocol has no block-level results.
func convertAnthropicMessage(msg AnthropicMessage) []upstream.Message {
	if msg.Content.IsText {
		return []upstream.Message{{Role: msg.Role, Content: upstream.Text(msg.Content.Text)}}
	}

	var out []upstream.Message
	var textParts []upstream.ContentPart
	var toolCalls []upstream.ToolCall

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case "text":
			textParts = append(textParts, upstream.ContentPart{Type: "text", Text: block.Text})
		case "image":
			if block.Source != nil {
				url := "data:" + block.Source.MediaType + ";base64," + block.Source.Data
				textParts = append(textParts, upstream.ContentPart{
					Type:     "image_url",
					ImageURL: &upstream.ImageURL{URL: url},
				})
			}
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			toolCalls = append(toolCalls, upstream.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: upstream.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		case "tool_result":
			out = append(out, upstream.Message{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    upstream.Text(flattenToolResult(block.Content)),
			})
		}
	}

	if len(textParts) > 0 || len(toolCalls) > 0 {
		m := upstream.Message{Role: msg.Role, ToolCalls: toolCalls}
		if len(textParts) == 1 && textParts[0].Type == "text" {
			m.Content = upstream.Text(textParts[0].Text)
		} else if len(textParts) > 0 {
			m.Content = upstream.MessageContent{Parts: textParts}
		}
		out = append(out, m)
	}
	return out
}

// flattenToolResult renders a tool_result payload as plain text. A string
// passes through; a block list concatenates its text blocks; anything else
// is carried as raw JSON.
func flattenToolResult(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(content, &blocks); err == nil {
		var parts []string
		for _, block := range blocks {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(content)
}

func convertToolChoice(choice *AnthropicToolChoice) json.RawMessage {
	switch choice.Type {
	case "auto":
		return json.RawMessage(`"auto"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "tool":
		raw, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice.Name},
		})
		return raw
	case "none":
		return json.RawMessage(`"none"`)
	}
	return nil
}

// OpenAIToAnthropic translates a complete backend response into the
// Anthropic messages shape. Assistant text becomes a text block; each tool
// call becomes a tool_use block with its arguments parsed back to an object.
func OpenAIToAnthropic(resp *upstream.ChatCompletionResponse) *AnthropicResponse {
	out := &AnthropicResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	if len(resp.Choices) == 0 {
		out.Content = []AnthropicContentBlock{}
		return out
	}
	choice := resp.Choices[0]

	if text := choice.Message.Content; text != "" {
		out.Content = append(out.Content, AnthropicContentBlock{Type: "text", Text: text})
	}
	for _, call := range choice.Message.ToolCalls {
		input := json.RawMessage(call.Function.Arguments)
		if !json.Valid(input) || len(input) == 0 {
			input = json.RawMessage("{}")
		}
		out.Content = append(out.Content, AnthropicContentBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	if out.Content == nil {
		out.Content = []AnthropicContentBlock{}
	}

	finishReason := ""
	if choice.FinishReason != nil {
		finishReason = *choice.FinishReason
	}
	out.StopReason = mapStopReason(finishReason)
	return out
}

// mapStopReason maps OpenAI finish reasons onto Anthropic stop reasons.
// Unknown values default to end_turn.
func mapStopReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "end_turn"
	case "":
		return ""
	default:
		return "end_turn"
	}
}
