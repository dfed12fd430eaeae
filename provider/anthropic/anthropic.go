// Package anthropic adapts the Anthropic Messages API to the relay adapter
// seam.
package anthropic

import (
	"encoding/json"
	"strings"
	"time"

	"llmrelay/config"
	"llmrelay/domain"
	"llmrelay/relay"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	defaultMaxTok  = 4096
)

// Adapter implements relay.Adapter for the Messages API.
type Adapter struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	version string
}

var _ relay.Adapter = (*Adapter)(nil)

// New creates an adapter from provider configuration.
func New(cfg config.ProviderConfig) *Adapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}
	return &Adapter{
		name:    name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		version: defaultVersion,
	}
}

// Name implements relay.Adapter.
func (a *Adapter) Name() string { return a.name }

// Endpoint implements relay.Adapter.
func (a *Adapter) Endpoint() string { return a.baseURL + "/v1/messages" }

// StreamFraming implements relay.Adapter. The API streams typed SSE events.
func (a *Adapter) StreamFraming() bool { return true }

// AuthHeaders implements relay.Adapter. The version header must follow the
// key header; the API rejects versionless requests.
func (a *Adapter) AuthHeaders() []relay.Header {
	return []relay.Header{
		{Key: "x-api-key", Value: a.apiKey},
		{Key: "anthropic-version", Value: a.version},
	}
}

// MapError implements relay.Adapter, surfacing the API's structured error
// message when present.
func (a *Adapter) MapError(status int, body []byte) error {
	var wrapper struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		body = []byte(wrapper.Error.Message)
	}
	return relay.MapStatusError(status, body)
}

// --- wire types ---

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []wireTool    `json:"tools,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
	Thinking  *wireThinking `json:"thinking,omitempty"`
}

type wireThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireResponse struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
	Usage   wireUsage     `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// BuildRequest implements relay.Adapter.
func (a *Adapter) BuildRequest(req domain.ChatRequest) ([]byte, error) {
	if req.Model == "" {
		req.Model = a.model
	}

	wr := wireRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if wr.MaxTokens <= 0 {
		wr.MaxTokens = defaultMaxTok
	}
	if req.ThinkingBudget > 0 {
		wr.Thinking = &wireThinking{Type: "enabled", BudgetTokens: req.ThinkingBudget}
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			wr.System = m.Content
			continue
		}

		if m.Role == domain.RoleTool {
			wr.Messages = append(wr.Messages, wireMessage{
				Role: "user",
				Content: []wireContent{{
					Type:      "tool_result",
					ToolUseID: toolCallID(m),
					Content:   m.Content,
				}},
			})
			continue
		}

		wm := wireMessage{Role: m.Role}
		if m.Thinking != "" {
			wm.Content = append(wm.Content, wireContent{Type: "thinking", Thinking: m.Thinking})
		}
		if len(m.ToolCalls) > 0 {
			if m.Content != "" {
				wm.Content = append(wm.Content, wireContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				wm.Content = append(wm.Content, wireContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
		} else {
			wm.Content = append(wm.Content, wireContent{Type: "text", Text: m.Content})
		}
		wr.Messages = append(wr.Messages, wm)
	}

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return json.Marshal(wr)
}

func toolCallID(m domain.Message) string {
	if len(m.ToolCalls) > 0 {
		return m.ToolCalls[0].ID
	}
	return ""
}

// ParseResponse implements relay.Adapter.
func (a *Adapter) ParseResponse(body []byte) (*domain.ChatResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, err
	}

	result := &domain.ChatResponse{
		ID:    wr.ID,
		Model: wr.Model,
		Usage: domain.Usage{
			PromptTokens:     wr.Usage.InputTokens,
			CompletionTokens: wr.Usage.OutputTokens,
			TotalTokens:      wr.Usage.InputTokens + wr.Usage.OutputTokens,
		},
		CreatedAt: time.Now(),
	}

	msg := domain.Message{Role: domain.RoleAssistant, Timestamp: result.CreatedAt}
	for _, block := range wr.Content {
		switch block.Type {
		case "text":
			msg.Content = block.Text
		case "thinking":
			msg.Thinking = block.Thinking
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	result.Message = msg
	return result, nil
}

// --- streaming wire types ---

type wireStreamEvent struct {
	Type  string          `json:"type"`
	Index int             `json:"index"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Usage json.RawMessage `json:"usage,omitempty"`

	// content_block_start fields
	ContentBlock *wireContent `json:"content_block,omitempty"`
}

type wireDeltaText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireDeltaToolInput struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type wireDeltaThinking struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

type wireDeltaMessage struct {
	StopReason string `json:"stop_reason"`
}

// DecodeChunk implements relay.Adapter. Every event type carries its own
// "type" tag in the payload, so no cross-event state is needed here: tool
// input fragments are keyed by the content block index and assembled by the
// stream pipeline.
func (a *Adapter) DecodeChunk(data []byte) (*domain.StreamChunk, error) {
	var evt wireStreamEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}

	chunk := &domain.StreamChunk{}
	switch evt.Type {
	case "content_block_delta":
		var delta domain.ChunkDelta
		var td wireDeltaText
		var tk wireDeltaThinking
		var ti wireDeltaToolInput
		switch {
		case json.Unmarshal(evt.Delta, &td) == nil && td.Type == "text_delta":
			delta.Content = td.Text
		case json.Unmarshal(evt.Delta, &tk) == nil && tk.Type == "thinking_delta":
			delta.Thinking = tk.Thinking
		case json.Unmarshal(evt.Delta, &ti) == nil && ti.Type == "input_json_delta":
			delta.ToolCallDeltas = []domain.ToolCallDelta{{
				Index:     evt.Index,
				Arguments: ti.PartialJSON,
			}}
		}
		chunk.Choices = []domain.ChunkChoice{{Delta: delta}}

	case "content_block_start":
		if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
			chunk.Choices = []domain.ChunkChoice{{Delta: domain.ChunkDelta{
				ToolCallDeltas: []domain.ToolCallDelta{{
					Index: evt.Index,
					ID:    evt.ContentBlock.ID,
					Name:  evt.ContentBlock.Name,
				}},
			}}}
		}

	case "message_delta":
		choice := domain.ChunkChoice{FinishReason: "stop"}
		var dm wireDeltaMessage
		if err := json.Unmarshal(evt.Delta, &dm); err == nil && dm.StopReason != "" {
			choice.FinishReason = mapStopReason(dm.StopReason)
		}
		chunk.Choices = []domain.ChunkChoice{choice}
		if len(evt.Usage) > 0 {
			var u wireUsage
			if err := json.Unmarshal(evt.Usage, &u); err == nil {
				chunk.Usage = &domain.Usage{
					PromptTokens:     u.InputTokens,
					CompletionTokens: u.OutputTokens,
					TotalTokens:      u.InputTokens + u.OutputTokens,
				}
			}
		}
	}

	// message_start, message_stop, content_block_stop and ping events decode
	// to empty chunks.
	return chunk, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}
