// Package openai adapts the OpenAI chat completions API, and by extension any
// OpenAI-compatible endpoint, to the relay adapter seam.
package openai

import (
	"encoding/json"
	"strings"
	"time"

	"llmrelay/config"
	"llmrelay/domain"
	"llmrelay/relay"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Adapter implements relay.Adapter for the chat completions wire format.
type Adapter struct {
	name    string
	model   string
	apiKey  string
	baseURL string
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
		name = "openai"
	}
	return &Adapter{
		name:    name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
	}
}

// Name implements relay.Adapter.
func (a *Adapter) Name() string { return a.name }

// Endpoint implements relay.Adapter.
func (a *Adapter) Endpoint() string { return a.baseURL + "/chat/completions" }

// StreamFraming implements relay.Adapter. The API streams SSE.
func (a *Adapter) StreamFraming() bool { return true }

// AuthHeaders implements relay.Adapter.
func (a *Adapter) AuthHeaders() []relay.Header {
	if a.apiKey == "" {
		return nil
	}
	return []relay.Header{{Key: "Authorization", Value: "Bearer " + a.apiKey}}
}

// MapError implements relay.Adapter using conventional HTTP semantics.
func (a *Adapter) MapError(status int, body []byte) error {
	return relay.MapStatusError(status, body)
}

// --- wire types ---

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function wireCallFunction `json:"function"`
}

type wireCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
	Created int64        `json:"created"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// BuildRequest implements relay.Adapter.
func (a *Adapter) BuildRequest(req domain.ChatRequest) ([]byte, error) {
	if req.Model == "" {
		req.Model = a.model
	}

	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		}

		// Tool result messages carry the originating call id.
		if m.Role == domain.RoleTool && len(m.ToolCalls) > 0 {
			wm.ToolCallID = m.ToolCalls[0].ID
		}

		if len(m.ToolCalls) > 0 && m.Role != domain.RoleTool {
			wm.ToolCalls = make([]wireToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				wm.ToolCalls[i] = wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireCallFunction{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
		}
		msgs = append(msgs, wm)
	}

	wr := wireRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   req.Stream,
	}
	if req.MaxTokens > 0 {
		wr.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		wr.Temperature = &req.Temperature
	}
	if len(req.Tools) > 0 {
		wr.Tools = make([]wireTool, len(req.Tools))
		for i, t := range req.Tools {
			wr.Tools[i] = wireTool{
				Type: "function",
				Function: wireToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
	}

	return json.Marshal(wr)
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
			PromptTokens:     wr.Usage.PromptTokens,
			CompletionTokens: wr.Usage.CompletionTokens,
			TotalTokens:      wr.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(wr.Created, 0),
	}

	if len(wr.Choices) > 0 {
		choice := wr.Choices[0]
		msg := domain.Message{
			Role:      choice.Message.Role,
			Content:   choice.Message.Content,
			Name:      choice.Message.Name,
			Timestamp: result.CreatedAt,
		}
		if len(choice.Message.ToolCalls) > 0 {
			msg.ToolCalls = make([]domain.ToolCall, len(choice.Message.ToolCalls))
			for i, tc := range choice.Message.ToolCalls {
				msg.ToolCalls[i] = domain.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: json.RawMessage(tc.Function.Arguments),
				}
			}
		}
		result.Message = msg
	}
	return result, nil
}

// --- streaming wire types ---

type wireStreamChunk struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Created int64              `json:"created"`
	Choices []wireStreamChoice `json:"choices"`
	Usage   *wireUsage         `json:"usage,omitempty"`
}

type wireStreamChoice struct {
	Index        int             `json:"index"`
	Delta        wireStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type wireStreamDelta struct {
	Role             string         `json:"role,omitempty"`
	Content          string         `json:"content,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty"`
	Thinking         string         `json:"thinking,omitempty"`
	Thought          string         `json:"thought,omitempty"`
	ToolCalls        []wireToolCall `json:"tool_calls,omitempty"`
}

// DecodeChunk implements relay.Adapter.
func (a *Adapter) DecodeChunk(data []byte) (*domain.StreamChunk, error) {
	var wc wireStreamChunk
	if err := json.Unmarshal(data, &wc); err != nil {
		return nil, err
	}

	out := &domain.StreamChunk{
		ID:      wc.ID,
		Model:   wc.Model,
		Created: wc.Created,
	}
	for _, c := range wc.Choices {
		delta := domain.ChunkDelta{
			Role:             c.Delta.Role,
			Content:          c.Delta.Content,
			ReasoningContent: c.Delta.ReasoningContent,
			Reasoning:        c.Delta.Reasoning,
			Thinking:         c.Delta.Thinking,
			Thought:          c.Delta.Thought,
		}
		for _, tc := range c.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			delta.ToolCallDeltas = append(delta.ToolCallDeltas, domain.ToolCallDelta{
				Index:     idx,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		choice := domain.ChunkChoice{Index: c.Index, Delta: delta}
		if c.FinishReason != nil {
			choice.FinishReason = *c.FinishReason
		}
		out.Choices = append(out.Choices, choice)
	}
	if wc.Usage != nil {
		out.Usage = &domain.Usage{
			PromptTokens:     wc.Usage.PromptTokens,
			CompletionTokens: wc.Usage.CompletionTokens,
			TotalTokens:      wc.Usage.TotalTokens,
		}
	}
	return out, nil
}
