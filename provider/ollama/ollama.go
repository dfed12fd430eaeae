// Package ollama adapts the native Ollama chat API. Unlike the hosted
// vendors, Ollama streams newline-delimited JSON and reports token counts in
// eval fields on the final line.
package ollama

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"llmrelay/config"
	"llmrelay/domain"
	"llmrelay/relay"
)

const defaultBaseURL = "http://localhost:11434"

// Adapter implements relay.Adapter for the native /api/chat endpoint.
type Adapter struct {
	name    string
	model   string
	baseURL string
}

var _ relay.Adapter = (*Adapter)(nil)

// New creates an adapter from provider configuration. Ollama needs no API
// key.
func New(cfg config.ProviderConfig) *Adapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "ollama"
	}
	return &Adapter{
		name:    name,
		model:   cfg.Model,
		baseURL: baseURL,
	}
}

// Name implements relay.Adapter.
func (a *Adapter) Name() string { return a.name }

// Endpoint implements relay.Adapter.
func (a *Adapter) Endpoint() string { return a.baseURL + "/api/chat" }

// StreamFraming implements relay.Adapter. Streaming responses are NDJSON.
func (a *Adapter) StreamFraming() bool { return true }

// AuthHeaders implements relay.Adapter.
func (a *Adapter) AuthHeaders() []relay.Header { return nil }

// MapError implements relay.Adapter.
func (a *Adapter) MapError(status int, body []byte) error {
	var wrapper struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != "" {
		body = []byte(wrapper.Error)
	}
	return relay.MapStatusError(status, body)
}

// --- wire types ---

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
	Options  *wireOptions  `json:"options,omitempty"`
}

type wireOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Thinking  string         `json:"thinking,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
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

// Tool call arguments arrive as a JSON object, already complete, never as
// string fragments.
type wireToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Model           string      `json:"model"`
	CreatedAt       time.Time   `json:"created_at"`
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

// BuildRequest implements relay.Adapter.
func (a *Adapter) BuildRequest(req domain.ChatRequest) ([]byte, error) {
	if req.Model == "" {
		req.Model = a.model
	}

	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:     m.Role,
			Content:  m.Content,
			Thinking: m.Thinking,
		}
		for _, tc := range m.ToolCalls {
			if m.Role == domain.RoleTool {
				continue
			}
			var wtc wireToolCall
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		msgs = append(msgs, wm)
	}

	wr := wireRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   req.Stream,
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		wr.Options = &wireOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}
	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
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
		Model: wr.Model,
		Usage: domain.Usage{
			PromptTokens:     wr.PromptEvalCount,
			CompletionTokens: wr.EvalCount,
			TotalTokens:      wr.PromptEvalCount + wr.EvalCount,
		},
		CreatedAt: wr.CreatedAt,
	}

	msg := domain.Message{
		Role:      wr.Message.Role,
		Content:   wr.Message.Content,
		Thinking:  wr.Message.Thinking,
		Timestamp: wr.CreatedAt,
	}
	for i, tc := range wr.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:        syntheticCallID(i),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	result.Message = msg
	return result, nil
}

// DecodeChunk implements relay.Adapter. Each NDJSON line has the full
// response shape with a partial message; the final line carries done=true and
// the token counts.
func (a *Adapter) DecodeChunk(data []byte) (*domain.StreamChunk, error) {
	var wr wireResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, err
	}

	delta := domain.ChunkDelta{
		Role:     wr.Message.Role,
		Content:  wr.Message.Content,
		Thinking: wr.Message.Thinking,
	}
	for i, tc := range wr.Message.ToolCalls {
		delta.ToolCallDeltas = append(delta.ToolCallDeltas, domain.ToolCallDelta{
			Index:     i,
			ID:        syntheticCallID(i),
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}

	choice := domain.ChunkChoice{Delta: delta}
	chunk := &domain.StreamChunk{
		Model:   wr.Model,
		Created: wr.CreatedAt.Unix(),
	}
	if wr.Done {
		choice.FinishReason = mapDoneReason(wr.DoneReason)
		chunk.Usage = &domain.Usage{
			PromptTokens:     wr.PromptEvalCount,
			CompletionTokens: wr.EvalCount,
			TotalTokens:      wr.PromptEvalCount + wr.EvalCount,
		}
	}
	chunk.Choices = []domain.ChunkChoice{choice}
	return chunk, nil
}

// syntheticCallID makes up a call id. The native API has no ids; downstream
// consumers still require a non-empty one.
func syntheticCallID(i int) string {
	return fmt.Sprintf("call_%d", i)
}

func mapDoneReason(reason string) string {
	switch reason {
	case "", "stop":
		return "stop"
	case "length":
		return "length"
	default:
		return reason
	}
}
