package domain

import "context"

// StreamChunk is one incremental fragment of a streamed response.
type StreamChunk struct {
	ID      string        `json:"id"`
	Model   string        `json:"model,omitempty"`
	Created int64         `json:"created,omitempty"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice holds the incremental delta for one choice index.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// ChunkDelta carries the incremental fields emitted for a message.
//
// Content is the primary text field. The four reasoning synonyms exist because
// vendors disagree on the field name for interim reasoning text; the streaming
// pipeline flattens the first non-empty one into Content when Content itself
// is empty, so consumers only ever read Content.
//
// ToolCallDeltas holds the raw wire fragments as decoded by an adapter.
// The pipeline consumes them and publishes only complete calls in ToolCalls.
type ChunkDelta struct {
	Role             string          `json:"role,omitempty"`
	Content          string          `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	Reasoning        string          `json:"reasoning,omitempty"`
	Thinking         string          `json:"thinking,omitempty"`
	Thought          string          `json:"thought,omitempty"`
	ToolCallDeltas   []ToolCallDelta `json:"-"`
	ToolCalls        []ToolCall      `json:"tool_calls,omitempty"`
}

// ToolCallDelta is one fragment of a streamed tool call. Index is the call's
// stable position within the response (0 when the wire omits it). Arguments
// is a text fragment to append to previously received argument text, never a
// replacement.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Text returns the concatenated content of all choice deltas in the chunk.
func (c *StreamChunk) Text() string {
	if c == nil {
		return ""
	}
	var out string
	for _, choice := range c.Choices {
		out += choice.Delta.Content
	}
	return out
}

// Stream is a lazy, finite, non-resumable sequence of stream chunks.
//
// Recv returns the next chunk, io.EOF after the final one, or a non-EOF error
// item. A decode error (errors.Is(err, ErrDecode)) refers to a single
// malformed event; the stream remains usable and Recv may be called again.
// Any other error is terminal. Close releases the underlying connection and
// must always be called; abandoning the stream without draining it is safe
// because nothing is consumed from the source unless Recv is polled.
type Stream interface {
	Recv() (*StreamChunk, error)
	Close() error
}

// Provider is the interface for any LLM backend.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "qwen").
	Name() string
}

// StreamingProvider extends Provider with streaming support.
type StreamingProvider interface {
	Provider
	// ChatStream sends a request and returns a lazy stream of chunks.
	ChatStream(ctx context.Context, req ChatRequest) (Stream, error)
}
