package ollama

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/config"
	"llmrelay/domain"
)

func testAdapter() *Adapter {
	return New(config.ProviderConfig{Name: "ollama", Model: "llama3.2"})
}

func TestEndpointDefault(t *testing.T) {
	a := testAdapter()
	assert.Equal(t, "http://localhost:11434/api/chat", a.Endpoint())
	assert.True(t, a.StreamFraming())
	assert.Empty(t, a.AuthHeaders())
}

func TestBuildRequestOptions(t *testing.T) {
	a := testAdapter()
	body, err := a.BuildRequest(domain.ChatRequest{
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   256,
		Stream:      true,
	})
	require.NoError(t, err)

	var wire wireRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "llama3.2", wire.Model)
	assert.True(t, wire.Stream)
	require.NotNil(t, wire.Options)
	assert.Equal(t, 0.7, wire.Options.Temperature)
	assert.Equal(t, 256, wire.Options.NumPredict)
}

func TestBuildRequestNoOptionsWhenUnset(t *testing.T) {
	a := testAdapter()
	body, err := a.BuildRequest(domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var wire wireRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Nil(t, wire.Options)
}

func TestParseResponseSyntheticIDs(t *testing.T) {
	a := testAdapter()
	resp, err := a.ParseResponse([]byte(`{
		"model": "llama3.2",
		"created_at": "2025-01-01T00:00:00Z",
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [
				{"function": {"name": "f", "arguments": {"a": 1}}},
				{"function": {"name": "g", "arguments": {"b": 2}}}
			]
		},
		"done": true,
		"prompt_eval_count": 12,
		"eval_count": 8
	}`))
	require.NoError(t, err)

	assert.Equal(t, 20, resp.Usage.TotalTokens)
	require.Len(t, resp.Message.ToolCalls, 2)
	assert.Equal(t, "call_0", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "call_1", resp.Message.ToolCalls[1].ID)
	assert.JSONEq(t, `{"b":2}`, string(resp.Message.ToolCalls[1].Arguments))
}

func TestDecodeChunkPartial(t *testing.T) {
	a := testAdapter()
	chunk, err := a.DecodeChunk([]byte(`{"model":"llama3.2","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"Hel"},"done":false}`))
	require.NoError(t, err)

	require.Len(t, chunk.Choices, 1)
	assert.Equal(t, "Hel", chunk.Choices[0].Delta.Content)
	assert.Empty(t, chunk.Choices[0].FinishReason)
	assert.Nil(t, chunk.Usage)
}

func TestDecodeChunkDoneLine(t *testing.T) {
	a := testAdapter()
	chunk, err := a.DecodeChunk([]byte(`{"model":"llama3.2","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":34}`))
	require.NoError(t, err)

	require.Len(t, chunk.Choices, 1)
	assert.Equal(t, "stop", chunk.Choices[0].FinishReason)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 12, chunk.Usage.PromptTokens)
	assert.Equal(t, 34, chunk.Usage.CompletionTokens)
	assert.Equal(t, 46, chunk.Usage.TotalTokens)
}

func TestDecodeChunkToolCall(t *testing.T) {
	a := testAdapter()
	chunk, err := a.DecodeChunk([]byte(`{"model":"llama3.2","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Hanoi"}}}]},"done":false}`))
	require.NoError(t, err)

	deltas := chunk.Choices[0].Delta.ToolCallDeltas
	require.Len(t, deltas, 1)
	assert.Equal(t, "call_0", deltas[0].ID)
	assert.Equal(t, "get_weather", deltas[0].Name)
	assert.JSONEq(t, `{"city":"Hanoi"}`, deltas[0].Arguments)
}

func TestMapDoneReason(t *testing.T) {
	assert.Equal(t, "stop", mapDoneReason(""))
	assert.Equal(t, "stop", mapDoneReason("stop"))
	assert.Equal(t, "length", mapDoneReason("length"))
	assert.Equal(t, "load", mapDoneReason("load"))
}

func TestMapErrorBody(t *testing.T) {
	a := testAdapter()
	err := a.MapError(404, []byte(`{"error":"model 'nope' not found"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "model 'nope' not found")
}
