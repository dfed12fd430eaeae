package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/config"
	"llmrelay/domain"
)

func testAdapter() *Adapter {
	return New(config.ProviderConfig{
		Name:   "openai",
		APIKey: "sk-test",
		Model:  "gpt-4o",
	})
}

func TestEndpointDefault(t *testing.T) {
	a := testAdapter()
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", a.Endpoint())
	assert.True(t, a.StreamFraming())
}

func TestEndpointCustomBase(t *testing.T) {
	a := New(config.ProviderConfig{BaseURL: "http://localhost:8080/v1/"})
	assert.Equal(t, "http://localhost:8080/v1/chat/completions", a.Endpoint())
}

func TestAuthHeaders(t *testing.T) {
	a := testAdapter()
	headers := a.AuthHeaders()
	require.Len(t, headers, 1)
	assert.Equal(t, "Authorization", headers[0].Key)
	assert.Equal(t, "Bearer sk-test", headers[0].Value)

	assert.Empty(t, New(config.ProviderConfig{}).AuthHeaders())
}

func TestBuildRequestShape(t *testing.T) {
	a := testAdapter()
	body, err := a.BuildRequest(domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hi"},
		},
		MaxTokens:   100,
		Temperature: 0.5,
		Stream:      true,
		Tools: []domain.ToolSchema{
			{Name: "lookup", Description: "find things", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "gpt-4o", wire["model"], "configured model fills in when request omits one")
	assert.Equal(t, true, wire["stream"])
	assert.Equal(t, float64(100), wire["max_tokens"])
	assert.Equal(t, 0.5, wire["temperature"])

	msgs := wire["messages"].([]any)
	require.Len(t, msgs, 2)
	tools := wire["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "lookup", fn["name"])
}

func TestBuildRequestToolResultMessage(t *testing.T) {
	a := testAdapter()
	body, err := a.BuildRequest(domain.ChatRequest{
		Messages: []domain.Message{{
			Role:      domain.RoleTool,
			Content:   `{"temp":20}`,
			ToolCalls: []domain.ToolCall{{ID: "call_1"}},
		}},
	})
	require.NoError(t, err)

	var wire struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &wire))
	require.Len(t, wire.Messages, 1)
	assert.Equal(t, "call_1", wire.Messages[0]["tool_call_id"])
	assert.Nil(t, wire.Messages[0]["tool_calls"])
}

func TestParseResponse(t *testing.T) {
	a := testAdapter()
	resp, err := a.ParseResponse([]byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4o",
		"created": 1700000000,
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "hello",
				"tool_calls": [{"id":"c1","type":"function","function":{"name":"f","arguments":"{\"a\":1}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "c1", resp.Message.ToolCalls[0].ID)
	assert.JSONEq(t, `{"a":1}`, string(resp.Message.ToolCalls[0].Arguments))
}

func TestDecodeChunkContent(t *testing.T) {
	a := testAdapter()
	chunk, err := a.DecodeChunk([]byte(`{"id":"x","choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`))
	require.NoError(t, err)
	require.Len(t, chunk.Choices, 1)
	assert.Equal(t, "Hi", chunk.Choices[0].Delta.Content)
	assert.Empty(t, chunk.Choices[0].FinishReason)
}

func TestDecodeChunkReasoningSynonyms(t *testing.T) {
	a := testAdapter()
	cases := map[string]func(d domain.ChunkDelta) string{
		`{"choices":[{"delta":{"reasoning_content":"r"}}]}`: func(d domain.ChunkDelta) string { return d.ReasoningContent },
		`{"choices":[{"delta":{"reasoning":"r"}}]}`:         func(d domain.ChunkDelta) string { return d.Reasoning },
		`{"choices":[{"delta":{"thinking":"r"}}]}`:          func(d domain.ChunkDelta) string { return d.Thinking },
		`{"choices":[{"delta":{"thought":"r"}}]}`:           func(d domain.ChunkDelta) string { return d.Thought },
	}
	for raw, get := range cases {
		chunk, err := a.DecodeChunk([]byte(raw))
		require.NoError(t, err, raw)
		require.Len(t, chunk.Choices, 1, raw)
		assert.Equal(t, "r", get(chunk.Choices[0].Delta), raw)
	}
}

func TestDecodeChunkToolCallFragments(t *testing.T) {
	a := testAdapter()
	chunk, err := a.DecodeChunk([]byte(`{"choices":[{"delta":{"tool_calls":[
		{"index":1,"id":"c2","function":{"name":"g","arguments":"{\"y\":"}},
		{"function":{"arguments":"1}"}}
	]}}]}`))
	require.NoError(t, err)

	deltas := chunk.Choices[0].Delta.ToolCallDeltas
	require.Len(t, deltas, 2)
	assert.Equal(t, 1, deltas[0].Index)
	assert.Equal(t, "c2", deltas[0].ID)
	assert.Equal(t, "g", deltas[0].Name)
	assert.Equal(t, 0, deltas[1].Index, "missing index defaults to 0")
}

func TestDecodeChunkUsage(t *testing.T) {
	a := testAdapter()
	chunk, err := a.DecodeChunk([]byte(`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`))
	require.NoError(t, err)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 7, chunk.Usage.TotalTokens)
}
