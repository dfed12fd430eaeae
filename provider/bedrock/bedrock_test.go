//go:build bedrock

package bedrock

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/domain"
	"llmrelay/streamx"
)

type fakeConverseAPI struct {
	converseFunc func(context.Context, *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
}

func (f *fakeConverseAPI) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.converseFunc(ctx, params)
}

func (f *fakeConverseAPI) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	panic("not used in tests")
}

func lazyDoc(t *testing.T, v map[string]interface{}) document.Interface {
	t.Helper()
	return document.NewLazyDocument(v)
}

func TestChatMapsOutput(t *testing.T) {
	fake := &fakeConverseAPI{
		converseFunc: func(_ context.Context, input *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
			assert.Equal(t, "anthropic.claude-3", aws.ToString(input.ModelId))
			require.Len(t, input.System, 1)
			require.Len(t, input.Messages, 1)

			return &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberText{Value: "hello from bedrock"},
						},
					},
				},
				Usage: &types.TokenUsage{
					InputTokens:  aws.Int32(10),
					OutputTokens: aws.Int32(5),
				},
			}, nil
		},
	}

	p := newWithClient("bedrock", "anthropic.claude-3", fake, slog.Default())
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from bedrock", resp.Message.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChatToolUseOutput(t *testing.T) {
	fake := &fakeConverseAPI{
		converseFunc: func(_ context.Context, input *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
			require.NotNil(t, input.ToolConfig)
			require.Len(t, input.ToolConfig.Tools, 1)

			inDoc := map[string]interface{}{"city": "Hanoi"}
			return &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Content: []types.ContentBlock{
							&types.ContentBlockMemberToolUse{
								Value: types.ToolUseBlock{
									ToolUseId: aws.String("toolu_1"),
									Name:      aws.String("get_weather"),
									Input:     lazyDoc(t, inDoc),
								},
							},
						},
					},
				},
			}, nil
		},
	}

	p := newWithClient("bedrock", "anthropic.claude-3", fake, slog.Default())
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "weather?"}},
		Tools: []domain.ToolSchema{{
			Name:       "get_weather",
			Parameters: json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.Message.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"Hanoi"}`, string(resp.Message.ToolCalls[0].Arguments))
}

func TestConvertStreamEvents(t *testing.T) {
	s := &stream{acc: streamx.NewToolCallAccumulator()}

	chunk := s.convert(&types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &types.ContentBlockDeltaMemberText{Value: "Hel"},
		},
	})
	require.NotNil(t, chunk)
	assert.Equal(t, "Hel", chunk.Text())

	chunk = s.convert(&types.ConverseStreamOutputMemberContentBlockStart{
		Value: types.ContentBlockStartEvent{
			ContentBlockIndex: aws.Int32(1),
			Start: &types.ContentBlockStartMemberToolUse{
				Value: types.ToolUseBlockStart{
					ToolUseId: aws.String("toolu_1"),
					Name:      aws.String("get_weather"),
				},
			},
		},
	})
	assert.Nil(t, chunk, "tool call incomplete until its input parses")

	chunk = s.convert(&types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(1),
			Delta: &types.ContentBlockDeltaMemberToolUse{
				Value: types.ToolUseBlockDelta{Input: aws.String(`{"city":"Hanoi"}`)},
			},
		},
	})
	require.NotNil(t, chunk)
	calls := chunk.Choices[0].Delta.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.JSONEq(t, `{"city":"Hanoi"}`, string(calls[0].Arguments))

	chunk = s.convert(&types.ConverseStreamOutputMemberMessageStop{
		Value: types.MessageStopEvent{StopReason: types.StopReasonToolUse},
	})
	require.NotNil(t, chunk)
	assert.Equal(t, "tool_calls", chunk.Choices[0].FinishReason)

	chunk = s.convert(&types.ConverseStreamOutputMemberMetadata{
		Value: types.ConverseStreamMetadataEvent{
			Usage: &types.TokenUsage{
				InputTokens:  aws.Int32(7),
				OutputTokens: aws.Int32(3),
			},
		},
	})
	require.NotNil(t, chunk)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 10, chunk.Usage.TotalTokens)
}

func TestMapErrorCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"ThrottlingException", domain.ErrRateLimit},
		{"AccessDeniedException", domain.ErrAuthInvalid},
		{"ResourceNotFoundException", domain.ErrNotFound},
		{"ValidationException", domain.ErrInvalidInput},
		{"ServiceUnavailableException", domain.ErrUpstream},
	}
	for _, tc := range cases {
		err := mapError(&smithy.GenericAPIError{Code: tc.code, Message: "boom"})
		assert.ErrorIs(t, err, tc.want, tc.code)
	}
}

func TestToConverseInputDefaults(t *testing.T) {
	input := toConverseInput(domain.ChatRequest{
		Model:    "m",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NotNil(t, input.InferenceConfig)
	assert.Equal(t, int32(4096), aws.ToInt32(input.InferenceConfig.MaxTokens))
	assert.Nil(t, input.InferenceConfig.Temperature)
}
