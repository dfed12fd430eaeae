//go:build bedrock

// Package bedrock implements the provider interfaces over the AWS Bedrock
// Converse API. Bedrock cannot use the byte-level adapter seam: requests are
// SigV4-signed and the stream arrives as typed SDK events, so this package
// implements domain.StreamingProvider directly and reuses the shared
// tool-call accumulator for stream assembly.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"llmrelay/config"
	"llmrelay/domain"
	"llmrelay/internal/tracer"
	"llmrelay/streamx"
)

// converseAPI abstracts the Bedrock runtime methods for testability.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Provider implements domain.StreamingProvider via the Converse API.
type Provider struct {
	name   string
	model  string
	client converseAPI
	logger *slog.Logger
}

var _ domain.StreamingProvider = (*Provider)(nil)

// New creates a Bedrock provider using the default AWS credential chain.
func New(cfg config.ProviderConfig, logger *slog.Logger) (*Provider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "bedrock"
	}
	return &Provider{
		name:   name,
		model:  cfg.Model,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// newWithClient creates a Provider with an injected client (for testing).
func newWithClient(name, model string, client converseAPI, logger *slog.Logger) *Provider {
	return &Provider{name: name, model: model, client: client, logger: logger}
}

// Chat implements domain.Provider.
func (p *Provider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if req.Model == "" {
		req.Model = p.model
	}

	output, err := p.client.Converse(ctx, toConverseInput(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, mapError(err)
	}

	result := fromConverseOutput(output, req.Model)
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", result.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", result.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	p.logger.Debug("llm chat completed",
		"provider", p.name,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
	)
	return result, nil
}

// ChatStream implements domain.StreamingProvider.
func (p *Provider) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.Stream, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ci := toConverseInput(req)
	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         ci.ModelId,
		Messages:        ci.Messages,
		System:          ci.System,
		InferenceConfig: ci.InferenceConfig,
		ToolConfig:      ci.ToolConfig,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return &stream{
		es:  output.GetStream(),
		acc: streamx.NewToolCallAccumulator(),
	}, nil
}

// Name implements domain.Provider.
func (p *Provider) Name() string { return p.name }

// stream adapts the SDK event stream to domain.Stream. Events are consumed
// only inside Recv, so abandoning the stream and calling Close stops
// consumption.
type stream struct {
	es     *bedrockruntime.ConverseStreamEventStream
	acc    *streamx.ToolCallAccumulator
	closed bool
	done   bool
}

var _ domain.Stream = (*stream)(nil)

func (s *stream) Recv() (*domain.StreamChunk, error) {
	if s.closed {
		return nil, domain.ErrStreamClosed
	}
	if s.done {
		return nil, io.EOF
	}

	for evt := range s.es.Events() {
		chunk := s.convert(evt)
		if chunk != nil {
			return chunk, nil
		}
	}

	s.done = true
	if err := s.es.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil, io.EOF
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.es.Close()
}

// convert maps one SDK event to a chunk, or nil for events with nothing to
// surface.
func (s *stream) convert(evt types.ConverseStreamOutput) *domain.StreamChunk {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		idx := int(aws.ToInt32(e.Value.ContentBlockIndex))
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return &domain.StreamChunk{Choices: []domain.ChunkChoice{{
				Delta: domain.ChunkDelta{Content: d.Value},
			}}}
		case *types.ContentBlockDeltaMemberReasoningContent:
			if rd, ok := d.Value.(*types.ReasoningContentBlockDeltaMemberText); ok {
				return &domain.StreamChunk{Choices: []domain.ChunkChoice{{
					Delta: domain.ChunkDelta{Thinking: rd.Value},
				}}}
			}
			return nil
		case *types.ContentBlockDeltaMemberToolUse:
			calls := s.acc.Merge([]domain.ToolCallDelta{{
				Index:     idx,
				Arguments: aws.ToString(d.Value.Input),
			}})
			return toolCallChunk(calls)
		}
		return nil

	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			calls := s.acc.Merge([]domain.ToolCallDelta{{
				Index: int(aws.ToInt32(e.Value.ContentBlockIndex)),
				ID:    aws.ToString(start.Value.ToolUseId),
				Name:  aws.ToString(start.Value.Name),
			}})
			return toolCallChunk(calls)
		}
		return nil

	case *types.ConverseStreamOutputMemberMessageStop:
		return &domain.StreamChunk{Choices: []domain.ChunkChoice{{
			FinishReason: mapStopReason(e.Value.StopReason),
		}}}

	case *types.ConverseStreamOutputMemberMetadata:
		if e.Value.Usage == nil {
			return nil
		}
		in := int(aws.ToInt32(e.Value.Usage.InputTokens))
		out := int(aws.ToInt32(e.Value.Usage.OutputTokens))
		return &domain.StreamChunk{Usage: &domain.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		}}

	default:
		return nil
	}
}

// toolCallChunk wraps newly complete calls, or nil when none completed yet.
func toolCallChunk(calls []domain.ToolCall) *domain.StreamChunk {
	if len(calls) == 0 {
		return nil
	}
	return &domain.StreamChunk{Choices: []domain.ChunkChoice{{
		Delta: domain.ChunkDelta{ToolCalls: calls},
	}}}
}

func mapStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return "stop"
	case types.StopReasonMaxTokens:
		return "length"
	case types.StopReasonToolUse:
		return "tool_calls"
	default:
		return string(reason)
	}
}

// --- request/response conversion ---

func toConverseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			input.System = []types.SystemContentBlock{
				&types.SystemContentBlockMemberText{Value: m.Content},
			}
			continue
		}
		if msg := toMessage(m); msg != nil {
			input.Messages = append(input.Messages, *msg)
		}
	}

	if len(req.Tools) > 0 {
		input.ToolConfig = toToolConfig(req.Tools)
	}
	return input
}

func toMessage(m domain.Message) *types.Message {
	msg := &types.Message{}

	switch m.Role {
	case domain.RoleTool:
		msg.Role = types.ConversationRoleUser
		toolUseID := ""
		if len(m.ToolCalls) > 0 {
			toolUseID = m.ToolCalls[0].ID
		}
		msg.Content = []types.ContentBlock{
			&types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(toolUseID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: m.Content},
					},
				},
			},
		}

	case domain.RoleAssistant:
		msg.Role = types.ConversationRoleAssistant
		if m.Content != "" {
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var inputDoc map[string]interface{}
			if len(tc.Arguments) > 0 {
				json.Unmarshal(tc.Arguments, &inputDoc)
			}
			if inputDoc == nil {
				inputDoc = map[string]interface{}{}
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

	case domain.RoleUser:
		msg.Role = types.ConversationRoleUser
		msg.Content = []types.ContentBlock{
			&types.ContentBlockMemberText{Value: m.Content},
		}

	default:
		return nil
	}
	return msg
}

func toToolConfig(tools []domain.ToolSchema) *types.ToolConfiguration {
	var out []types.Tool
	for _, t := range tools {
		var schema map[string]interface{}
		if len(t.Parameters) > 0 {
			json.Unmarshal(t.Parameters, &schema)
		}
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		out = append(out, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: out}
}

func fromConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	now := time.Now()
	result := &domain.ChatResponse{
		Model:     model,
		CreatedAt: now,
	}

	if output.Usage != nil {
		in := int(aws.ToInt32(output.Usage.InputTokens))
		out := int(aws.ToInt32(output.Usage.OutputTokens))
		result.Usage = domain.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		}
	}

	msg := domain.Message{Role: domain.RoleAssistant, Timestamp: now}
	if outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range outMsg.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				msg.Content = b.Value
			case *types.ContentBlockMemberToolUse:
				msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: marshalDocument(b.Value.Input),
				})
			}
		}
	}
	result.Message = msg
	return result
}

// marshalDocument converts a Bedrock document.Interface to json.RawMessage.
func marshalDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	var v interface{}
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// --- error mapping ---

func mapError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case "ResourceNotFoundException":
			return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
		case "ValidationException":
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, msg)
		case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException":
			return fmt.Errorf("%w: %s", domain.ErrUpstream, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}
