package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"llmrelay/config"
	"llmrelay/domain"
	"llmrelay/internal/tracer"
	"llmrelay/retry"
	"llmrelay/streamx"
)

// Client dispatches chat requests through a vendor adapter. It owns the HTTP
// transport, retry loop, rate limiting, tracing and usage accounting; the
// adapter only translates payloads.
//
// Client implements domain.StreamingProvider.
type Client struct {
	adapter    Adapter
	http       *http.Client
	logger     *slog.Logger
	policy     retry.Policy
	classifier retry.Classifier
	limiter    *rate.Limiter
	estimator  UsageEstimator
	recorder   UsageRecorder
}

var _ domain.StreamingProvider = (*Client)(nil)

// New creates a dispatcher for the given adapter.
func New(adapter Adapter, opts ...ClientOption) *Client {
	c := &Client{
		adapter:    adapter,
		http:       &http.Client{Transport: NewPooledTransport(0, 0, config.PoolConfig{})},
		logger:     slog.Default(),
		policy:     retry.DefaultPolicy(),
		classifier: retry.NewClassifier(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements domain.Provider.
func (c *Client) Name() string { return c.adapter.Name() }

// Chat sends a non-streaming request and returns the complete response.
// Transient failures are retried per the client's policy.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "relay.chat")
	defer span.End()

	req.Stream = false
	reqID := ulid.Make().String()
	span.SetAttributes(
		tracer.StringAttr("llm.provider", c.adapter.Name()),
		tracer.StringAttr("llm.model", req.Model),
		tracer.StringAttr("request.id", reqID),
	)

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := retry.Do(ctx, c.policy, c.classifier, c.logger,
		func(ctx context.Context) (*domain.ChatResponse, error) {
			return c.doChat(ctx, req, reqID)
		})
	if err != nil {
		tracer.RecordError(span, err)
		c.record(ctx, reqID, req, domain.Usage{}, time.Since(start), "error", false)
		return nil, domain.WrapOp("chat "+c.adapter.Name(), err)
	}

	tracer.SetOK(span)
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", resp.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	c.logger.Debug("llm chat completed",
		"provider", c.adapter.Name(),
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
	)
	c.record(ctx, reqID, req, resp.Usage, time.Since(start), "ok", false)
	return resp, nil
}

// ChatStream sends a streaming request and returns a lazy chunk stream. When
// the adapter has no streaming frame format, the non-streaming call is issued
// instead and its response wrapped as a one-chunk stream.
func (c *Client) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.Stream, error) {
	if !c.adapter.StreamFraming() {
		resp, err := c.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		return streamx.Once(chunkFromResponse(resp), streamx.WithLogger(c.logger)), nil
	}

	ctx, span := tracer.StartSpan(ctx, "relay.chat_stream")
	defer span.End()

	req.Stream = true
	reqID := ulid.Make().String()
	span.SetAttributes(
		tracer.StringAttr("llm.provider", c.adapter.Name()),
		tracer.StringAttr("llm.model", req.Model),
		tracer.StringAttr("request.id", reqID),
	)

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	// Retry covers connection establishment only. Once the stream is open,
	// mid-stream failures surface through Recv and are never replayed.
	start := time.Now()
	httpResp, err := retry.Do(ctx, c.policy, c.classifier, c.logger,
		func(ctx context.Context) (*http.Response, error) {
			return c.doStream(ctx, req, reqID)
		})
	if err != nil {
		tracer.RecordError(span, err)
		c.record(ctx, reqID, req, domain.Usage{}, time.Since(start), "error", true)
		return nil, domain.WrapOp("chat stream "+c.adapter.Name(), err)
	}

	tracer.SetOK(span)
	return streamx.New(httpResp.Body, c.adapter.DecodeChunk,
		streamx.WithLogger(c.logger),
		streamx.WithUsageFunc(func(u domain.Usage) {
			c.record(context.WithoutCancel(ctx), reqID, req, u, time.Since(start), "ok", true)
		}),
	), nil
}

// doChat performs one non-streaming HTTP exchange.
func (c *Client) doChat(ctx context.Context, req domain.ChatRequest, reqID string) (*domain.ChatResponse, error) {
	body, err := c.adapter.BuildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adapter.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, reqID, false)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, c.adapter.MapError(httpResp.StatusCode, sanitizeErrorBody(respBody))
	}

	resp, err := c.adapter.ParseResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return resp, nil
}

// doStream opens one streaming HTTP exchange and returns the live response.
func (c *Client) doStream(ctx context.Context, req domain.ChatRequest, reqID string) (*http.Response, error) {
	body, err := c.adapter.BuildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adapter.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, reqID, true)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, c.adapter.MapError(httpResp.StatusCode, sanitizeErrorBody(respBody))
	}
	return httpResp, nil
}

func (c *Client) setHeaders(r *http.Request, reqID string, streaming bool) {
	r.Header.Set("Content-Type", "application/json")
	if streaming {
		r.Header.Set("Accept", "text/event-stream")
	}
	r.Header.Set("X-Request-ID", reqID)
	for _, h := range c.adapter.AuthHeaders() {
		r.Header.Set(h.Key, h.Value)
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// record writes one row to the usage ledger, filling in estimated prompt
// tokens when the vendor reported nothing.
func (c *Client) record(ctx context.Context, reqID string, req domain.ChatRequest, usage domain.Usage, dur time.Duration, status string, streamed bool) {
	if c.recorder == nil {
		return
	}
	if usage.TotalTokens == 0 && c.estimator != nil {
		if n, err := c.estimator.EstimatePrompt(req); err == nil {
			usage.PromptTokens = n
			usage.TotalTokens = n
		}
	}
	rec := UsageRecord{
		RequestID: reqID,
		Provider:  c.adapter.Name(),
		Model:     req.Model,
		Usage:     usage,
		Duration:  dur,
		Status:    status,
		Streamed:  streamed,
	}
	if err := c.recorder.Record(ctx, rec); err != nil {
		c.logger.Warn("usage record failed", "request_id", reqID, "error", err)
	}
}

// sanitizeErrorBody guarantees adapters receive syntactically valid JSON:
// vendors sometimes answer errors with HTML or plain text.
func sanitizeErrorBody(body []byte) []byte {
	if !json.Valid(body) {
		return []byte("{}")
	}
	return body
}

// chunkFromResponse converts a complete response into the single chunk of a
// fallback stream.
func chunkFromResponse(resp *domain.ChatResponse) *domain.StreamChunk {
	finish := "stop"
	if len(resp.Message.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	usage := resp.Usage
	return &domain.StreamChunk{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.CreatedAt.Unix(),
		Choices: []domain.ChunkChoice{{
			Delta: domain.ChunkDelta{
				Role:      resp.Message.Role,
				Content:   resp.Message.Content,
				ToolCalls: resp.Message.ToolCalls,
			},
			FinishReason: finish,
		}},
		Usage: &usage,
	}
}
