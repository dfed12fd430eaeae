package relay

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/config"
	"llmrelay/domain"
	"llmrelay/streamx"
)

type mockProvider struct {
	name       string
	chatFunc   func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
	streamFunc func(context.Context, domain.ChatRequest) (domain.Stream, error)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.Stream, error) {
	if m.streamFunc == nil {
		resp, err := m.chatFunc(ctx, req)
		if err != nil {
			return nil, err
		}
		return streamx.Once(chunkFromResponse(resp)), nil
	}
	return m.streamFunc(ctx, req)
}

func TestBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "test",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.Message{Content: "ok"}}, nil
		},
	}

	cb := NewBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "test", cb.Name())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	callCount := 0
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			callCount++
			return nil, errors.New("provider error")
		},
	}

	cfg := config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    60 * time.Second,
	}
	cb := NewBreakerProvider(inner, cfg, slog.Default())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider error")
	}
	assert.Equal(t, 3, callCount)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	// Next call fails fast without reaching the provider.
	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 3, callCount)
}

func TestBreakerProtectsStreamEstablishment(t *testing.T) {
	callCount := 0
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, errors.New("unused")
		},
		streamFunc: func(context.Context, domain.ChatRequest) (domain.Stream, error) {
			callCount++
			return nil, errors.New("connect refused")
		},
	}

	cfg := config.CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, Interval: time.Minute}
	cb := NewBreakerProvider(inner, cfg, slog.Default())

	for i := 0; i < 2; i++ {
		_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, callCount)
}
