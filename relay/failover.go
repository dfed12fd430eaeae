package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"llmrelay/domain"
)

var _ domain.StreamingProvider = (*FailoverProvider)(nil)

// FailoverProvider wraps a primary provider with ordered fallbacks. If the
// primary fails, each fallback is tried in turn.
type FailoverProvider struct {
	primary   domain.StreamingProvider
	fallbacks []domain.StreamingProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.StreamingProvider, fallbacks []domain.StreamingProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Chat tries the primary provider first, then each fallback on failure.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := f.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	f.logger.Warn("primary provider failed, trying fallbacks",
		"primary", f.primary.Name(), "error", err)

	allErrors := []string{fmt.Sprintf("%s: %v", f.primary.Name(), err)}
	for _, fb := range f.fallbacks {
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			f.logger.Info("failover succeeded", "provider", fb.Name())
			return resp, nil
		}
		f.logger.Warn("fallback provider failed", "provider", fb.Name(), "error", err)
		allErrors = append(allErrors, fmt.Sprintf("%s: %v", fb.Name(), err))
	}

	return nil, fmt.Errorf("all providers failed: [%s]", strings.Join(allErrors, "; "))
}

// ChatStream tries streaming from the primary, then each fallback. Failover
// applies to stream establishment only; once chunks are flowing, a mid-stream
// failure is surfaced to the caller rather than replayed elsewhere.
func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.Stream, error) {
	stream, err := f.primary.ChatStream(ctx, req)
	if err == nil {
		return stream, nil
	}
	f.logger.Warn("primary streaming provider failed, trying fallbacks",
		"primary", f.primary.Name(), "error", err)

	allErrors := []string{fmt.Sprintf("%s: %v", f.primary.Name(), err)}
	for _, fb := range f.fallbacks {
		stream, err = fb.ChatStream(ctx, req)
		if err == nil {
			f.logger.Info("streaming failover succeeded", "provider", fb.Name())
			return stream, nil
		}
		f.logger.Warn("fallback streaming provider failed", "provider", fb.Name(), "error", err)
		allErrors = append(allErrors, fmt.Sprintf("%s: %v", fb.Name(), err))
	}

	return nil, fmt.Errorf("all streaming providers failed: [%s]", strings.Join(allErrors, "; "))
}

// Name returns a composite name.
func (f *FailoverProvider) Name() string {
	return f.primary.Name() + "+failover"
}
