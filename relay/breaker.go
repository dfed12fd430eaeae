package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"llmrelay/config"
	"llmrelay/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerProvider wraps a provider with circuit breaker protection. When the
// wrapped provider fails repeatedly the circuit opens and subsequent calls
// fail fast without reaching the vendor, preventing retry storms.
type BreakerProvider struct {
	inner   domain.StreamingProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

var _ domain.StreamingProvider = (*BreakerProvider)(nil)

// NewBreakerProvider wraps inner with a circuit breaker. Zero-valued config
// fields fall back to defaults.
func NewBreakerProvider(inner domain.StreamingProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerProvider {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	name := inner.Name()
	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerProvider{inner: inner, breaker: cb, logger: logger}
}

// Chat implements domain.Provider. Calls route through the circuit breaker.
func (p *BreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("provider %q circuit open: %w", p.inner.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

// ChatStream implements domain.StreamingProvider. The breaker protects stream
// establishment only; errors after the stream is open surface through Recv
// and do not trip the breaker.
func (p *BreakerProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.Stream, error) {
	var stream domain.Stream
	_, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		var streamErr error
		stream, streamErr = p.inner.ChatStream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("provider %q circuit open: %w", p.inner.Name(), err)
		}
		return nil, err
	}
	return stream, nil
}

// Name implements domain.Provider.
func (p *BreakerProvider) Name() string { return p.inner.Name() }

// State returns the current circuit state for monitoring.
func (p *BreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

// Counts returns the current failure/success counts.
func (p *BreakerProvider) Counts() gobreaker.Counts {
	return p.breaker.Counts()
}
