// Package llmrelay wires configuration into ready-to-use providers: one
// dispatcher per configured vendor, optionally wrapped with circuit breaking
// and failover.
package llmrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"llmrelay/config"
	"llmrelay/domain"
	"llmrelay/internal/logger"
	"llmrelay/internal/tracer"
	"llmrelay/provider/anthropic"
	"llmrelay/provider/ollama"
	"llmrelay/provider/openai"
	"llmrelay/provider/qwen"
	"llmrelay/relay"
	"llmrelay/retry"
	"llmrelay/tokenizer"
	"llmrelay/usagestore"
)

// Service bundles everything Open builds from a config file.
type Service struct {
	Registry *relay.Registry
	Provider domain.StreamingProvider
	Logger   *slog.Logger

	closers []func() error
}

// Open loads configuration from path and assembles the full stack: logger,
// tracer, providers. Close releases the tracer and usage ledger.
func Open(ctx context.Context, path string) (*Service, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.Logger)

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, err
	}

	registry, primary, cleanup, err := Build(cfg, log)
	if err != nil {
		shutdownTracer(context.Background())
		return nil, err
	}

	return &Service{
		Registry: registry,
		Provider: primary,
		Logger:   log,
		closers: []func() error{
			cleanup,
			func() error { return shutdownTracer(context.Background()) },
		},
	}, nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// bedrockFactory is set when the binary is built with the bedrock tag.
var bedrockFactory func(cfg config.ProviderConfig, logger *slog.Logger) (domain.StreamingProvider, error)

// Build constructs the provider registry and the default provider from
// configuration. The returned cleanup closes the usage ledger when one was
// opened.
func Build(cfg *config.Config, logger *slog.Logger) (*relay.Registry, domain.StreamingProvider, func() error, error) {
	cleanup := func() error { return nil }

	var recorder relay.UsageRecorder
	var estimator relay.UsageEstimator
	if cfg.Usage.Enabled {
		store, err := usagestore.Open(cfg.Usage.DBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open usage store: %w", err)
		}
		recorder = store
		estimator = tokenizer.New()
		cleanup = store.Close
	}

	registry := relay.NewRegistry()
	for _, pc := range cfg.LLM.Providers {
		provider, err := buildProvider(pc, cfg.LLM, logger, estimator, recorder)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if cfg.LLM.CircuitBreaker.Enabled {
			provider = relay.NewBreakerProvider(provider, cfg.LLM.CircuitBreaker, logger)
		}
		if err := registry.Register(pc.Name, provider); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
	}

	primary, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
		fallbacks := make([]domain.StreamingProvider, 0, len(cfg.LLM.Failover.Fallbacks))
		for _, name := range cfg.LLM.Failover.Fallbacks {
			fb, err := registry.Get(name)
			if err != nil {
				cleanup()
				return nil, nil, nil, err
			}
			fallbacks = append(fallbacks, fb)
		}
		primary = relay.NewFailoverProvider(primary, fallbacks, logger)
	}

	return registry, primary, cleanup, nil
}

func buildProvider(pc config.ProviderConfig, llm config.LLMConfig, logger *slog.Logger, estimator relay.UsageEstimator, recorder relay.UsageRecorder) (domain.StreamingProvider, error) {
	if pc.Type == "bedrock" {
		if bedrockFactory == nil {
			return nil, fmt.Errorf("%w: bedrock support requires the bedrock build tag", domain.ErrUnsupported)
		}
		return bedrockFactory(pc, logger)
	}

	var adapter relay.Adapter
	switch pc.Type {
	case "openai":
		adapter = openai.New(pc)
	case "anthropic":
		adapter = anthropic.New(pc)
	case "qwen":
		adapter = qwen.New(pc)
	case "ollama":
		adapter = ollama.New(pc)
	default:
		return nil, fmt.Errorf("%w: provider type %q", domain.ErrUnsupported, pc.Type)
	}

	opts := []relay.ClientOption{
		relay.WithHTTPClient(relay.NewHTTPClient(pc)),
		relay.WithLogger(logger),
		relay.WithRetryPolicy(retryPolicy(llm.Retry)),
	}
	if pc.RateLimitRPS > 0 {
		opts = append(opts, relay.WithRateLimiter(
			rate.NewLimiter(rate.Limit(pc.RateLimitRPS), 1)))
	}
	if estimator != nil {
		opts = append(opts, relay.WithUsageEstimator(estimator))
	}
	if recorder != nil {
		opts = append(opts, relay.WithUsageRecorder(recorder))
	}

	return relay.New(adapter, opts...), nil
}

func retryPolicy(rc config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if rc.MaxAttempts > 0 || rc.InitialDelay > 0 {
		p = retry.Policy{
			MaxAttempts:  rc.MaxAttempts,
			InitialDelay: rc.InitialDelay,
			Multiplier:   rc.Multiplier,
			MaxDelay:     rc.MaxDelay,
		}
		if p.Multiplier <= 0 {
			p.Multiplier = 2.0
		}
	}
	return p
}
