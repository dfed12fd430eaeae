// Package config loads and validates the relay configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
	LLM    LLMConfig    `yaml:"llm"`
	Usage  UsageConfig  `yaml:"usage"`
}

// LoggerConfig holds structured logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// LLMConfig holds provider and dispatch settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry           RetryConfig          `yaml:"retry"`
}

// ProviderConfig holds settings for a single provider.
type ProviderConfig struct {
	Name           string        `yaml:"name"`
	Type           string        `yaml:"type"` // "openai", "anthropic", "qwen", "ollama", "bedrock"
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Region         string        `yaml:"region,omitempty"`
	ConnTimeout    time.Duration `yaml:"conn_timeout"`
	RespTimeout    time.Duration `yaml:"resp_timeout"`
	Pool           PoolConfig    `yaml:"pool"`
	ThinkingBudget int           `yaml:"thinking_budget,omitempty"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps,omitempty"` // 0 = unlimited
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// FailoverConfig holds provider failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RetryConfig holds retry/backoff settings. MaxAttempts counts retries, not
// invocations.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// UsageConfig holds the token usage ledger settings.
type UsageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Retry: RetryConfig{
				MaxAttempts:  2,
				InitialDelay: 500 * time.Millisecond,
				Multiplier:   2.0,
				MaxDelay:     8 * time.Second,
			},
		},
		Usage: UsageConfig{
			Enabled: false,
			DBPath:  "usage.db",
		},
	}
}

// Load reads the config at path, merging over Defaults. A missing file is not
// an error; environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps LLMRELAY_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLMRELAY_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("LLMRELAY_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LLMRELAY_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("LLMRELAY_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("LLMRELAY_USAGE_DB"); v != "" {
		cfg.Usage.Enabled = true
		cfg.Usage.DBPath = v
	}

	// Per-provider API keys: LLMRELAY_<TYPE>_API_KEY wins over the file.
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if v := os.Getenv("LLMRELAY_" + envName(p.Type) + "_API_KEY"); v != "" {
			p.APIKey = v
		}
	}
}

func envName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Validate checks cross-field consistency.
func Validate(cfg *Config) error {
	switch cfg.Logger.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logger level %q", cfg.Logger.Level)
	}

	names := make(map[string]bool, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		names[p.Name] = true
		switch p.Type {
		case "openai", "anthropic", "qwen", "ollama", "bedrock":
		default:
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
		if p.RateLimitRPS < 0 {
			return fmt.Errorf("provider %q: negative rate limit", p.Name)
		}
	}

	if len(cfg.LLM.Providers) > 0 && !names[cfg.LLM.DefaultProvider] {
		return fmt.Errorf("default provider %q not defined", cfg.LLM.DefaultProvider)
	}
	for _, fb := range cfg.LLM.Failover.Fallbacks {
		if !names[fb] {
			return fmt.Errorf("failover fallback %q not defined", fb)
		}
	}

	if r := cfg.LLM.Retry; r.MaxAttempts < 0 || r.InitialDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("retry settings must be non-negative")
	}
	return nil
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
