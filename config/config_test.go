package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.Equal(t, 2, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.Retry.InitialDelay)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: debug
llm:
  default_provider: local
  providers:
    - name: local
      type: ollama
      model: llama3.2
  retry:
    max_attempts: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "local", cfg.LLM.DefaultProvider)
	assert.Equal(t, 5, cfg.LLM.Retry.MaxAttempts)
	// Fields the file omits keep their defaults.
	assert.Equal(t, 8*time.Second, cfg.LLM.Retry.MaxDelay)

	pc, ok := cfg.Provider("local")
	require.True(t, ok)
	assert.Equal(t, "ollama", pc.Type)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LLMRELAY_DEFAULT_PROVIDER", "qwen-main")
	t.Setenv("LLMRELAY_LOGGER_LEVEL", "warn")
	t.Setenv("LLMRELAY_QWEN_API_KEY", "sk-from-env")
	t.Setenv("LLMRELAY_USAGE_DB", "/tmp/usage.db")

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "qwen-main", Type: "qwen", APIKey: "sk-from-file"},
	}
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "qwen-main", cfg.LLM.DefaultProvider)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, "sk-from-env", cfg.LLM.Providers[0].APIKey)
	assert.True(t, cfg.Usage.Enabled)
	assert.Equal(t, "/tmp/usage.db", cfg.Usage.DBPath)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			"bad logger level",
			func(c *Config) { c.Logger.Level = "loud" },
			"invalid logger level",
		},
		{
			"duplicate provider",
			func(c *Config) {
				c.LLM.DefaultProvider = "a"
				c.LLM.Providers = []ProviderConfig{
					{Name: "a", Type: "openai"},
					{Name: "a", Type: "ollama"},
				}
			},
			"duplicate provider name",
		},
		{
			"unknown type",
			func(c *Config) {
				c.LLM.DefaultProvider = "a"
				c.LLM.Providers = []ProviderConfig{{Name: "a", Type: "gemini"}}
			},
			"unknown type",
		},
		{
			"default not defined",
			func(c *Config) {
				c.LLM.DefaultProvider = "missing"
				c.LLM.Providers = []ProviderConfig{{Name: "a", Type: "openai"}}
			},
			"not defined",
		},
		{
			"fallback not defined",
			func(c *Config) {
				c.LLM.DefaultProvider = "a"
				c.LLM.Providers = []ProviderConfig{{Name: "a", Type: "openai"}}
				c.LLM.Failover.Fallbacks = []string{"ghost"}
			},
			"not defined",
		},
		{
			"negative rate limit",
			func(c *Config) {
				c.LLM.DefaultProvider = "a"
				c.LLM.Providers = []ProviderConfig{{Name: "a", Type: "openai", RateLimitRPS: -1}}
			},
			"negative rate limit",
		},
		{
			"negative retries",
			func(c *Config) { c.LLM.Retry.MaxAttempts = -1 },
			"non-negative",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}
