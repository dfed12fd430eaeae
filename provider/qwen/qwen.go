// Package qwen adapts Alibaba's DashScope compatible-mode API. The wire
// format is OpenAI-shaped; only the endpoint and reasoning field conventions
// differ, and the embedded adapter already tolerates those.
package qwen

import (
	"llmrelay/config"
	"llmrelay/provider/openai"
	"llmrelay/relay"
)

const defaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// New creates a DashScope adapter. An empty base URL selects the public
// compatible-mode endpoint.
func New(cfg config.ProviderConfig) relay.Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "qwen"
	}
	return openai.New(cfg)
}
