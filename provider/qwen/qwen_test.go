package qwen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"llmrelay/config"
)

func TestDefaults(t *testing.T) {
	a := New(config.ProviderConfig{APIKey: "sk-test"})
	assert.Equal(t, "qwen", a.Name())
	assert.Equal(t, "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions", a.Endpoint())
}

func TestCustomBase(t *testing.T) {
	a := New(config.ProviderConfig{Name: "local-qwen", BaseURL: "http://localhost:9000/v1"})
	assert.Equal(t, "local-qwen", a.Name())
	assert.Equal(t, "http://localhost:9000/v1/chat/completions", a.Endpoint())
}
