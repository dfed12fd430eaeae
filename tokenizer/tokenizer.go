// Package tokenizer provides local token counting for chat requests, used to
// estimate usage when a vendor reports none.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"llmrelay/domain"
)

// Encoding names used by tiktoken.
const (
	EncodingCL100kBase = "cl100k_base" // GPT-4, GPT-3.5-turbo
	EncodingO200kBase  = "o200k_base"  // GPT-4o, o-series models
)

// Per-message wrapping overhead in the chat format. Approximate for
// non-OpenAI models, which is acceptable for an estimate.
const tokensPerMessage = 4

// modelEncoding pairs a model-name prefix with its encoding.
type modelEncoding struct {
	prefix   string
	encoding string
}

// Ordered longest prefix first so "gpt-4o" wins over "gpt-4".
var modelEncodings = []modelEncoding{
	{"gpt-4o", EncodingO200kBase},
	{"gpt-3.5", EncodingCL100kBase},
	{"gpt-4", EncodingCL100kBase},
	{"chatgpt", EncodingO200kBase},
	{"o1", EncodingO200kBase},
	{"o3", EncodingO200kBase},
}

// Tokenizer counts tokens using tiktoken encodings, cached per encoding name.
type Tokenizer struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// New creates a Tokenizer.
func New() *Tokenizer {
	return &Tokenizer{
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// CountTokens counts tokens in a text string for a given model.
func (t *Tokenizer) CountTokens(text, model string) (int, error) {
	enc, err := t.getEncoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountMessages counts tokens across a message slice, including the
// per-message framing overhead.
func (t *Tokenizer) CountMessages(messages []domain.Message, model string) (int, error) {
	enc, err := t.getEncoding(model)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(m.Role, nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(enc.Encode(tc.Name, nil, nil))
			total += len(enc.Encode(string(tc.Arguments), nil, nil))
		}
	}
	return total, nil
}

// EstimatePrompt implements the relay usage estimator seam.
func (t *Tokenizer) EstimatePrompt(req domain.ChatRequest) (int, error) {
	n, err := t.CountMessages(req.Messages, req.Model)
	if err != nil {
		return 0, err
	}
	for _, tool := range req.Tools {
		tn, err := t.CountTokens(tool.Name+" "+tool.Description+" "+string(tool.Parameters), req.Model)
		if err != nil {
			return 0, err
		}
		n += tn
	}
	return n, nil
}

// getEncoding returns the encoding for a model, with caching.
func (t *Tokenizer) getEncoding(model string) (*tiktoken.Tiktoken, error) {
	name := resolveEncoding(model)

	t.mu.RLock()
	enc, ok := t.encodings[name]
	t.mu.RUnlock()
	if ok {
		return enc, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok = t.encodings[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	t.encodings[name] = enc
	return enc, nil
}

// resolveEncoding determines the encoding name for a model. Unknown models,
// including the non-OpenAI vendors, fall back to cl100k_base.
func resolveEncoding(model string) string {
	lower := strings.ToLower(model)
	for _, me := range modelEncodings {
		if strings.HasPrefix(lower, me.prefix) {
			return me.encoding
		}
	}
	return EncodingCL100kBase
}
