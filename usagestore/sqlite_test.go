package usagestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/domain"
	"llmrelay/relay"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndTotals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []relay.UsageRecord{
		{
			RequestID: "req-1", Provider: "openai", Model: "gpt-4o",
			Usage:    domain.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
			Duration: 120 * time.Millisecond, Status: "ok",
		},
		{
			RequestID: "req-2", Provider: "openai", Model: "gpt-4o",
			Usage:    domain.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
			Duration: 80 * time.Millisecond, Status: "ok", Streamed: true,
		},
		{
			RequestID: "req-3", Provider: "anthropic", Model: "claude-sonnet-4",
			Usage:    domain.Usage{TotalTokens: 7},
			Duration: time.Second, Status: "error",
		},
	}
	for _, rec := range recs {
		require.NoError(t, s.Record(ctx, rec))
	}

	totals, err := s.Totals(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 40, totals["openai"])
	assert.Equal(t, 7, totals["anthropic"])
}

func TestRecordUpsertsByRequestID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := relay.UsageRecord{
		RequestID: "req-1", Provider: "openai", Model: "gpt-4o",
		Usage: domain.Usage{TotalTokens: 10}, Status: "ok",
	}
	require.NoError(t, s.Record(ctx, rec))

	rec.Usage.TotalTokens = 25
	require.NoError(t, s.Record(ctx, rec))

	totals, err := s.Totals(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 25, totals["openai"])
}

func TestTotalsSinceCutoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, relay.UsageRecord{
		RequestID: "req-1", Provider: "openai", Model: "m",
		Usage: domain.Usage{TotalTokens: 10}, Status: "ok",
	}))

	totals, err := s.Totals(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, totals)
}
