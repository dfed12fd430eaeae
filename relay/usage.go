package relay

import (
	"context"
	"time"

	"llmrelay/domain"
)

// UsageRecord is one accounting row for a dispatched request.
type UsageRecord struct {
	RequestID string
	Provider  string
	Model     string
	Usage     domain.Usage
	Duration  time.Duration
	Status    string // "ok" or "error"
	Streamed  bool
}

// UsageRecorder persists usage records. Implementations must tolerate
// concurrent calls.
type UsageRecorder interface {
	Record(ctx context.Context, rec UsageRecord) error
}

// UsageEstimator counts prompt tokens locally, for requests whose vendor
// reported no usage block.
type UsageEstimator interface {
	EstimatePrompt(req domain.ChatRequest) (int, error)
}
