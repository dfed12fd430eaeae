package relay

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"llmrelay/retry"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default pooled HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRetryPolicy sets the retry backoff policy.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithClassifier replaces the default error classifier. A nil classifier
// disables retrying entirely.
func WithClassifier(cl retry.Classifier) ClientOption {
	return func(c *Client) { c.classifier = cl }
}

// WithRateLimiter applies a client-side request rate limit.
func WithRateLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithUsageEstimator sets the local token estimator used when the vendor
// reports no usage.
func WithUsageEstimator(e UsageEstimator) ClientOption {
	return func(c *Client) { c.estimator = e }
}

// WithUsageRecorder sets the usage ledger sink.
func WithUsageRecorder(r UsageRecorder) ClientOption {
	return func(c *Client) { c.recorder = r }
}
