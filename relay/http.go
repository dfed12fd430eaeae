package relay

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"llmrelay/config"
	"llmrelay/domain"
)

// maxResponseBody is the maximum response body size read from vendor APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// maxErrorBody bounds how much of a failed streaming response is read for the
// error detail.
const maxErrorBody = 4096

// Default connection pool settings for LLM API traffic: few hosts, high
// concurrency, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second

	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling sized
// for LLM API calls.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates an *http.Client with pooled transport and timeout
// defaults suitable for LLM providers. The overall client timeout is left
// unset: streaming responses can legitimately outlive any fixed deadline, and
// per-request contexts bound the non-streaming path.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	respTimeout := cfg.RespTimeout
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	return &http.Client{
		Transport: NewPooledTransport(connTimeout, respTimeout, cfg.Pool),
	}
}

// MapStatusError is the shared status-to-domain-error mapping used by adapters
// whose vendors follow conventional HTTP semantics. The "API error NNN:"
// prefix is load-bearing: the retry classifier extracts the status from it
// when no sentinel survives wrapping.
func MapStatusError(status int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", status, body)

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrUpstream, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}
