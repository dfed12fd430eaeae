// Package retry provides bounded retry with exponential backoff and error
// classification for LLM provider calls.
package retry

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"llmrelay/domain"
)

// Category indicates whether an error is worth retrying.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryTransient covers 429, 5xx and connection-level failures.
	CategoryTransient
	// CategoryPermanent covers auth, validation and malformed-request errors.
	CategoryPermanent
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classified holds the result of error classification.
type Classified struct {
	Original   error
	Category   Category
	Sentinel   error // mapped domain sentinel (e.g. domain.ErrRateLimit), or nil
	StatusCode int   // extracted HTTP status, or 0 if unknown
}

// Retryable reports whether the executor should try again. Only transient
// failures qualify; unknown errors are treated as permanent.
func (c Classified) Retryable() bool { return c.Category == CategoryTransient }

// Classifier categorizes provider errors.
type Classifier interface {
	Classify(err error) Classified
}

// DefaultClassifier inspects wrapped domain sentinels first, then the
// "API error NNN:" status pattern emitted by providers, then falls back to
// string matching for network-level errors.
type DefaultClassifier struct{}

// NewClassifier creates the default classifier.
func NewClassifier() *DefaultClassifier {
	return &DefaultClassifier{}
}

// apiErrorPattern matches "API error <status_code>:" produced by all providers.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// Classify inspects an error and returns its category and mapped sentinel.
func (c *DefaultClassifier) Classify(err error) Classified {
	if err == nil {
		return Classified{}
	}

	if cl := c.classifyBySentinel(err); cl.Category != CategoryUnknown {
		return cl
	}

	errStr := err.Error()
	if matches := apiErrorPattern.FindStringSubmatch(errStr); len(matches) == 2 {
		code, _ := strconv.Atoi(matches[1])
		return c.classifyByStatus(err, code)
	}

	return c.classifyByString(err, errStr)
}

func (c *DefaultClassifier) classifyBySentinel(err error) Classified {
	switch {
	case errors.Is(err, domain.ErrRateLimit):
		return Classified{Original: err, Category: CategoryTransient, Sentinel: domain.ErrRateLimit}
	case errors.Is(err, domain.ErrUpstream):
		return Classified{Original: err, Category: CategoryTransient, Sentinel: domain.ErrUpstream}
	case errors.Is(err, domain.ErrTransport):
		return Classified{Original: err, Category: CategoryTransient, Sentinel: domain.ErrTransport}
	case errors.Is(err, domain.ErrAuthInvalid):
		return Classified{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrAuthInvalid}
	case errors.Is(err, domain.ErrInvalidInput):
		return Classified{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrInvalidInput}
	case errors.Is(err, domain.ErrNotFound):
		return Classified{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrNotFound}
	case errors.Is(err, domain.ErrDecode):
		return Classified{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrDecode}
	case errors.Is(err, domain.ErrUnsupported):
		return Classified{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrUnsupported}
	default:
		return Classified{Original: err, Category: CategoryUnknown}
	}
}

func (c *DefaultClassifier) classifyByStatus(err error, code int) Classified {
	switch {
	case code == 429:
		return Classified{Original: err, Category: CategoryTransient, Sentinel: domain.ErrRateLimit, StatusCode: code}
	case code == 401 || code == 403:
		return Classified{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrAuthInvalid, StatusCode: code}
	case code == 404:
		return Classified{Original: err, Category: CategoryPermanent, Sentinel: domain.ErrNotFound, StatusCode: code}
	case code == 408:
		return Classified{Original: err, Category: CategoryTransient, StatusCode: code}
	case code >= 500 && code < 600:
		return Classified{Original: err, Category: CategoryTransient, Sentinel: domain.ErrUpstream, StatusCode: code}
	default:
		return Classified{Original: err, Category: CategoryPermanent, StatusCode: code}
	}
}

func (c *DefaultClassifier) classifyByString(err error, errStr string) Classified {
	lower := strings.ToLower(errStr)

	for _, p := range []string{"rate limit", "too many requests"} {
		if strings.Contains(lower, p) {
			return Classified{Original: err, Category: CategoryTransient, Sentinel: domain.ErrRateLimit}
		}
	}

	for _, p := range []string{
		"connection refused", "no such host", "timeout",
		"deadline exceeded", "connection reset", "broken pipe",
		"unexpected eof",
	} {
		if strings.Contains(lower, p) {
			return Classified{Original: err, Category: CategoryTransient}
		}
	}

	return Classified{Original: err, Category: CategoryUnknown}
}
