package domain

import "fmt"

// Sentinel errors for the domain layer. Providers wrap these with detail via
// fmt.Errorf("%w: ...") so callers can classify with errors.Is.
var (
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid  = fmt.Errorf("authentication failed")
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrUpstream     = fmt.Errorf("upstream provider error")
	ErrTransport    = fmt.Errorf("transport failed")
	ErrDecode       = fmt.Errorf("malformed payload")
	ErrStreamClosed = fmt.Errorf("stream closed")
	ErrUnsupported  = fmt.Errorf("operation not supported")
)

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
