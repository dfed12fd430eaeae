// Package relay dispatches chat requests to vendor APIs through a small
// adapter seam. The dispatcher owns transport, retry, rate limiting, tracing
// and usage accounting; adapters own only the vendor-specific request and
// response shapes.
package relay

import (
	"llmrelay/domain"
)

// Header is one HTTP header to set on outgoing requests. Auth headers are a
// slice, not a map, so adapters control the order they are applied in.
type Header struct {
	Key   string
	Value string
}

// Adapter translates between the shared request/response shapes and one
// vendor's wire format. Adapters hold their own endpoint and credential
// configuration; the dispatcher never inspects vendor payloads.
type Adapter interface {
	// Name identifies the vendor ("openai", "anthropic", ...).
	Name() string

	// Endpoint returns the full chat URL.
	Endpoint() string

	// BuildRequest serializes a chat request into the vendor's body format.
	// The stream flag in the request selects streaming framing where the
	// vendor distinguishes the two.
	BuildRequest(req domain.ChatRequest) ([]byte, error)

	// ParseResponse decodes a complete non-streaming response body.
	ParseResponse(body []byte) (*domain.ChatResponse, error)

	// DecodeChunk decodes one streaming event payload. The dispatcher's
	// stream pipeline handles framing, flattening and tool-call assembly.
	DecodeChunk(data []byte) (*domain.StreamChunk, error)

	// MapError converts a non-2xx status and body into a domain error. The
	// body is always syntactically valid JSON; the dispatcher substitutes an
	// empty object when the vendor returned garbage.
	MapError(status int, body []byte) error

	// AuthHeaders returns the credential headers, in application order.
	AuthHeaders() []Header

	// StreamFraming reports whether the vendor speaks a streaming frame
	// format. When false the dispatcher satisfies ChatStream with a
	// single-chunk stream built from the non-streaming call.
	StreamFraming() bool
}
