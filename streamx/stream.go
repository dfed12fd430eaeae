package streamx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"llmrelay/domain"
)

// DecodeFunc parses one raw event payload into the shared chunk shape.
// Adapters supply their vendor-specific decoding through this seam.
type DecodeFunc func(data []byte) (*domain.StreamChunk, error)

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

// WithUsageFunc registers a callback invoked whenever a chunk carries a usage
// block. Vendors send usage at most once, on the final chunk.
func WithUsageFunc(fn func(domain.Usage)) Option {
	return func(s *Stream) { s.onUsage = fn }
}

// Stream is the pull-based pipeline from a raw response body to normalized
// chunks: frame decoding, adapter decode, reasoning-text flattening, and
// tool-call accumulation. It implements domain.Stream.
//
// Nothing is read from the body except inside Recv, so abandoning the stream
// stops consumption; Close releases the connection. All state (decode buffer,
// detected format, accumulator) is exclusively owned by this stream and is
// created and destroyed with it.
type Stream struct {
	body    io.Closer
	dec     *Decoder
	decode  DecodeFunc
	acc     *ToolCallAccumulator
	logger  *slog.Logger
	onUsage func(domain.Usage)

	once   *domain.StreamChunk
	closed bool
	done   bool
}

// Compile-time interface assertion.
var _ domain.Stream = (*Stream)(nil)

// New builds a stream over an open response body using the adapter's decode
// function. The caller must Close the returned stream.
func New(body io.ReadCloser, decode DecodeFunc, opts ...Option) *Stream {
	s := &Stream{
		body:   body,
		decode: decode,
		acc:    NewToolCallAccumulator(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dec = NewDecoder(body, s.logger)
	return s
}

// Once wraps a single already-complete chunk as a one-item stream. Used by
// the dispatcher for adapters that do not speak a streaming frame format.
func Once(chunk *domain.StreamChunk, opts ...Option) *Stream {
	s := &Stream{
		once:   chunk,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recv returns the next normalized chunk. io.EOF marks a clean end of
// stream. An error satisfying errors.Is(err, domain.ErrDecode) refers to one
// malformed event; the stream continues and Recv may be called again. Any
// other error is terminal.
func (s *Stream) Recv() (*domain.StreamChunk, error) {
	if s.closed {
		return nil, domain.ErrStreamClosed
	}
	if s.done {
		return nil, io.EOF
	}

	if s.once != nil {
		chunk := s.once
		s.once = nil
		s.done = true
		s.deliver(chunk)
		return chunk, nil
	}

	data, err := s.dec.Next()
	if err != nil {
		s.done = true
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		// A failed read aborts the stream: one terminal failed item, then end.
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	chunk, err := s.decode(data)
	if err != nil {
		// One failed item; the rest of the sequence is still consumable.
		s.logger.Debug("dropping malformed stream event", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	s.deliver(chunk)
	return chunk, nil
}

// deliver applies the shared post-decode steps to a chunk: text flattening,
// tool-call accumulation, and the usage callback.
func (s *Stream) deliver(chunk *domain.StreamChunk) {
	for i := range chunk.Choices {
		delta := &chunk.Choices[i].Delta
		flattenText(delta)
		if s.acc != nil {
			delta.ToolCalls = s.acc.Merge(delta.ToolCallDeltas)
		}
		delta.ToolCallDeltas = nil
	}
	if chunk.Usage != nil && s.onUsage != nil {
		s.onUsage(*chunk.Usage)
	}
}

// Close releases the underlying connection. It is safe to call repeatedly.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}

// Truncated reports whether the source ended mid-event; see Decoder.Truncated.
func (s *Stream) Truncated() bool {
	return s.dec != nil && s.dec.Truncated()
}

// flattenText populates the primary content field from the first non-empty
// vendor reasoning synonym when content itself is empty, so downstream
// consumers read one field name regardless of vendor vocabulary.
func flattenText(d *domain.ChunkDelta) {
	if d.Content != "" {
		return
	}
	for _, alt := range []string{d.ReasoningContent, d.Reasoning, d.Thinking, d.Thought} {
		if alt != "" {
			d.Content = alt
			return
		}
	}
}
