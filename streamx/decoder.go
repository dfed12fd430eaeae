// Package streamx normalizes vendor-specific streaming byte sources into an
// ordered sequence of typed incremental chunks. It tolerates arbitrary chunk
// boundaries: a single event may span many reads and a single read may carry
// many events plus a partial trailing one.
package streamx

import (
	"bytes"
	"io"
	"log/slog"
)

// Format identifies the wire framing of a streaming response body.
type Format int

const (
	// FormatUnknown means not enough bytes have arrived to decide.
	FormatUnknown Format = iota
	// FormatSSE is the Server-Sent Events convention: blank-line-terminated
	// records with "data:"-prefixed payload lines.
	FormatSSE
	// FormatNDJSON is newline-delimited JSON, one object per line.
	FormatNDJSON
)

func (f Format) String() string {
	switch f {
	case FormatSSE:
		return "sse"
	case FormatNDJSON:
		return "ndjson"
	default:
		return "unknown"
	}
}

// doneSentinel is the terminal marker used by SSE-style chat APIs. It is
// recognized in both framings and never forwarded.
var doneSentinel = []byte("[DONE]")

var dataPrefix = []byte("data:")

const readChunkSize = 16 * 1024

// Decoder turns an ordered byte-chunk source into complete event payloads.
//
// The framing format is detected once from the buffered prefix and is sticky:
// content that later resembles the other format never triggers re-detection.
// The internal buffer holds partial, unterminated event text across chunk
// boundaries and is only drained as complete events are extracted.
//
// A Decoder is owned by exactly one stream and is not safe for concurrent use.
type Decoder struct {
	r      io.Reader
	logger *slog.Logger

	buf       []byte
	readBuf   []byte
	format    Format
	pendingCR bool
	eof       bool
	truncated bool
}

// NewDecoder creates a decoder reading from r. The logger may be nil.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		r:       r,
		logger:  logger,
		readBuf: make([]byte, readChunkSize),
	}
}

// Format returns the detected framing format, or FormatUnknown before enough
// bytes have arrived to decide.
func (d *Decoder) Format() Format { return d.format }

// Truncated reports whether the source ended with a non-empty unterminated
// remainder in the buffer. The remainder is discarded, since end of source is
// treated as end of stream rather than a decode error. Callers that care about
// upstream truncation can inspect this after Next returns io.EOF.
func (d *Decoder) Truncated() bool { return d.truncated }

// Next returns the next complete event payload, ready for JSON decoding.
// It returns io.EOF when the source is exhausted, or the source's read error
// verbatim. The terminal sentinel [DONE] and payload-free events (comments,
// keep-alives) are consumed silently and never surface.
func (d *Decoder) Next() ([]byte, error) {
	for {
		if d.format == FormatUnknown {
			d.detect()
		}

		if d.format != FormatUnknown {
			payload, ok := d.extract()
			if ok {
				if payload == nil {
					// Event with no surviving payload; keep going.
					continue
				}
				return payload, nil
			}
		}

		if d.eof {
			d.finish()
			return nil, io.EOF
		}

		if err := d.fill(); err != nil {
			if err == io.EOF {
				continue // one more extraction pass over the remainder
			}
			return nil, err
		}
	}
}

// fill reads one chunk from the source, normalizes CRLF to LF, and appends it
// to the buffer. A chunk ending in a bare CR is held back one round in case
// the matching LF arrives in the next chunk.
func (d *Decoder) fill() error {
	n, err := d.r.Read(d.readBuf)
	for _, b := range d.readBuf[:n] {
		if d.pendingCR {
			d.pendingCR = false
			if b == '\n' {
				d.buf = append(d.buf, '\n')
				continue
			}
			d.buf = append(d.buf, '\r')
		}
		if b == '\r' {
			d.pendingCR = true
			continue
		}
		d.buf = append(d.buf, b)
	}
	if err == io.EOF {
		d.eof = true
		if d.pendingCR {
			d.pendingCR = false
			d.buf = append(d.buf, '\r')
		}
		return io.EOF
	}
	return err
}

// detect inspects the buffered prefix for structural cues. Absence of enough
// data is not an error; detection simply waits for more bytes.
func (d *Decoder) detect() {
	trimmed := bytes.TrimLeft(d.buf, " \t\n")
	if bytes.HasPrefix(trimmed, dataPrefix) {
		d.format = FormatSSE
		return
	}
	if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
		if len(trimmed) > 0 && trimmed[0] == '{' {
			d.format = FormatNDJSON
			return
		}
		// The first line is something else (an "event:" or comment line).
		// If any complete line carries a data: prefix, this is SSE.
		for _, line := range bytes.Split(d.buf[:bytes.LastIndexByte(d.buf, '\n')], []byte("\n")) {
			if bytes.HasPrefix(bytes.TrimSpace(line), dataPrefix) {
				d.format = FormatSSE
				return
			}
		}
	}
}

// extract attempts to drain one complete event from the buffer. The second
// return value is false when no complete event boundary is present yet; a
// (nil, true) result means a boundary was consumed but produced no payload.
func (d *Decoder) extract() ([]byte, bool) {
	switch d.format {
	case FormatSSE:
		return d.extractSSE()
	case FormatNDJSON:
		return d.extractNDJSON()
	default:
		return nil, false
	}
}

// extractSSE drains one blank-line-terminated event block. Only data: lines
// are retained; multiple data: lines join with a single newline per the SSE
// convention. Blocks with no surviving data line (comments, keep-alives)
// yield no payload, which is not an error.
func (d *Decoder) extractSSE() ([]byte, bool) {
	i := bytes.Index(d.buf, []byte("\n\n"))
	if i < 0 {
		return nil, false
	}
	block := d.buf[:i]
	d.buf = d.buf[i+2:]

	var dataLines [][]byte
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		val := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(val, doneSentinel) {
			continue
		}
		dataLines = append(dataLines, val)
	}
	if len(dataLines) == 0 {
		return nil, true
	}
	return bytes.Join(dataLines, []byte("\n")), true
}

// extractNDJSON drains one newline-terminated line. Some servers prefix NDJSON
// lines with data: anyway, so that prefix is stripped; empty lines and the
// sentinel are skipped.
func (d *Decoder) extractNDJSON() ([]byte, bool) {
	i := bytes.IndexByte(d.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line := bytes.TrimSpace(d.buf[:i])
	d.buf = d.buf[i+1:]

	line = bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))
	if len(line) == 0 || bytes.Equal(line, doneSentinel) {
		return nil, true
	}
	return line, true
}

// finish runs once the source is exhausted and no further event can be
// extracted. A non-empty remainder means the upstream closed mid-event; it is
// discarded silently so end of source reads as end of stream.
func (d *Decoder) finish() {
	if len(bytes.TrimSpace(d.buf)) > 0 {
		d.truncated = true
		d.logger.Debug("discarding unterminated stream remainder",
			"format", d.format.String(),
			"bytes", len(d.buf),
		)
	}
	d.buf = nil
}
