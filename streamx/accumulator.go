package streamx

import (
	"encoding/json"
	"sort"

	"llmrelay/domain"
)

// maxToolCallSlots bounds the number of distinct tool-call indices the
// accumulator will track. Indices beyond this are silently dropped to prevent
// memory exhaustion from malformed streaming deltas.
const maxToolCallSlots = 50

// toolCallState is one in-progress tool call keyed by its position index.
type toolCallState struct {
	id      string
	name    string
	args    []byte
	emitted bool
}

// ToolCallAccumulator merges fragmented tool-call deltas across the chunks of
// one streamed response. Vendors typically send id and name in the first
// fragment and argument text incrementally afterward; a call is surfaced
// exactly once, fully formed, and never before its arguments parse as a JSON
// object.
//
// Stream embeds one automatically; providers that bypass the byte pipeline
// (SDK-based transports) use it directly.
type ToolCallAccumulator struct {
	calls map[int]*toolCallState
}

// NewToolCallAccumulator creates an empty accumulator for one response.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*toolCallState)}
}

// Merge folds a chunk's delta fragments into the accumulator and returns the
// calls that became complete, in index order. Merge rules: a new index is
// inserted verbatim; for an existing index, id and name adopt the incoming
// value only if still empty (first write wins) and argument text always
// appends.
func (a *ToolCallAccumulator) Merge(deltas []domain.ToolCallDelta) []domain.ToolCall {
	for _, d := range deltas {
		if d.Index < 0 || d.Index >= maxToolCallSlots {
			continue
		}
		st, ok := a.calls[d.Index]
		if !ok {
			st = &toolCallState{}
			a.calls[d.Index] = st
		}
		if st.id == "" {
			st.id = d.ID
		}
		if st.name == "" {
			st.name = d.Name
		}
		st.args = append(st.args, d.Arguments...)
	}

	var ready []int
	for idx, st := range a.calls {
		if !st.emitted && st.complete() {
			ready = append(ready, idx)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Ints(ready)

	out := make([]domain.ToolCall, 0, len(ready))
	for _, idx := range ready {
		st := a.calls[idx]
		st.emitted = true
		out = append(out, domain.ToolCall{
			ID:        st.id,
			Name:      st.name,
			Arguments: json.RawMessage(append([]byte(nil), st.args...)),
		})
	}
	return out
}

// complete reports whether the record can be surfaced: non-empty id and name,
// and argument text that forms a syntactically valid JSON object.
// Completeness is always derived, never stored.
func (s *toolCallState) complete() bool {
	if s.id == "" || s.name == "" {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(s.args, &obj) == nil && obj != nil
}
