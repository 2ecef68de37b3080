package proxy

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"maps"
	"sort"

	"github.com/teslashibe/go-callbridge/pkg/sanitize"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Rewriter sanitizes the text deltas of one server-sent event stream.
// Markup split across records is held back per choice until it resolves,
// so a record's content may shrink or be emptied; the held text is
// released with the choice's finish_reason or at the end of the stream.
// It is not safe for concurrent use; each stream gets its own.
type Rewriter struct {
	logger *slog.Logger

	streams map[int]*sanitize.Stream
	// last is the latest record with choices, minus its choices. Text
	// flushed at the end of the stream goes out in a record shaped like it.
	last map[string]json.RawMessage

	rewritten int
	malformed int
}

// NewRewriter creates a Rewriter for a single stream.
func NewRewriter(logger *slog.Logger) *Rewriter {
	return &Rewriter{
		logger:  logger,
		streams: make(map[int]*sanitize.Stream),
	}
}

// Line rewrites one complete line, terminator included. Lines that are not
// data records, the [DONE] sentinel, and records that fail to decode are
// returned unchanged.
func (r *Rewriter) Line(line []byte) []byte {
	body, term := splitTerminator(line)
	if !bytes.HasPrefix(body, dataPrefix) {
		return line
	}

	payload := bytes.TrimPrefix(body[len(dataPrefix):], []byte(" "))
	if bytes.Equal(bytes.TrimSpace(payload), doneMarker) {
		if held := r.Flush(); len(held) > 0 {
			return append(held, line...)
		}
		return line
	}

	out, changed, err := r.rewritePayload(payload)
	if err != nil {
		r.malformed++
		r.logger.Debug("passing through undecodable record", "error", err, "bytes", len(payload))
		return line
	}
	if !changed {
		return line
	}
	r.rewritten++

	rebuilt := make([]byte, 0, len("data: ")+len(out)+len(term))
	rebuilt = append(rebuilt, "data: "...)
	rebuilt = append(rebuilt, out...)
	rebuilt = append(rebuilt, term...)
	return rebuilt
}

// Flush returns one data record per choice that still has text held back,
// or nil. It is called before [DONE] and when the stream ends.
func (r *Rewriter) Flush() []byte {
	var idxs []int
	for idx, st := range r.streams {
		if st.Pending() {
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)

	var out []byte
	for _, idx := range idxs {
		text := r.streams[idx].Flush()
		if text == "" {
			continue
		}
		rec, err := r.record(idx, text)
		if err != nil {
			r.logger.Warn("dropping held-back text", "error", err, "choice", idx)
			continue
		}
		out = append(out, "data: "...)
		out = append(out, rec...)
		out = append(out, "\n\n"...)
		r.rewritten++
	}
	return out
}

// Stats returns how many records were rewritten and how many failed to decode.
func (r *Rewriter) Stats() (rewritten, malformed int) {
	return r.rewritten, r.malformed
}

func (r *Rewriter) stream(idx int) *sanitize.Stream {
	st, ok := r.streams[idx]
	if !ok {
		st = sanitize.NewStream()
		r.streams[idx] = st
	}
	return st
}

func (r *Rewriter) record(idx int, content string) ([]byte, error) {
	chunk := maps.Clone(r.last)
	if chunk == nil {
		chunk = make(map[string]json.RawMessage, 1)
	}
	choices, err := json.Marshal([]map[string]any{{
		"index": idx,
		"delta": map[string]string{"content": content},
	}})
	if err != nil {
		return nil, err
	}
	chunk["choices"] = choices
	return json.Marshal(chunk)
}

func (r *Rewriter) rewritePayload(payload []byte) ([]byte, bool, error) {
	var chunk map[string]json.RawMessage
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, false, err
	}

	rawChoices, ok := chunk["choices"]
	if !ok {
		return nil, false, nil
	}
	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(rawChoices, &choices); err != nil {
		return nil, false, err
	}

	r.last = maps.Clone(chunk)
	delete(r.last, "choices")

	changed := false
	for pos, choice := range choices {
		idx := pos
		if raw, ok := choice["index"]; ok {
			_ = json.Unmarshal(raw, &idx)
		}
		finished := false
		if raw, ok := choice["finish_reason"]; ok {
			var reason *string
			finished = json.Unmarshal(raw, &reason) == nil && reason != nil
		}

		var delta map[string]json.RawMessage
		if raw, ok := choice["delta"]; ok {
			if err := json.Unmarshal(raw, &delta); err != nil {
				continue
			}
		}
		var content string
		hasContent := false
		if raw, ok := delta["content"]; ok {
			// null decodes as "", which is what it carries.
			hasContent = json.Unmarshal(raw, &content) == nil
		}
		if !hasContent && !finished {
			continue
		}

		st := r.stream(idx)
		var clean string
		if hasContent {
			clean = st.Write(content)
		}
		if finished {
			clean += st.Flush()
		}
		if clean == content {
			continue
		}

		if delta == nil {
			delta = make(map[string]json.RawMessage, 1)
		}
		enc, err := json.Marshal(clean)
		if err != nil {
			return nil, false, err
		}
		delta["content"] = enc
		if choice["delta"], err = json.Marshal(delta); err != nil {
			return nil, false, err
		}
		choices[pos] = choice
		changed = true
	}

	if !changed {
		return nil, false, nil
	}

	var err error
	if chunk["choices"], err = json.Marshal(choices); err != nil {
		return nil, false, err
	}
	out, err := json.Marshal(chunk)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// splitTerminator separates a line from its "\n" or "\r\n" terminator.
func splitTerminator(line []byte) (body, term []byte) {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		if n > 1 && line[n-2] == '\r' {
			return line[:n-2], line[n-2:]
		}
		return line[:n-1], line[n-1:]
	}
	return line, nil
}
