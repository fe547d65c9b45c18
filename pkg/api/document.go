package api

import "strings"

// Document is the structured, accumulating data carried through a
// workflow execution, and the payload shape of events. Nested fields
// are addressed with dot-separated paths, e.g. "address.street".
//
// Steps should add new keys rather than mutate existing ones; the
// engine never enforces this, but replay after a crash is only exact
// when steps follow it.
type Document map[string]any

// Get resolves a dot-separated path. The second return value reports
// whether the full path was present.
func (d Document) Get(path string) (any, bool) {
	if d == nil || path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = map[string]any(d)
	for _, p := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString is Get with a string assertion; missing or non-string
// values yield ("", false).
func (d Document) GetString(path string) (string, bool) {
	v, ok := d.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set writes v at a dot-separated path, creating intermediate maps as
// needed. Intermediate non-map values are overwritten.
func (d Document) Set(path string, v any) {
	if d == nil || path == "" {
		return
	}
	parts := strings.Split(path, ".")
	cur := map[string]any(d)
	for _, p := range parts[:len(parts)-1] {
		next, ok := asMap(cur[p])
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// Merge copies every top-level key of other into d, overwriting
// existing keys. Values are deep-copied so the two documents never
// share mutable state afterwards.
func (d Document) Merge(other Document) {
	for k, v := range other {
		d[k] = cloneValue(v)
	}
}

// Clone returns a deep copy. Nested maps and slices are copied;
// scalar values are shared (they are immutable in practice).
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return map[string]any(t.Clone())
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return t, true
	default:
		return nil, false
	}
}
