package base

import (
	"strings"
)

// HeaderEntry is a single name/value pair as it appears on the wire.
type HeaderEntry struct {
	Name  string
	Value string

	deleted bool
}

// HeaderStore is an ordered list of header name/value pairs with
// case/separator-insensitive name lookup and by-index access.
//
// Lookups normalise the queried name (lowercase, with every underscore and
// dash removed) so that "Content-Length", "content_length" and
// "-content-length" all resolve to the same entries, while the original
// casing supplied by Add is preserved on the wire.
type HeaderStore struct {
	entries []HeaderEntry
	index   map[string][]int
}

// NewHeaderStore allocates an empty HeaderStore.
func NewHeaderStore() *HeaderStore {
	return &HeaderStore{
		index: make(map[string][]int),
	}
}

func normalizeName(name string) string {
	if strings.HasPrefix(name, "-") {
		name = name[1:]
	}
	name = strings.ReplaceAll(name, "_", "")
	name = strings.ReplaceAll(name, "-", "")
	return strings.ToLower(name)
}

// Add appends a new name/value pair, irrespective of whether the name
// already exists.
func (h *HeaderStore) Add(name, value string) {
	pos := len(h.entries)
	h.entries = append(h.entries, HeaderEntry{Name: name, Value: value})
	key := normalizeName(name)
	h.index[key] = append(h.index[key], pos)
}

// Get returns the value of the n-th (1-based) occurrence of name, or
// ("", false) if it does not exist. n defaults to 1 when <= 0.
func (h *HeaderStore) Get(name string, n int) (string, bool) {
	if n <= 0 {
		n = 1
	}
	positions := h.index[normalizeName(name)]
	if n > len(positions) {
		return "", false
	}
	return h.entries[positions[n-1]].Value, true
}

// GetFirst is a convenience wrapper around Get(name, 1).
func (h *HeaderStore) GetFirst(name string) (string, bool) {
	return h.Get(name, 1)
}

// GetAll returns every occurrence of name, in insertion order. Used for
// headers a server may legitimately repeat, such as WWW-Authenticate
// offering more than one challenge.
func (h *HeaderStore) GetAll(name string) []string {
	positions := h.index[normalizeName(name)]
	out := make([]string, 0, len(positions))
	for _, pos := range positions {
		out = append(out, h.entries[pos].Value)
	}
	return out
}

// Set overwrites the value of the n-th occurrence of name, or appends a new
// entry if it does not exist. n defaults to 1 when <= 0.
func (h *HeaderStore) Set(name, value string, n int) {
	if n <= 0 {
		n = 1
	}
	positions := h.index[normalizeName(name)]
	if n <= len(positions) {
		h.entries[positions[n-1]].Value = value
		return
	}
	h.Add(name, value)
}

// Remove deletes the n-th occurrence of name. n defaults to 1 when <= 0.
// It is a no-op if the occurrence does not exist.
func (h *HeaderStore) Remove(name string, n int) {
	if n <= 0 {
		n = 1
	}
	key := normalizeName(name)
	positions := h.index[key]
	if n > len(positions) {
		return
	}
	pos := positions[n-1]
	h.entries[pos].Value = ""
	h.entries[pos].deleted = true
	h.rebuildIndex()
}

// rebuildIndex drops tombstoned entries and recomputes name->positions.
func (h *HeaderStore) rebuildIndex() {
	newEntries := h.entries[:0]
	for _, e := range h.entries {
		if !e.deleted {
			newEntries = append(newEntries, e)
		}
	}
	h.entries = newEntries
	h.index = make(map[string][]int)
	for i, e := range h.entries {
		key := normalizeName(e.Name)
		h.index[key] = append(h.index[key], i)
	}
}

// IsSet reports whether name has at least one occurrence.
func (h *HeaderStore) IsSet(name string) bool {
	return len(h.index[normalizeName(name)]) > 0
}

// Len returns the number of stored entries.
func (h *HeaderStore) Len() int {
	return len(h.entries)
}

// At returns the i-th entry by insertion order (0-based).
func (h *HeaderStore) At(i int) (HeaderEntry, bool) {
	if i < 0 || i >= len(h.entries) {
		return HeaderEntry{}, false
	}
	return h.entries[i], true
}

// Serialize emits "Name: Value\r\n" for each stored entry, in insertion
// order. An entry whose Value is empty but whose Name is set still emits
// the "Name:" line.
func (h *HeaderStore) Serialize() []byte {
	var b strings.Builder
	for _, e := range h.entries {
		b.WriteString(e.Name)
		b.WriteByte(':')
		if e.Value != "" {
			b.WriteByte(' ')
			b.WriteString(e.Value)
		}
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// Clone returns a deep copy, so that annotating a cloned store (e.g. adding
// a Session header to a buffered request) never mutates the original.
func (h *HeaderStore) Clone() *HeaderStore {
	c := NewHeaderStore()
	for _, e := range h.entries {
		c.Add(e.Name, e.Value)
	}
	return c
}
