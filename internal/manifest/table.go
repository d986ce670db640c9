package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Table is a string-keyed table that remembers the order in which its keys
// were declared. JSON objects decode into a Table without losing that order,
// which the resolver depends on for its first-occurrence deduplication.
type Table[T any] struct {
	keys   []string
	values map[string]T
}

// Set stores v under key. A new key is appended to the declaration order; an
// existing key keeps its position.
func (t *Table[T]) Set(key string, v T) {
	if t.values == nil {
		t.values = make(map[string]T)
	}
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = v
}

// Get returns the value stored under key.
func (t Table[T]) Get(key string) (T, bool) {
	v, ok := t.values[key]
	return v, ok
}

// Has reports whether key is present.
func (t Table[T]) Has(key string) bool {
	_, ok := t.values[key]
	return ok
}

// Keys returns the keys in declaration order.
func (t Table[T]) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Len returns the number of keys.
func (t Table[T]) Len() int {
	return len(t.keys)
}

// Select returns a new table holding only the keys for which keep returns
// true, in the original order. Values are shared with the receiver.
func (t Table[T]) Select(keep func(key string) bool) Table[T] {
	var out Table[T]
	out.values = make(map[string]T)
	for _, k := range t.keys {
		if keep(k) {
			out.Set(k, t.values[k])
		}
	}
	return out
}

// UnmarshalJSON decodes a JSON object, preserving key order. A JSON null
// leaves the table empty.
func (t *Table[T]) UnmarshalJSON(data []byte) error {
	t.keys = nil
	t.values = make(map[string]T)

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected a JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected an object key, got %v", tok)
		}
		var v T
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		t.Set(key, v)
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the table as a JSON object in declaration order.
func (t Table[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range t.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(t.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
