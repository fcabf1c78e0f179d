package nix

import "slices"

// OrderedMap is a string-keyed map that encodes its entries in insertion
// order. The zero value is ready to use.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]any)}
}

// Set stores value under key. Re-setting an existing key keeps its position.
func (m *OrderedMap) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m *OrderedMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key and reports whether it was present.
func (m *OrderedMap) Delete(key string) bool {
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	if i := slices.Index(m.keys, key); i >= 0 {
		m.keys = slices.Delete(m.keys, i, i+1)
	}
	return true
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int {
	return len(m.keys)
}

// Keys returns a copy of the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	return slices.Clone(m.keys)
}

// MarshalNix implements Marshaler.
func (m *OrderedMap) MarshalNix() (Value, error) {
	entries := make([]Entry, 0, len(m.keys))
	for _, k := range m.keys {
		v, err := ValueOf(m.values[k])
		if err != nil {
			return Value{}, err
		}
		entries = append(entries, E(k, v))
	}
	return Map(entries...), nil
}

// MapBuilder assembles a map from producers that report each key and its
// value as separate steps, such as streaming decoders. Every Key must be
// followed by exactly one Value.
//
// The first contract violation is sticky and returned again by Build.
type MapBuilder struct {
	entries []Entry
	pending *Value
	err     error
}

// Key records the key of the next entry.
func (b *MapBuilder) Key(k Value) error {
	if b.err != nil {
		return b.err
	}
	if b.pending != nil {
		b.err = ErrKeyWithoutValue
		return b.err
	}
	b.pending = &k
	return nil
}

// Value completes the entry started by the last Key.
func (b *MapBuilder) Value(v Value) error {
	if b.err != nil {
		return b.err
	}
	if b.pending == nil {
		b.err = ErrValueWithoutKey
		return b.err
	}
	b.entries = append(b.entries, Entry{Key: *b.pending, Value: v})
	b.pending = nil
	return nil
}

// Entry adds a complete entry.
func (b *MapBuilder) Entry(k, v Value) error {
	if err := b.Key(k); err != nil {
		return err
	}
	return b.Value(v)
}

// Len returns the number of complete entries.
func (b *MapBuilder) Len() int {
	return len(b.entries)
}

// Build returns the map. It fails if a contract violation occurred or a key
// is still waiting for its value.
func (b *MapBuilder) Build() (Value, error) {
	if b.err != nil {
		return Value{}, b.err
	}
	if b.pending != nil {
		return Value{}, ErrKeyWithoutValue
	}
	return Map(b.entries...), nil
}
