package model

// FieldMap maps normalized field names to decoded values. Keys keep their
// first insertion order. A FieldMap is immutable once built; use
// FieldMapBuilder to construct one.
type FieldMap struct {
	keys   []string
	values map[string]Value
}

// Len returns the number of fields.
func (m FieldMap) Len() int { return len(m.keys) }

// Keys returns the field names in first-insertion order.
func (m FieldMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the value stored under key, or the missing marker.
func (m FieldMap) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// FieldMapBuilder accumulates fields for a FieldMap.
type FieldMapBuilder struct {
	keys   []string
	values map[string]Value
}

func NewFieldMapBuilder() *FieldMapBuilder {
	return &FieldMapBuilder{values: make(map[string]Value)}
}

// Set stores v under key, replacing any earlier value but keeping the
// key's original position. Missing values are ignored.
func (b *FieldMapBuilder) Set(key string, v Value) {
	if v.IsMissing() {
		return
	}
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = v
}

// Delete removes key and its position.
func (b *FieldMapBuilder) Delete(key string) {
	if _, ok := b.values[key]; !ok {
		return
	}
	delete(b.values, key)
	for i, k := range b.keys {
		if k == key {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
}

// Get returns the value accumulated so far under key.
func (b *FieldMapBuilder) Get(key string) (Value, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Build returns the finished FieldMap. The builder must not be reused.
func (b *FieldMapBuilder) Build() FieldMap {
	m := FieldMap{keys: b.keys, values: b.values}
	b.keys, b.values = nil, nil
	return m
}
