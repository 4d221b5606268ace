package utils

// OrderedMap is a map that preserves key insertion order.
// It is not safe for concurrent use.
type OrderedMap[K comparable, V any] struct {
	keys   []K
	values map[K]V
}

// NewOrderedMap creates a new empty OrderedMap.
func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{
		keys:   make([]K, 0),
		values: make(map[K]V),
	}
}

// SetIfAbsent stores value under key only when the key is not present yet.
// It reports whether the value was stored.
func (om *OrderedMap[K, V]) SetIfAbsent(key K, value V) bool {
	if _, exists := om.values[key]; exists {
		return false
	}
	om.keys = append(om.keys, key)
	om.values[key] = value
	return true
}

// Get retrieves the value for a key.
func (om *OrderedMap[K, V]) Get(key K) (V, bool) {
	v, ok := om.values[key]
	return v, ok
}

// Values returns the values in key insertion order.
func (om *OrderedMap[K, V]) Values() []V {
	out := make([]V, 0, len(om.keys))
	for _, k := range om.keys {
		out = append(out, om.values[k])
	}
	return out
}

// Len returns the number of entries.
func (om *OrderedMap[K, V]) Len() int {
	return len(om.keys)
}

// Clone returns a shallow copy that can be extended without touching om.
func (om *OrderedMap[K, V]) Clone() *OrderedMap[K, V] {
	c := &OrderedMap[K, V]{
		keys:   make([]K, len(om.keys), len(om.keys)+1),
		values: make(map[K]V, len(om.values)+1),
	}
	copy(c.keys, om.keys)
	for k, v := range om.values {
		c.values[k] = v
	}
	return c
}
