// Package extensions flattens the items contributed by a list of providers
// into a single keyed set.
package extensions

// Set is an insertion-ordered key to item mapping. A Set is never mutated
// after Aggregate or Minus returns it, so it may be shared between goroutines.
type Set[V any] struct {
	keys  []string
	items map[string]V
}

// Aggregate asks every provider for its items and indexes them by key. Later
// providers win on duplicate keys; a key keeps the position where it first
// appeared.
func Aggregate[P any, V any](providers []P, items func(P) []V, key func(V) string) *Set[V] {
	s := &Set[V]{items: make(map[string]V)}
	for _, provider := range providers {
		for _, item := range items(provider) {
			s.put(key(item), item)
		}
	}
	return s
}

func (s *Set[V]) put(key string, item V) {
	if _, exists := s.items[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.items[key] = item
}

// Len returns the number of keys
func (s *Set[V]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Has reports whether key is present
func (s *Set[V]) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.items[key]
	return ok
}

// Get returns the item stored under key
func (s *Set[V]) Get(key string) (V, bool) {
	if s == nil {
		var zero V
		return zero, false
	}
	item, ok := s.items[key]
	return item, ok
}

// Keys returns the keys in insertion order
func (s *Set[V]) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

// Values returns the items in key order
func (s *Set[V]) Values() []V {
	if s == nil {
		return nil
	}
	values := make([]V, 0, len(s.keys))
	for _, k := range s.keys {
		values = append(values, s.items[k])
	}
	return values
}

// Minus returns the entries of s whose keys are absent from other.
func (s *Set[V]) Minus(other *Set[V]) *Set[V] {
	result := &Set[V]{items: make(map[string]V)}
	if s == nil {
		return result
	}
	for _, k := range s.keys {
		if !other.Has(k) {
			result.put(k, s.items[k])
		}
	}
	return result
}
