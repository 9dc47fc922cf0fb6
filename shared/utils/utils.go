package utils

import (
	"cmp"
	"slices"
)

// SortedKeys returns the keys of m in ascending order
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MapToSlice returns the values of m ordered by key
func MapToSlice[K cmp.Ordered, V any](m map[K]V) []V {
	s := make([]V, 0, len(m))
	for _, k := range SortedKeys(m) {
		s = append(s, m[k])
	}
	return s
}
