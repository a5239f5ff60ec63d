// Package strings provides string-set helpers shared by kernel records.
package strings

import "sort"

// SortedUnique removes duplicates and empty strings, then sorts lexically.
// Values are compared exactly: IDs are opaque, so " a" and "a" are distinct.
// It never returns nil, so an empty set always serializes as [] rather than
// null.
//
// Example:
//
//	SortedUnique([]AuthorityID{"b", "a", "", "b"})
//	// Returns: []AuthorityID{"a", "b"}
func SortedUnique[T ~string](values []T) []T {
	seen := make(map[T]struct{}, len(values))
	result := make([]T, 0, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// ToStrings converts a slice of string-kinded values to []string.
func ToStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
