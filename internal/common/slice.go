// Package common provides small shared utilities used across Flare's
// internal packages.
package common

import "slices"

// CloneOrEmpty returns a copy of the slice or an empty slice if nil.
// This is useful when you need to ensure a non-nil slice is always
// returned, avoiding potential nil handling in downstream code.
func CloneOrEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return slices.Clone(s)
}
