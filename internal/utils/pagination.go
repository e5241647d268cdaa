// Package utils holds the query parameter helpers shared by the handlers.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as a base-10 int, ignoring surrounding spaces. Blank
// or malformed input yields def.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
