package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, prefixed with "<prefix>_" when prefix is set.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Truncate shortens value to at most limit runes, appending suffix when cut.
func Truncate(value string, limit int, suffix string) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return strings.TrimRight(string(runes[:limit]), " ") + suffix
}

// CollapseSpace replaces runs of whitespace with a single space.
func CollapseSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
