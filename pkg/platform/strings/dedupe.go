// Package strings provides string list utilities.
package strings

import (
	"strings"
)

// DedupeAndTrimLower removes duplicates and empty strings from a slice,
// trimming and lowercasing each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrimLower([]string{"  MSG ", "tell", "msg", ""})
//	// Returns: []string{"msg", "tell"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		normalized := strings.ToLower(strings.TrimSpace(v))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; !ok {
			seen[normalized] = struct{}{}
			result = append(result, normalized)
		}
	}

	return result
}

// SplitJoined splits a separator-joined list, dropping empty elements.
func SplitJoined(joined, sep string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, sep)
	result := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// AppendUnique appends v unless the list already contains it. It reports
// whether v was added.
func AppendUnique(list []string, v string) ([]string, bool) {
	for _, existing := range list {
		if existing == v {
			return list, false
		}
	}
	return append(list, v), true
}
