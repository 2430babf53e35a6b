package enforcement

import (
	"strings"

	platformstrings "warden/pkg/platform/strings"
)

// CommandGate decides which commands a muted player may not run.
type CommandGate struct {
	entries [][]string
}

// NewCommandGate normalizes the configured mute-gated commands. Entries may
// span several words, e.g. "mail send".
func NewCommandGate(commands []string) CommandGate {
	var g CommandGate
	for _, c := range platformstrings.DedupeAndTrimLower(commands) {
		g.entries = append(g.entries, strings.Fields(c))
	}
	return g
}

// Blocks reports whether command (without its leading slash) is mute-gated.
// A "namespace:" prefix on the first word is ignored.
func (g CommandGate) Blocks(command string) bool {
	words := strings.Fields(strings.TrimPrefix(command, "/"))
	if len(words) == 0 {
		return false
	}
	if _, name, ok := strings.Cut(words[0], ":"); ok {
		words[0] = name
	}
	for _, entry := range g.entries {
		if matchesEntry(words, entry) {
			return true
		}
	}
	return false
}

func matchesEntry(words, entry []string) bool {
	if len(entry) > len(words) {
		return false
	}
	for i, w := range entry {
		if !strings.EqualFold(words[i], w) {
			return false
		}
	}
	return true
}
