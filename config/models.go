package config

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// DefaultKnownModels is the model list written to a fresh config.toml.
func DefaultKnownModels() []string {
	return []string{"default", "gpt-4o", "o1-mini", "o1", "claude-3-5-sonnet", "gemini-1.5-pro"}
}

// ResolveModel maps a loose model hint onto one of the known names.
// An exact (case-insensitive) name wins, then the best fuzzy match. A hint
// that matches nothing is returned unchanged so new server-side models work
// without a config update. The second result reports whether a known name
// was selected.
func ResolveModel(hint string, known []string) (string, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" || len(known) == 0 {
		return hint, false
	}

	lowered := make([]string, len(known))
	for i, k := range known {
		lowered[i] = strings.ToLower(k)
		if strings.EqualFold(k, hint) {
			return k, true
		}
	}

	matches := fuzzy.Find(strings.ToLower(hint), lowered)
	if len(matches) == 0 {
		return hint, false
	}
	return known[matches[0].Index], true
}
