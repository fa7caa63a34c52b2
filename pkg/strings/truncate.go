// Package strings carries small string helpers shared across gantry's
// user-facing output.
package strings

import (
	"strings"
)

// MinTruncateLen is the smallest usable maxLen for Truncate; anything
// shorter leaves no room for content plus the ellipsis.
const MinTruncateLen = 4

// Truncate flattens s to a single line and cuts it to at most maxLen
// runes, appending "..." when something was dropped. Rune-based so
// multi-byte characters are never split.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
