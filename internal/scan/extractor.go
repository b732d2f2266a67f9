// Package scan finds pipeline files and the image references they embed.
package scan

import "strings"

// DefaultLinePattern marks the lines that carry image references to check.
const DefaultLinePattern = "quay.io/konflux-ci/tekton-catalog/"

// Extract returns the image reference embedded in line: pattern followed by
// the rest of the line after its first occurrence, with surrounding
// whitespace trimmed. It reports false when pattern does not occur in line.
func Extract(line, pattern string) (string, bool) {
	if pattern == "" {
		return "", false
	}
	_, rest, ok := strings.Cut(line, pattern)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(pattern + rest), true
}
