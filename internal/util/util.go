// Package util holds small logging helpers shared across packages.
package util

import (
	"fmt"
	"os"
	"strings"
)

// DefaultLogMaxLen caps verbose log payloads at 1KB.
const DefaultLogMaxLen = 1024

// IsVerbose checks the NEXUS_VERBOSE environment variable.
// Accepts: "1", "true", "yes" (case-insensitive).
func IsVerbose() bool {
	v := strings.ToLower(os.Getenv("NEXUS_VERBOSE"))
	return v == "1" || v == "true" || v == "yes"
}

// TruncateLog truncates long strings for verbose logging so log files stay
// manageable.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is a convenience wrapper for TruncateLog with the default cap.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
