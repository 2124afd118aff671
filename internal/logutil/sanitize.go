package logutil

import "strings"

// maxFieldLen caps user-supplied values (hosts, usernames) in log output.
const maxFieldLen = 256

// SanitizeForLog makes a user-provided string safe to embed in a log line:
// control characters (including CR/LF, which would allow forged entries)
// become spaces, and overlong values are truncated.
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return ' '
		}
		return r
	}, s)
	if len(s) > maxFieldLen {
		s = s[:maxFieldLen] + "..."
	}
	return s
}
