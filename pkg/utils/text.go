package utils

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// Used to keep logged captions and prompts short.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
