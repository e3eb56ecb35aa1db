package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// BuildPrompt appends one block per file to message, keeping the combined file
// content within totalLimit runes.
func BuildPrompt(message string, files []Result, totalLimit int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(message))

	remaining := totalLimit
	for _, file := range files {
		content := file.Content
		if totalLimit > 0 {
			if remaining <= 0 {
				content = TruncationMarker
			} else if utf8.RuneCountInString(content) > remaining {
				content, _ = Truncate(content, remaining)
			}
			remaining -= utf8.RuneCountInString(content)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- File: %s (%s) ---\n%s", file.FileName, file.Kind, content)
	}
	return b.String()
}
