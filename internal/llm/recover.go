package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("llm: no json object in reply")

// RecoverJSON decodes the first JSON object found in text into v. Models often
// wrap JSON in ```json fences or surround it with prose.
func RecoverJSON(text string, v any) error {
	candidate := strings.TrimSpace(text)
	if fenced, ok := fencedBlock(candidate); ok {
		candidate = fenced
	}
	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	object, ok := firstObject(candidate)
	if !ok {
		return ErrNoJSON
	}
	return json.Unmarshal([]byte(object), v)
}

func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		rest = rest[newline+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// firstObject returns the first balanced {...} span, ignoring braces inside strings.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
