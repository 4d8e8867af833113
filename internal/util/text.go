package util

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes <think>...</think> reasoning blocks emitted by some
// local models and trims the surrounding whitespace. An unterminated block
// removes everything after its opening tag.
func StripThinking(s string) string {
	out := thinkBlock.ReplaceAllString(s, "")
	if i := strings.Index(out, "<think>"); i >= 0 {
		out = out[:i]
	}
	return strings.TrimSpace(out)
}

// Stringify converts a tool result into the text handed back to the model.
// Strings pass through unchanged, byte slices are treated as text and all
// other values are JSON encoded.
func Stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case fmt.Stringer:
		return val.String(), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	return string(b), nil
}

// ExtractJSON returns the first JSON object or array embedded in s, allowing
// models that wrap structured replies in prose or ```json fences.
func ExtractJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if json.Valid([]byte(trimmed)) {
		return trimmed
	}

	if i := strings.Index(trimmed, "```"); i >= 0 {
		rest := trimmed[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			if candidate := strings.TrimSpace(rest[:j]); json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(trimmed, pair[0])
		end := strings.LastIndex(trimmed, pair[1])
		if start >= 0 && end > start {
			if candidate := trimmed[start : end+1]; json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}

	return trimmed
}
