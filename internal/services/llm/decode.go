package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSONList decodes the bracketed list embedded in a model response into
// target. Models wrap JSON in prose or ``` fences often enough that only the
// span from the first '[' to the last ']' is decoded.
func DecodeJSONList(content string, target any) error {
	body := unfence(content)
	start, end := strings.IndexByte(body, '['), strings.LastIndexByte(body, ']')
	if start < 0 || end <= start {
		return fmt.Errorf("%w (payload snippet: %s)", ErrNoJSONList, snippet(body))
	}
	payload := body[start : end+1]
	if err := json.Unmarshal([]byte(payload), target); err != nil {
		return fmt.Errorf("%w (payload snippet: %s)", err, snippet(payload))
	}
	return nil
}

// unfence strips one surrounding ``` or ```json fence.
func unfence(content string) string {
	body, fenced := strings.CutPrefix(strings.TrimSpace(content), "```")
	if !fenced {
		return body
	}
	body = strings.TrimSpace(body)
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

const snippetRunes = 160

// snippet collapses whitespace and truncates content for error messages.
func snippet(content string) string {
	collapsed := []rune(strings.Join(strings.Fields(content), " "))
	switch {
	case len(collapsed) == 0:
		return "<empty>"
	case len(collapsed) > snippetRunes:
		return string(collapsed[:snippetRunes]) + "..."
	default:
		return string(collapsed)
	}
}
