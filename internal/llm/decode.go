package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const snippetLen = 200

// InvalidResponseError reports model output that could not be parsed into the
// expected object, even after repair.
type InvalidResponseError struct {
	Reason  string
	Snippet string
}

func (e *InvalidResponseError) Error() string {
	return "invalid model response: " + e.Reason
}

// Invalid builds an InvalidResponseError with a truncated snippet of raw.
func Invalid(raw, reason string) *InvalidResponseError {
	s := strings.TrimSpace(raw)
	if len(s) > snippetLen {
		s = s[:snippetLen] + "..."
	}
	return &InvalidResponseError{Reason: reason, Snippet: s}
}

// Decode parses a model response into v. A strict parse is tried first; on
// failure, fences and a bare language tag are stripped, and then the outermost
// balanced {...} is extracted. Each required key must be present and non-null.
func Decode(raw string, v any, required ...string) error {
	text := strings.TrimSpace(raw)

	obj, err := parseObject(text)
	if err != nil {
		if stripped, ok := stripFence(text); ok {
			slog.Warn("model response repaired", "heuristic", "fence_strip")
			text = stripped
			obj, err = parseObject(text)
		}
	}
	if err != nil {
		if extracted, ok := extractObject(text); ok {
			slog.Warn("model response repaired", "heuristic", "brace_extract")
			obj, err = parseObject(extracted)
		}
	}
	if err != nil {
		e := Invalid(raw, "response is not a JSON object")
		slog.Error("unparseable model response", "error", err, "snippet", e.Snippet)
		return e
	}

	for _, key := range required {
		val, ok := obj[key]
		if !ok || bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
			e := Invalid(raw, fmt.Sprintf("missing required key %q", key))
			slog.Error("model response missing key", "key", key, "snippet", e.Snippet)
			return e
		}
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return Invalid(raw, err.Error())
	}
	if err := json.Unmarshal(b, v); err != nil {
		e := Invalid(raw, "unexpected shape: "+err.Error())
		slog.Error("model response has unexpected shape", "error", err, "snippet", e.Snippet)
		return e
	}
	return nil
}

func parseObject(s string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("null object")
	}
	return obj, nil
}

// stripFence removes a surrounding ``` fence (with an optional language tag on
// the opening line) or a bare leading language-tag line.
func stripFence(s string) (string, bool) {
	if strings.HasPrefix(s, "```") {
		body := s[3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		} else {
			body = strings.TrimLeft(body, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
		body = strings.TrimSpace(body)
		if i := strings.LastIndex(body, "```"); i >= 0 {
			body = body[:i]
		}
		return strings.TrimSpace(body), true
	}

	if nl := strings.IndexByte(s, '\n'); nl > 0 {
		first := strings.TrimSpace(s[:nl])
		if isLanguageTag(first) {
			return strings.TrimSpace(s[nl+1:]), true
		}
	}
	return s, false
}

func isLanguageTag(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// extractObject returns the first balanced {...} in s, skipping braces inside
// string literals.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
