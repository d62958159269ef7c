package llmpolicy

import (
	"encoding/json"
	"strings"
)

const (
	// maxScanBytes bounds how much of a reply is searched.
	maxScanBytes = 64 << 10
	// maxObjects bounds how many brace-delimited spans are considered.
	maxObjects = 32
)

// ExtractChoice pulls a candidate id out of a model reply. An
// <answer>...</answer> block wins; otherwise the last JSON object carrying
// an "id" is used. Numeric ids are returned in their JSON spelling.
func ExtractChoice(reply string) (string, bool) {
	if len(reply) > maxScanBytes {
		reply = reply[:maxScanBytes]
	}
	if inner, ok := answerBlock(reply); ok {
		if id, ok := lastID(inner); ok {
			return id, true
		}
		if bare := strings.Trim(strings.TrimSpace(inner), `"'`); bare != "" && !strings.ContainsAny(bare, "{}\n") {
			return bare, true
		}
	}
	return lastID(reply)
}

func answerBlock(s string) (string, bool) {
	start := strings.LastIndex(s, "<answer>")
	if start < 0 {
		return "", false
	}
	rest := s[start+len("<answer>"):]
	end := strings.Index(rest, "</answer>")
	if end < 0 {
		return rest, true
	}
	return rest[:end], true
}

func lastID(s string) (string, bool) {
	spans := objectSpans(s)
	for i := len(spans) - 1; i >= 0; i-- {
		dec := json.NewDecoder(strings.NewReader(spans[i]))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		if id, ok := findID(obj); ok {
			return id, true
		}
	}
	return "", false
}

// objectSpans returns the last maxObjects balanced top-level {...} spans.
// Braces inside JSON strings are ignored. An opening brace that never
// closes is skipped, and at most maxObjects of those are tolerated.
func objectSpans(s string) []string {
	var spans []string
	unclosed := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		end := matchBrace(s, i)
		if end < 0 {
			unclosed++
			if unclosed > maxObjects {
				break
			}
			continue
		}
		spans = append(spans, s[i:end+1])
		if len(spans) > maxObjects {
			spans = spans[1:]
		}
		i = end
	}
	return spans
}

func matchBrace(s string, start int) int {
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
				return i
			}
		}
	}
	return -1
}

func findID(obj map[string]any) (string, bool) {
	if id, ok := idValue(obj["id"]); ok {
		return id, true
	}
	for _, key := range []string{"choice", "answer"} {
		switch v := obj[key].(type) {
		case map[string]any:
			if id, ok := findID(v); ok {
				return id, true
			}
		default:
			if id, ok := idValue(v); ok {
				return id, true
			}
		}
	}
	return "", false
}

func idValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}
