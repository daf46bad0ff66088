package oracle

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseMode identifies which rung of the parse ladder produced a JSON
// object from raw oracle output.
type ParseMode string

const (
	ParseStrict    ParseMode = "strict"
	ParseFirstLine ParseMode = "first-line"
	ParseFenced    ParseMode = "fenced"
	ParseEmbedded  ParseMode = "embedded-object"
	ParseNone      ParseMode = "none"
)

// fencedBlockRe matches ``` or ```json fenced blocks, lazily, across lines.
var fencedBlockRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// ExtractJSONObject walks the parse ladder over raw oracle output: the
// whole trimmed output as strict JSON, then its first line, then each
// fenced code block, then each brace-matched object embedded in the text.
// The first candidate that decodes to a JSON object wins; candidates that
// decode to arrays or scalars are skipped.
func ExtractJSONObject(raw string) (map[string]any, []byte, ParseMode) {
	type candidate struct {
		payload string
		mode    ParseMode
	}

	stripped := strings.TrimSpace(raw)
	candidates := []candidate{{stripped, ParseStrict}}
	if firstLine := firstLineOf(stripped); firstLine != "" {
		candidates = append(candidates, candidate{firstLine, ParseFirstLine})
	}
	for _, block := range extractFencedBlocks(raw) {
		candidates = append(candidates, candidate{block, ParseFenced})
	}
	for _, obj := range extractBraceMatchedObjects(raw) {
		candidates = append(candidates, candidate{obj, ParseEmbedded})
	}

	for _, c := range candidates {
		if c.payload == "" {
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(c.payload), &value); err != nil {
			continue
		}
		if obj, ok := value.(map[string]any); ok {
			return obj, []byte(c.payload), c.mode
		}
	}

	return nil, nil, ParseNone
}

// ParseWithValidation extracts a JSON object from raw output and validates
// it against schema. On failure the returned mode still reports how far
// the ladder got, and problems lists each violation found.
func ParseWithValidation(raw string, schema map[string]any) (parsed map[string]any, body []byte, mode ParseMode, problems []string) {
	parsed, body, mode = ExtractJSONObject(raw)
	if parsed == nil {
		return nil, nil, mode, []string{"no JSON object could be parsed from output"}
	}
	if errs := ValidateAgainstSchema(parsed, schema); len(errs) > 0 {
		return nil, nil, mode, errs
	}
	return parsed, body, mode, nil
}

func firstLineOf(s string) string {
	if s == "" {
		return ""
	}
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func extractFencedBlocks(raw string) []string {
	var blocks []string
	for _, match := range fencedBlockRe.FindAllStringSubmatch(raw, -1) {
		blocks = append(blocks, strings.TrimSpace(match[1]))
	}
	return blocks
}

// extractBraceMatchedObjects scans raw for top-level {...} spans, tracking
// string literals and escapes so braces inside strings do not count.
func extractBraceMatchedObjects(raw string) []string {
	var objects []string
	start := -1
	depth := 0
	inString := false
	escaped := false

	for idx := 0; idx < len(raw); idx++ {
		ch := raw[idx]
		if start == -1 {
			if ch == '{' {
				start = idx
				depth = 1
				inString = false
				escaped = false
			}
			continue
		}

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
				objects = append(objects, raw[start:idx+1])
				start = -1
			}
		}
	}

	return objects
}
