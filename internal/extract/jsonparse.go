package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"ProcessMCP/internal/protocol"
)

var structuredAssignment = regexp.MustCompile(`([A-Za-z_][\w.-]*)\s*[=:]\s*([\[{])`)

// ParseJSON reads the request as a JSON object, or collects key=[...] and
// key={...} sub-assignments merged over the scalar direct assignments.
func ParseJSON(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		if obj, err := decodeObject(trimmed); err == nil {
			return obj, nil
		}
	}

	out := map[string]any{}
	found := false
	for _, loc := range structuredAssignment.FindAllStringSubmatchIndex(text, -1) {
		key := text[loc[2]:loc[3]]
		start := loc[4]
		end := matchingBracket(text, start)
		if end < 0 {
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(text[start:end+1]), &value); err != nil {
			continue
		}
		out[key] = value
		found = true
	}

	if !found {
		if start := strings.Index(text, "{"); start >= 0 {
			if end := matchingBracket(text, start); end > start {
				if obj, err := decodeObject(text[start : end+1]); err == nil {
					return obj, nil
				}
			}
		}
		return nil, errors.New("no JSON object or structured assignment found")
	}

	for k, v := range ParseDirectAssignments(text) {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out, nil
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("null object")
	}
	return obj, nil
}

// matchingBracket returns the index closing the bracket at start, honouring
// nesting and JSON strings, or -1.
func matchingBracket(text string, start int) int {
	open := text[start]
	var closing byte = ']'
	if open == '{' {
		closing = '}'
	}
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (e *Engine) jsonStep(text string, handler protocol.HandlerMetadata) (map[string]any, error) {
	raw, err := ParseJSON(text)
	if err != nil {
		return nil, err
	}
	params := bind(raw, handler)
	if len(params) == 0 {
		return nil, errors.New("JSON names no declared parameter")
	}
	return params, nil
}
