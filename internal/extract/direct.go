package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ProcessMCP/internal/protocol"
)

var assignment = regexp.MustCompile(`([A-Za-z_][\w.-]*)\s*[=:]\s*("(?:[^"\\]|\\.)*"|'[^']*'|[^\s,]+)`)

// ParseDirectAssignments reads Name=value and Name:value pairs separated by
// commas or spaces. Quoted values keep their inner text; values opening a
// JSON array or object are left to ParseJSON.
func ParseDirectAssignments(text string) map[string]any {
	out := map[string]any{}
	for _, m := range assignment.FindAllStringSubmatch(text, -1) {
		key, value := m[1], m[2]
		if strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{") {
			continue
		}
		out[key] = unquote(value)
	}
	return out
}

func unquote(value string) string {
	if len(value) >= 2 {
		switch {
		case value[0] == '"' && value[len(value)-1] == '"':
			var s string
			if err := json.Unmarshal([]byte(value), &s); err == nil {
				return s
			}
			return value[1 : len(value)-1]
		case value[0] == '\'' && value[len(value)-1] == '\'':
			return value[1 : len(value)-1]
		}
	}
	return value
}

func (e *Engine) directStep(text string, handler protocol.HandlerMetadata) (map[string]any, error) {
	if len(handler.Parameters) == 0 {
		return map[string]any{}, nil
	}
	raw := ParseDirectAssignments(text)
	if len(raw) == 0 {
		return nil, errors.New("no Name=value assignments found")
	}
	params := bind(raw, handler)
	if len(params) == 0 {
		return nil, fmt.Errorf("assignments %v name no declared parameter", keys(raw))
	}
	return params, nil
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
