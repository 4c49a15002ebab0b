package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"ProcessMCP/internal/protocol"
)

// ErrUnknownType is returned by Coerce when the declared type is not one the
// validator understands; the value is passed through unchanged.
var ErrUnknownType = errors.New("unknown parameter type")

var thousands = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)

// Coerce converts value to the declared parameter type.
func Coerce(value any, t protocol.ParameterType) (any, error) {
	switch t {
	case protocol.TypeNumber:
		return toNumber(value)
	case protocol.TypeBoolean:
		return toBool(value)
	case protocol.TypeString:
		return toString(value)
	case protocol.TypeAddress:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected an address string, got %T", value)
		}
		return strings.TrimSpace(s), nil
	case protocol.TypeObject:
		return toObject(value)
	case protocol.TypeArray:
		return toArray(value)
	default:
		return value, ErrUnknownType
	}
}

func toNumber(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return strconv.ParseFloat(v.String(), 64)
	case string:
		s := strings.TrimSpace(v)
		if thousands.MatchString(s) {
			s = strings.ReplaceAll(s, ",", "")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a number", value)
	}
}

func toBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0":
			return false, nil
		}
	}
	return nil, fmt.Errorf("%v is not a boolean (use true/false, yes/no or 1/0)", value)
}

func toString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a string", value)
	}
}

func toObject(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("expected a JSON object: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to an object", value)
	}
}

func toArray(value any) (any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, nil
	case string:
		var out []any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("expected a JSON array: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to an array", value)
	}
}

// AsFloat reports value as a float64 when it is numeric or a numeric string.
func AsFloat(value any) (float64, bool) {
	f, err := toNumber(value)
	if err != nil {
		return 0, false
	}
	n := f.(float64)
	return n, !math.IsNaN(n)
}
