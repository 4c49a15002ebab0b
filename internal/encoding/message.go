package encoding

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"

	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/transport"
)

// MaxTagValueLength is the longest scalar a hybrid message keeps in a tag.
const MaxTagValueLength = 128

// Message is an encoded outgoing message.
type Message struct {
	Tags []transport.Tag `json:"tags"`
	Data *string         `json:"data,omitempty"`
}

// Build places params on a message for handler according to strategy. The
// Action tag always comes first, followed by parameters in declared order.
// Only declared parameters are encoded.
func Build(strategy Strategy, handler protocol.HandlerMetadata, params map[string]any) (Message, error) {
	msg := Message{Tags: []transport.Tag{{Name: "Action", Value: handler.Action}}}
	ordered := orderedNames(handler, params)

	switch strategy {
	case StrategyTags:
		for _, name := range ordered {
			value, err := tagValue(params[name])
			if err != nil {
				return Message{}, fmt.Errorf("encode tag %s: %w", name, err)
			}
			msg.Tags = append(msg.Tags, transport.Tag{Name: name, Value: value})
		}
	case StrategyData:
		if len(ordered) > 0 {
			payload := make(map[string]any, len(ordered))
			for _, name := range ordered {
				payload[name] = params[name]
			}
			data, err := CanonicalJSON(payload)
			if err != nil {
				return Message{}, err
			}
			msg.Data = &data
		}
	case StrategyHybrid:
		rest := map[string]any{}
		for _, name := range ordered {
			value := params[name]
			if s, ok := scalar(value); ok && len(s) <= MaxTagValueLength {
				msg.Tags = append(msg.Tags, transport.Tag{Name: name, Value: s})
				continue
			}
			rest[name] = value
		}
		if len(rest) > 0 {
			data, err := CanonicalJSON(rest)
			if err != nil {
				return Message{}, err
			}
			msg.Data = &data
		}
	default:
		return Message{}, fmt.Errorf("unknown encoding strategy %q", strategy)
	}
	return msg, nil
}

// CanonicalJSON renders v as RFC 8785 canonical JSON.
func CanonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode data payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize data payload: %w", err)
	}
	return string(canonical), nil
}

// orderedNames lists the declared parameters present in params. Undeclared
// keys and envelope fields never reach the message.
func orderedNames(handler protocol.HandlerMetadata, params map[string]any) []string {
	out := make([]string, 0, len(params))
	for _, spec := range handler.Parameters {
		if envelopeField(spec.Name) {
			continue
		}
		if _, ok := params[spec.Name]; ok {
			out = append(out, spec.Name)
		}
	}
	return out
}

func envelopeField(name string) bool {
	return strings.EqualFold(name, "Action") || strings.EqualFold(name, "Data")
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	case json.Number:
		return x.String(), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

func tagValue(v any) (string, error) {
	if s, ok := scalar(v); ok {
		return s, nil
	}
	return CanonicalJSON(v)
}
