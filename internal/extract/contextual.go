package extract

import (
	"errors"
	"regexp"
	"strings"

	"ProcessMCP/internal/protocol"
)

var (
	numberPattern   = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	amountRecipient = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s+(?:[A-Za-z]+\s+)?(?:to|for)\s+([\w-]+)`)
	recipientOnly   = regexp.MustCompile(`(?i)\b(?:to|for|recipient|target|address)\s+([\w-]+)`)
	quoted          = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
)

// amountParameter picks the parameter that should receive a bare quantity.
func amountParameter(handler protocol.HandlerMetadata) (protocol.ParameterSpec, bool) {
	for _, p := range handler.Parameters {
		if p.AmountLike() {
			return p, true
		}
	}
	for _, p := range handler.Parameters {
		if p.Type != protocol.TypeAddress && p.Type != protocol.TypeBoolean && !p.Type.Structured() {
			return p, true
		}
	}
	return protocol.ParameterSpec{}, false
}

// recipientParameter picks the parameter naming the counterparty.
func recipientParameter(handler protocol.HandlerMetadata) (protocol.ParameterSpec, bool) {
	for _, p := range handler.Parameters {
		if p.Type == protocol.TypeAddress {
			return p, true
		}
	}
	for _, name := range []string{"target", "recipient", "to", "address"} {
		if p, ok := handler.Parameter(name); ok {
			return p, true
		}
	}
	return protocol.ParameterSpec{}, false
}

// ParseContextual applies generic phrasing: "<quantity> [unit] to|for
// <recipient>", "to <recipient>", "<parameter name> <value>", and a lone
// number for the amount parameter.
func ParseContextual(text string, handler protocol.HandlerMetadata) (map[string]any, error) {
	out := map[string]any{}
	amount, hasAmount := amountParameter(handler)
	recipient, hasRecipient := recipientParameter(handler)

	if m := amountRecipient.FindStringSubmatch(text); m != nil {
		if hasAmount {
			out[amount.Name] = m[1]
		}
		if hasRecipient && recipient.Name != amount.Name {
			out[recipient.Name] = m[2]
		}
	}

	if hasRecipient {
		if _, done := out[recipient.Name]; !done {
			if m := recipientOnly.FindStringSubmatch(text); m != nil {
				out[recipient.Name] = m[1]
			}
		}
	}

	words := strings.Fields(text)
	for _, spec := range handler.Parameters {
		if _, done := out[spec.Name]; done {
			continue
		}
		for i := 0; i+1 < len(words); i++ {
			if strings.EqualFold(strings.Trim(words[i], ",.;"), spec.Name) {
				out[spec.Name] = strings.Trim(words[i+1], ",.;\"'")
				break
			}
		}
	}

	if hasAmount {
		if _, done := out[amount.Name]; !done {
			if numbers := numberPattern.FindAllString(stripWords(text), -1); len(numbers) == 1 {
				out[amount.Name] = numbers[0]
			}
		}
	}

	if len(out) == 0 {
		return nil, errors.New("no quantity or recipient phrasing found")
	}
	return out, nil
}

// stripWords drops tokens mixing letters and digits so ids such as
// alice-456 are not mistaken for amounts.
func stripWords(text string) string {
	var kept []string
	for _, w := range strings.Fields(text) {
		if strings.IndexFunc(w, isLetter) >= 0 {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// ParseSingle assigns a quoted string, number or trailing word to a handler
// that declares exactly one parameter.
func ParseSingle(text string, handler protocol.HandlerMetadata) (map[string]any, error) {
	if len(handler.Parameters) != 1 {
		return nil, errors.New("handler does not declare exactly one parameter")
	}
	spec := handler.Parameters[0]

	if m := quoted.FindStringSubmatch(text); m != nil {
		value := m[1]
		if value == "" {
			value = m[2]
		}
		return map[string]any{spec.Name: value}, nil
	}

	if spec.AmountLike() {
		if n := numberPattern.FindString(stripWords(text)); n != "" {
			return map[string]any{spec.Name: n}, nil
		}
		return nil, errors.New("no number found")
	}

	if m := recipientOnly.FindStringSubmatch(text); m != nil {
		return map[string]any{spec.Name: m[1]}, nil
	}
	if m := ofPhrase.FindStringSubmatch(text); m != nil {
		return map[string]any{spec.Name: m[1]}, nil
	}

	actionWords := map[string]bool{}
	for _, w := range protocol.Words(handler.Action) {
		actionWords[w] = true
	}
	fields := strings.Fields(text)
	for i := len(fields) - 1; i >= 0; i-- {
		w := strings.Trim(fields[i], ",.;?!")
		if w == "" || actionWords[strings.ToLower(w)] || stopWords[strings.ToLower(w)] {
			continue
		}
		return map[string]any{spec.Name: w}, nil
	}
	return nil, errors.New("no candidate value found")
}

var ofPhrase = regexp.MustCompile(`(?i)\b(?:of|from|by|named|called)\s+([\w-]+)`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "please": true, "me": true,
	"get": true, "show": true, "check": true, "what": true, "is": true, "for": true,
	"of": true, "to": true, "now": true, "current": true,
}
