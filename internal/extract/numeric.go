package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"ProcessMCP/internal/protocol"
)

// ErrAmbiguousOperands marks phrasings whose operand order is not defined,
// such as "difference between 3 and 5".
var ErrAmbiguousOperands = errors.New("ambiguous operand order")

const num = `(-?\d+(?:\.\d+)?)`

// operandPhrase maps a phrasing onto (left, right) operands. swap means the
// first number in the text is the right operand.
type operandPhrase struct {
	name string
	re   *regexp.Regexp
	swap bool
}

var ambiguousPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdifference\s+(?:between|of)\s+` + num + `\s+and\s+` + num),
	regexp.MustCompile(`(?i)\btake\s+` + num + `\s+away\s+from\s+` + num),
}

// Operand ordering: the handler's first numeric parameter receives the left
// operand and the second numeric parameter the right operand.
var operandPhrases = []operandPhrase{
	{"subtract-from", regexp.MustCompile(`(?i)\bsubtract\s+` + num + `\s+from\s+` + num), true},
	{"divide-by", regexp.MustCompile(`(?i)\bdivide\s+` + num + `\s+by\s+` + num), false},
	{"divided-by", regexp.MustCompile(`(?i)` + num + `\s+divided\s+by\s+` + num), false},
	{"multiply-by", regexp.MustCompile(`(?i)\bmultiply\s+` + num + `\s+(?:by|and|with)\s+` + num), false},
	{"times", regexp.MustCompile(`(?i)` + num + `\s*(?:\*|x|times)\s*` + num), false},
	{"slash", regexp.MustCompile(num + `\s*/\s*` + num), false},
	{"minus", regexp.MustCompile(`(?i)` + num + `\s+minus\s+` + num), false},
	{"dash", regexp.MustCompile(num + `\s*-\s*` + num), false},
	{"plus", regexp.MustCompile(`(?i)` + num + `\s*(?:\+|plus)\s*` + num), false},
	{"add-to", regexp.MustCompile(`(?i)\badd\s+` + num + `\s+(?:to|and)\s+` + num), false},
	{"sum-of", regexp.MustCompile(`(?i)\bsum\s+of\s+` + num + `\s+and\s+` + num), false},
	{"and", regexp.MustCompile(`(?i)` + num + `\s+and\s+` + num), false},
}

// ParseNumericPhrase binds two-operand arithmetic phrasing onto a handler
// with at least two number parameters.
func ParseNumericPhrase(text string, handler protocol.HandlerMetadata) (map[string]any, error) {
	numeric := handler.NumericParameters()
	if len(numeric) < 2 {
		return nil, errors.New("handler has fewer than two numeric parameters")
	}
	left, right := numeric[0].Name, numeric[1].Name

	for _, re := range ambiguousPhrases {
		if re.MatchString(text) {
			return nil, fmt.Errorf("%w in %q; name the parameters explicitly, e.g. %s=5 %s=3", ErrAmbiguousOperands, re.FindString(text), left, right)
		}
	}

	for _, phrase := range operandPhrases {
		m := phrase.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		first, err1 := strconv.ParseFloat(m[1], 64)
		second, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if phrase.swap {
			first, second = second, first
		}
		return map[string]any{left: first, right: second}, nil
	}

	numbers := numberPattern.FindAllString(text, -1)
	if len(numbers) == len(numeric) {
		out := make(map[string]any, len(numeric))
		for i, spec := range numeric {
			f, err := strconv.ParseFloat(numbers[i], 64)
			if err != nil {
				return nil, err
			}
			out[spec.Name] = f
		}
		return out, nil
	}
	return nil, errors.New("no numeric phrasing recognised")
}
