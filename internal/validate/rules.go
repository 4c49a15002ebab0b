package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"

	"ProcessMCP/internal/protocol"
)

// Parameter selectors understood by contract rules besides literal names.
const (
	SelectDivisor = "@divisor"
	SelectAmount  = "@amount"
	SelectAddress = "@address"
)

// ContractRule is an operation specific invariant. Expr is a CEL expression
// over `value` (the parameter value), `name` (the parameter name) and
// `params` (all coerced parameters); it must evaluate to true.
type ContractRule struct {
	ID        string   `yaml:"id" json:"id"`
	Handlers  string   `yaml:"handlers" json:"handlers"`
	Parameter string   `yaml:"parameter" json:"parameter"`
	Expr      string   `yaml:"expr" json:"expr"`
	Message   string   `yaml:"message" json:"message"`
	Fix       string   `yaml:"fix" json:"fix"`
	Severity  Severity `yaml:"severity" json:"severity"`
}

// DefaultContractRules returns the built-in contract checks.
func DefaultContractRules() []ContractRule {
	return []ContractRule{
		{
			ID:        "non-zero-divisor",
			Handlers:  `(?i)^div(ide|ision)?$`,
			Parameter: SelectDivisor,
			Expr:      `double(value) != 0.0`,
			Message:   "division by zero: {param} must not be 0",
			Fix:       "set the divisor parameter {param} to a non-zero number",
			Severity:  SeverityError,
		},
		{
			ID:        "positive-amount",
			Handlers:  `(?i)^(transfer|mint|burn)`,
			Parameter: SelectAmount,
			Expr:      `double(value) > 0.0`,
			Message:   "{param} must be a positive amount",
			Fix:       "set {param} to a number greater than 0",
			Severity:  SeverityError,
		},
		{
			ID:        "short-address",
			Handlers:  `.*`,
			Parameter: SelectAddress,
			Expr:      `size(string(value)) >= 20`,
			Message:   "{param} looks unusually short for an address",
			Fix:       "double-check the full address for {param}",
			Severity:  SeverityWarning,
		},
	}
}

type compiledRule struct {
	ContractRule
	handlers *regexp.Regexp
	program  cel.Program
}

func newRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("name", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
}

func compileRules(env *cel.Env, rules []ContractRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Severity == "" {
			r.Severity = SeverityError
		}
		handlers := r.Handlers
		if handlers == "" {
			handlers = ".*"
		}
		re, err := regexp.Compile(handlers)
		if err != nil {
			return nil, fmt.Errorf("contract rule %s: handler pattern: %w", r.ID, err)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("contract rule %s: %w", r.ID, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("contract rule %s: %w", r.ID, err)
		}
		out = append(out, compiledRule{ContractRule: r, handlers: re, program: prg})
	}
	return out, nil
}

// selectParameters resolves a rule's parameter selector for handler.
func selectParameters(selector string, handler protocol.HandlerMetadata) []protocol.ParameterSpec {
	switch selector {
	case SelectDivisor:
		if p, ok := DivisorParameter(handler); ok {
			return []protocol.ParameterSpec{p}
		}
		return nil
	case SelectAmount:
		var out []protocol.ParameterSpec
		for _, p := range handler.Parameters {
			if p.AmountLike() {
				out = append(out, p)
			}
		}
		return out
	case SelectAddress:
		var out []protocol.ParameterSpec
		for _, p := range handler.Parameters {
			if p.Type == protocol.TypeAddress {
				out = append(out, p)
			}
		}
		return out
	default:
		if p, ok := handler.Parameter(selector); ok {
			return []protocol.ParameterSpec{p}
		}
		return nil
	}
}

// DivisorParameter names the denominator of a division handler: a parameter
// called divisor, denominator, b or y, else the last numeric parameter.
func DivisorParameter(handler protocol.HandlerMetadata) (protocol.ParameterSpec, bool) {
	for _, name := range []string{"divisor", "denominator", "b", "y"} {
		if p, ok := handler.Parameter(name); ok {
			return p, true
		}
	}
	numeric := handler.NumericParameters()
	if len(numeric) >= 2 {
		return numeric[len(numeric)-1], true
	}
	return protocol.ParameterSpec{}, false
}

func expand(text, param string) string {
	return strings.ReplaceAll(text, "{param}", param)
}
