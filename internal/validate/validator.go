package validate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"ProcessMCP/internal/protocol"
	"ProcessMCP/pkg/logger"
)

// Severity of a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

const (
	// MaxSafeMagnitude bounds numbers so they survive the wire unchanged.
	MaxSafeMagnitude = 1e15
	// PrecisionWarnAbove triggers a precision warning.
	PrecisionWarnAbove = 1e11

	addressMinLength = 1
	addressMaxLength = 43
)

var addressCharset = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidationError is one validation finding.
type ValidationError struct {
	Field        string   `json:"field"`
	Message      string   `json:"message"`
	Severity     Severity `json:"severity"`
	SuggestedFix string   `json:"suggestedFix,omitempty"`
}

// Result is the outcome of validating one parameter set.
type Result struct {
	Valid          bool              `json:"valid"`
	Errors         []ValidationError `json:"errors,omitempty"`
	Warnings       []ValidationError `json:"warnings,omitempty"`
	SuggestedFixes []string          `json:"suggestedFixes,omitempty"`
	// Parameters holds the coerced values.
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (r *Result) add(e ValidationError) {
	if e.Severity == SeverityWarning {
		r.Warnings = append(r.Warnings, e)
		return
	}
	e.Severity = SeverityError
	r.Errors = append(r.Errors, e)
}

func (r *Result) finish() {
	seen := map[string]bool{}
	for _, list := range [][]ValidationError{r.Errors, r.Warnings} {
		for _, e := range list {
			if e.SuggestedFix != "" && !seen[e.SuggestedFix] {
				seen[e.SuggestedFix] = true
				r.SuggestedFixes = append(r.SuggestedFixes, e.SuggestedFix)
			}
		}
	}
	r.Valid = len(r.Errors) == 0
}

// Option customises a Validator.
type Option func(*Validator)

// WithContractRules replaces the built-in contract rules.
func WithContractRules(rules ...ContractRule) Option {
	return func(v *Validator) {
		v.contract = rules
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.log = l
		}
	}
}

// Validator checks parameters against handler declarations.
type Validator struct {
	contract []ContractRule
	rules    []compiledRule
	log      *slog.Logger
}

// New compiles the contract rules and returns a validator.
func New(opts ...Option) (*Validator, error) {
	v := &Validator{contract: DefaultContractRules(), log: logger.Named("validate")}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	env, err := newRuleEnv()
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}
	rules, err := compileRules(env, v.contract)
	if err != nil {
		return nil, err
	}
	v.rules = rules
	return v, nil
}

// MustNew is New for configurations known to compile.
func MustNew(opts ...Option) *Validator {
	v, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks params against handler. It never panics.
func (v *Validator) Validate(handler protocol.HandlerMetadata, params map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("validation aborted", "handler", handler.Action, "panic", r)
			res = Result{}
			res.add(ValidationError{
				Field:        handler.Action,
				Message:      fmt.Sprintf("validation aborted: %v", r),
				SuggestedFix: fmt.Sprintf("check the declaration of handler %s", handler.Action),
			})
			res.finish()
		}
	}()

	res.Parameters = make(map[string]any, len(params))
	for k, val := range params {
		if Reserved(k) {
			res.add(ValidationError{
				Field:        k,
				Message:      fmt.Sprintf("%s is set by the message envelope and cannot be passed as a parameter", k),
				SuggestedFix: fmt.Sprintf("remove %s from the parameters", k),
			})
			continue
		}
		if _, declared := handler.Parameter(k); !declared {
			res.add(ValidationError{
				Field:    k,
				Message:  fmt.Sprintf("%s does not declare parameter %s; it was dropped", handler.Action, k),
				Severity: SeverityWarning,
			})
			continue
		}
		res.Parameters[k] = val
	}

	coerced := make(map[string]bool, len(handler.Parameters))
	for _, spec := range handler.Parameters {
		if Reserved(spec.Name) {
			continue
		}
		key, raw, present := lookup(params, spec.Name)
		if !present {
			if spec.Required {
				res.add(ValidationError{
					Field:        spec.Name,
					Message:      fmt.Sprintf("required parameter %s is missing", spec.Name),
					SuggestedFix: fmt.Sprintf("provide %s, e.g. %s", spec.Name, exampleAssignment(spec)),
				})
			}
			continue
		}
		if key != spec.Name {
			delete(res.Parameters, key)
		}

		value, err := Coerce(raw, spec.Type)
		switch {
		case errors.Is(err, ErrUnknownType):
			res.add(ValidationError{
				Field:    spec.Name,
				Message:  fmt.Sprintf("parameter %s has undeclared type %q; value passed through", spec.Name, spec.Type),
				Severity: SeverityWarning,
			})
			res.Parameters[spec.Name] = raw
			continue
		case err != nil:
			res.add(ValidationError{
				Field:        spec.Name,
				Message:      fmt.Sprintf("parameter %s: %v", spec.Name, err),
				SuggestedFix: fmt.Sprintf("provide %s as a %s, e.g. %s", spec.Name, spec.Type, exampleAssignment(spec)),
			})
			res.Parameters[spec.Name] = raw
			continue
		}
		res.Parameters[spec.Name] = value

		before := len(res.Errors)
		v.checkFormat(&res, spec, value)
		v.checkBounds(&res, spec, value)
		if len(res.Errors) == before {
			coerced[spec.Name] = true
		}
	}

	v.checkContract(&res, handler, coerced)
	res.finish()
	return res
}

// Reserved reports whether name is a message envelope field that no
// parameter may override.
func Reserved(name string) bool {
	return strings.EqualFold(name, "Action") || strings.EqualFold(name, "Data")
}

func lookup(params map[string]any, name string) (string, any, bool) {
	if val, ok := params[name]; ok && !isEmpty(val) {
		return name, val, true
	}
	for k, val := range params {
		if strings.EqualFold(k, name) && !isEmpty(val) {
			return k, val, true
		}
	}
	return "", nil, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func (v *Validator) checkFormat(res *Result, spec protocol.ParameterSpec, value any) {
	rule := spec.Validation
	if rule == nil {
		rule = &protocol.ValidationRule{}
	}

	if s, ok := value.(string); ok {
		minLen, maxLen := rule.MinLength, rule.MaxLength
		if spec.Type == protocol.TypeAddress {
			if minLen == nil {
				n := addressMinLength
				minLen = &n
			}
			if maxLen == nil {
				n := addressMaxLength
				maxLen = &n
			}
			if rule.Pattern == "" && !addressCharset.MatchString(s) {
				res.add(ValidationError{
					Field:        spec.Name,
					Message:      fmt.Sprintf("%s contains characters not allowed in an address", spec.Name),
					SuggestedFix: fmt.Sprintf("use only letters, digits, '-' and '_' in %s", spec.Name),
				})
			}
		}
		length := len([]rune(s))
		if minLen != nil && length < *minLen {
			res.add(ValidationError{
				Field:        spec.Name,
				Message:      fmt.Sprintf("%s is too short (%d < %d characters)", spec.Name, length, *minLen),
				SuggestedFix: fmt.Sprintf("provide at least %d characters for %s", *minLen, spec.Name),
			})
		}
		if maxLen != nil && length > *maxLen {
			res.add(ValidationError{
				Field:        spec.Name,
				Message:      fmt.Sprintf("%s is too long (%d > %d characters)", spec.Name, length, *maxLen),
				SuggestedFix: fmt.Sprintf("shorten %s to at most %d characters", spec.Name, *maxLen),
			})
		}
	}

	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			res.add(ValidationError{
				Field:    spec.Name,
				Message:  fmt.Sprintf("declared pattern for %s is invalid: %v", spec.Name, err),
				Severity: SeverityWarning,
			})
		} else if !re.MatchString(display(value)) {
			res.add(ValidationError{
				Field:        spec.Name,
				Message:      fmt.Sprintf("%s does not match pattern %s", spec.Name, rule.Pattern),
				SuggestedFix: fmt.Sprintf("provide %s in the form %s", spec.Name, rule.Pattern),
			})
		}
	}

	if f, ok := value.(float64); ok {
		if rule.Min != nil && f < *rule.Min {
			res.add(ValidationError{
				Field:        spec.Name,
				Message:      fmt.Sprintf("%s must be at least %v", spec.Name, *rule.Min),
				SuggestedFix: fmt.Sprintf("increase %s to %v or more", spec.Name, *rule.Min),
			})
		}
		if rule.Max != nil && f > *rule.Max {
			res.add(ValidationError{
				Field:        spec.Name,
				Message:      fmt.Sprintf("%s must be at most %v", spec.Name, *rule.Max),
				SuggestedFix: fmt.Sprintf("reduce %s to %v or less", spec.Name, *rule.Max),
			})
		}
	}

	if len(rule.Enum) > 0 {
		got := display(value)
		allowed := false
		for _, e := range rule.Enum {
			if strings.EqualFold(e, got) {
				allowed = true
				break
			}
		}
		if !allowed {
			res.add(ValidationError{
				Field:        spec.Name,
				Message:      fmt.Sprintf("%s must be one of %s", spec.Name, strings.Join(rule.Enum, ", ")),
				SuggestedFix: fmt.Sprintf("set %s to one of: %s", spec.Name, strings.Join(rule.Enum, ", ")),
			})
		}
	}
}

func (v *Validator) checkBounds(res *Result, spec protocol.ParameterSpec, value any) {
	f, ok := value.(float64)
	if !ok {
		return
	}
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		res.add(ValidationError{
			Field:        spec.Name,
			Message:      fmt.Sprintf("%s must be a finite number", spec.Name),
			SuggestedFix: fmt.Sprintf("provide a finite numeric value for %s", spec.Name),
		})
	case math.Abs(f) > MaxSafeMagnitude:
		res.add(ValidationError{
			Field:        spec.Name,
			Message:      fmt.Sprintf("%s exceeds the safe magnitude of 1e15", spec.Name),
			SuggestedFix: fmt.Sprintf("use a smaller value for %s or send it as a string", spec.Name),
		})
	case math.Abs(f) > PrecisionWarnAbove:
		res.add(ValidationError{
			Field:        spec.Name,
			Message:      fmt.Sprintf("%s is large enough to risk precision loss", spec.Name),
			Severity:     SeverityWarning,
			SuggestedFix: fmt.Sprintf("consider sending %s as a string", spec.Name),
		})
	}
}

func (v *Validator) checkContract(res *Result, handler protocol.HandlerMetadata, usable map[string]bool) {
	for _, rule := range v.rules {
		if !rule.handlers.MatchString(handler.Action) {
			continue
		}
		for _, spec := range selectParameters(rule.Parameter, handler) {
			if !usable[spec.Name] {
				continue
			}
			value := res.Parameters[spec.Name]
			out, _, err := rule.program.Eval(map[string]any{
				"value":  value,
				"name":   spec.Name,
				"params": res.Parameters,
			})
			passed := err == nil && out.Value() == true
			if passed {
				continue
			}
			if err != nil {
				v.log.Debug("contract rule evaluation failed", "rule", rule.ID, "parameter", spec.Name, "error", err)
			}
			res.add(ValidationError{
				Field:        spec.Name,
				Message:      expand(rule.Message, spec.Name),
				Severity:     rule.Severity,
				SuggestedFix: expand(rule.Fix, spec.Name),
			})
		}
	}
}

func display(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func exampleAssignment(spec protocol.ParameterSpec) string {
	if len(spec.Examples) > 0 {
		return spec.Name + "=" + spec.Examples[0]
	}
	switch spec.Type {
	case protocol.TypeNumber:
		return spec.Name + "=10"
	case protocol.TypeBoolean:
		return spec.Name + "=true"
	case protocol.TypeAddress:
		return spec.Name + "=<address>"
	case protocol.TypeArray:
		return spec.Name + "=[1,2]"
	case protocol.TypeObject:
		return spec.Name + `={"key":"value"}`
	default:
		return spec.Name + "=value"
	}
}
