package extract

import (
	"fmt"
	"log/slog"

	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/validate"
	"ProcessMCP/pkg/logger"
)

// Strategy names one extraction technique.
type Strategy string

const (
	StrategyDirect     Strategy = "direct"
	StrategyJSON       Strategy = "json"
	StrategyDomain     Strategy = "domain"
	StrategyContextual Strategy = "contextual"
	StrategySingle     Strategy = "single"
)

// DefaultMaxAttempts bounds the number of strategies tried per request.
const DefaultMaxAttempts = 5

// Result reports what extraction produced and how.
type Result struct {
	Parameters       map[string]any  `json:"parameters"`
	RetryAttempts    int             `json:"retryAttempts"`
	StrategiesUsed   []Strategy      `json:"strategiesUsed"`
	ExtractionErrors []string        `json:"extractionErrors,omitempty"`
	Strategy         Strategy        `json:"strategy,omitempty"`
	Success          bool            `json:"success"`
	Validation       validate.Result `json:"validation"`
}

// Option customises an Engine.
type Option func(*Engine)

// WithMaxAttempts sets how many strategies may be tried.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine runs the extraction strategies.
type Engine struct {
	validator   *validate.Validator
	maxAttempts int
	log         *slog.Logger
}

// New builds an engine that checks candidates with validator.
func New(validator *validate.Validator, opts ...Option) *Engine {
	e := &Engine{validator: validator, maxAttempts: DefaultMaxAttempts, log: logger.Named("extract")}
	if e.validator == nil {
		e.validator = validate.MustNew()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

type step struct {
	name Strategy
	run  func(text string, handler protocol.HandlerMetadata) (map[string]any, error)
}

func (e *Engine) steps() []step {
	return []step{
		{StrategyDirect, e.directStep},
		{StrategyJSON, e.jsonStep},
		{StrategyDomain, ParseNumericPhrase},
		{StrategyContextual, ParseContextual},
		{StrategySingle, ParseSingle},
	}
}

type candidate struct {
	strategy   Strategy
	filled     int
	validation validate.Result
}

// ExtractWithRetry tries each strategy in order until one produces all
// required parameters and passes validation. On total failure the best
// candidate is returned with Success false.
func (e *Engine) ExtractWithRetry(text string, handler protocol.HandlerMetadata) Result {
	res := Result{Parameters: map[string]any{}}
	var best *candidate
	required := handler.RequiredParameters()

	for _, s := range e.steps() {
		if res.RetryAttempts >= e.maxAttempts {
			res.ExtractionErrors = append(res.ExtractionErrors, fmt.Sprintf("stopped after %d attempts", e.maxAttempts))
			break
		}
		res.RetryAttempts++
		res.StrategiesUsed = append(res.StrategiesUsed, s.name)

		params, err := s.run(text, handler)
		if err != nil {
			res.ExtractionErrors = append(res.ExtractionErrors, fmt.Sprintf("%s: %v", s.name, err))
			continue
		}

		missing := missingRequired(required, params)
		validation := e.validator.Validate(handler, params)
		filled := len(required) - len(missing)
		if best == nil || filled > best.filled {
			best = &candidate{strategy: s.name, filled: filled, validation: validation}
		}

		if len(missing) > 0 {
			res.ExtractionErrors = append(res.ExtractionErrors, fmt.Sprintf("%s: missing required %v", s.name, missing))
			continue
		}
		if !validation.Valid {
			for _, ve := range validation.Errors {
				res.ExtractionErrors = append(res.ExtractionErrors, fmt.Sprintf("%s: %s", s.name, ve.Message))
			}
			continue
		}

		res.Parameters = validation.Parameters
		res.Validation = validation
		res.Strategy = s.name
		res.Success = true
		e.log.Debug("parameters extracted", "handler", handler.Action, "strategy", s.name, "attempts", res.RetryAttempts)
		return res
	}

	if best != nil {
		res.Parameters = best.validation.Parameters
		res.Validation = best.validation
		res.Strategy = best.strategy
	}
	return res
}

func missingRequired(required []protocol.ParameterSpec, params map[string]any) []string {
	var missing []string
	for _, spec := range required {
		v, ok := params[spec.Name]
		if !ok || v == nil {
			missing = append(missing, spec.Name)
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			missing = append(missing, spec.Name)
		}
	}
	return missing
}

// bind keeps only values for declared parameters, keyed by declared name.
func bind(raw map[string]any, handler protocol.HandlerMetadata) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if spec, ok := handler.Parameter(k); ok {
			out[spec.Name] = v
		}
	}
	return out
}
