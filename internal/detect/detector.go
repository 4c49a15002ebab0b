package detect

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"ProcessMCP/internal/protocol"
	"ProcessMCP/pkg/logger"
)

// OperationType classifies a request as reading or changing remote state.
type OperationType string

const (
	OperationRead     OperationType = "read"
	OperationWrite    OperationType = "write"
	OperationValidate OperationType = "validate"
	OperationUnknown  OperationType = "unknown"
)

// Method names the layer that produced a detection result.
type Method string

const (
	MethodExplicit Method = "explicit"
	MethodProtocol Method = "protocol"
	MethodNLP      Method = "nlp"
	MethodPattern  Method = "pattern"
	MethodFallback Method = "fallback"
)

// ModeAuto asks the detector to infer the operation type.
const ModeAuto = "auto"

const (
	protocolThreshold  = 0.7
	intentThreshold    = 0.5
	patternConfidence  = 0.7
	fallbackConfidence = 0.3
	invalidModeScore   = 0.5
)

// Result is the outcome of detection.
type Result struct {
	OperationType       OperationType      `json:"operationType"`
	Confidence          float64            `json:"confidence"`
	Method              Method             `json:"method"`
	RiskLevel           protocol.RiskLevel `json:"riskLevel"`
	Reasoning           []string           `json:"reasoning"`
	SuggestedParameters map[string]any     `json:"suggestedParameters,omitempty"`
	MatchedHandler      string             `json:"matchedHandler,omitempty"`
	Domain              string             `json:"domain,omitempty"`
}

// IsWrite reports whether the result would change remote state.
func (r Result) IsWrite() bool {
	return r.OperationType == OperationWrite
}

// Option customises a Detector.
type Option func(*Detector)

// WithRuleSet replaces the built-in rule tables.
func WithRuleSet(rs RuleSet) Option {
	return func(d *Detector) {
		d.ruleSet = &rs
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// Detector decides whether a request reads or writes.
type Detector struct {
	ruleSet *RuleSet
	rules   *compiledRules
	log     *slog.Logger
}

// New builds a detector. It fails only when custom rule tables are invalid.
func New(opts ...Option) (*Detector, error) {
	d := &Detector{log: logger.Named("detect")}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	rs := DefaultRuleSet()
	if d.ruleSet != nil {
		rs = *d.ruleSet
	}
	rules, err := rs.compile()
	if err != nil {
		return nil, err
	}
	d.rules = rules
	return d, nil
}

// MustNew is New for the built-in rules, which are known to compile.
func MustNew(opts ...Option) *Detector {
	d, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Detect classifies text. handlers may be nil; mode is "", "auto" or an
// explicit operation type.
func (d *Detector) Detect(text string, handlers []protocol.HandlerMetadata, mode string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{
			OperationType: OperationUnknown,
			Method:        MethodFallback,
			RiskLevel:     protocol.RiskLow,
			Reasoning:     []string{"request text is empty"},
		}
	}

	var reasoning []string
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "", ModeAuto:
	case string(OperationRead), string(OperationWrite), string(OperationValidate):
		op := OperationType(mode)
		return Result{
			OperationType: op,
			Confidence:    1.0,
			Method:        MethodExplicit,
			RiskLevel:     d.riskFor(op, trimmed, ""),
			Reasoning:     []string{fmt.Sprintf("operation mode %q set explicitly", mode)},
		}
	default:
		return Result{
			OperationType: OperationUnknown,
			Confidence:    invalidModeScore,
			Method:        MethodExplicit,
			RiskLevel:     protocol.RiskMedium,
			Reasoning:     []string{fmt.Sprintf("unsupported operation mode %q", mode)},
		}
	}

	tokens := protocol.Words(trimmed)

	if len(handlers) > 0 {
		if res, ok, note := d.detectFromProtocol(trimmed, tokens, handlers); ok {
			res.Reasoning = append(reasoning, res.Reasoning...)
			return res
		} else if note != "" {
			reasoning = append(reasoning, note)
		}
	}

	if res, ok, note := d.detectFromIntent(trimmed, tokens); ok {
		res.Reasoning = append(reasoning, res.Reasoning...)
		return res
	} else if note != "" {
		reasoning = append(reasoning, note)
	}

	if res, ok := d.detectFromPattern(trimmed); ok {
		res.Reasoning = append(reasoning, res.Reasoning...)
		return res
	}

	return Result{
		OperationType: OperationRead,
		Confidence:    fallbackConfidence,
		Method:        MethodFallback,
		RiskLevel:     protocol.RiskLow,
		Reasoning:     append(reasoning, "no layer matched; defaulting to read out of caution"),
		Domain:        "generic",
	}
}

func (d *Detector) detectFromProtocol(text string, tokens []string, handlers []protocol.HandlerMetadata) (res Result, ok bool, note string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn("protocol matching failed", "panic", r)
			res, ok, note = Result{}, false, fmt.Sprintf("protocol metadata unusable: %v", r)
		}
	}()

	matches := d.matchHandlers(text, tokens, handlers)
	if len(matches) == 0 {
		return Result{}, false, "no handler resembles the request"
	}
	best := matches[0]
	if best.Score <= protocolThreshold {
		return Result{}, false, fmt.Sprintf("best handler %s scored %.2f, below protocol threshold", best.Handler.Action, best.Score)
	}

	op := OperationRead
	if best.Handler.IsWrite {
		op = OperationWrite
	}
	return Result{
		OperationType:       op,
		Confidence:          best.Score,
		Method:              MethodProtocol,
		RiskLevel:           d.riskFor(op, text, best.Handler.Action),
		Reasoning:           append([]string{fmt.Sprintf("matched handler %s (%.2f)", best.Handler.Action, best.Score)}, best.Reasons...),
		SuggestedParameters: SketchParameters(text, best.Handler),
		MatchedHandler:      best.Handler.Action,
		Domain:              string(best.Handler.SemanticCategory()),
	}, true, ""
}

func (d *Detector) detectFromIntent(text string, tokens []string) (Result, bool, string) {
	var bestWrite, bestRead IntentRule
	for _, token := range tokens {
		rule, ok := d.rules.lookup(token)
		if !ok {
			continue
		}
		switch rule.Kind {
		case OperationWrite:
			if rule.Strength > bestWrite.Strength {
				bestWrite = rule
			}
		case OperationRead:
			if rule.Strength > bestRead.Strength {
				bestRead = rule
			}
		}
	}

	var winner IntentRule
	switch {
	case bestWrite.Strength == 0 && bestRead.Strength == 0:
		return Result{}, false, ""
	case bestWrite.Strength == bestRead.Strength:
		return Result{}, false, fmt.Sprintf("intent tie between %q and %q", bestWrite.Verb, bestRead.Verb)
	case bestWrite.Strength > bestRead.Strength:
		winner = bestWrite
	default:
		winner = bestRead
	}
	if winner.Strength < intentThreshold {
		return Result{}, false, fmt.Sprintf("intent %q too weak (%.2f)", winner.Verb, winner.Strength)
	}

	reasons := []string{fmt.Sprintf("verb %q indicates %s (%.2f)", winner.Verb, winner.Kind, winner.Strength)}
	if loser := otherSide(winner, bestWrite, bestRead); loser.Strength > 0 {
		reasons = append(reasons, fmt.Sprintf("outweighs %q (%.2f)", loser.Verb, loser.Strength))
	}
	return Result{
		OperationType: winner.Kind,
		Confidence:    winner.Strength,
		Method:        MethodNLP,
		RiskLevel:     d.riskFor(winner.Kind, text, ""),
		Reasoning:     reasons,
		Domain:        firstDomain(winner.Domains),
	}, true, ""
}

func otherSide(winner, write, read IntentRule) IntentRule {
	if winner.Kind == OperationWrite {
		return read
	}
	return write
}

func (d *Detector) detectFromPattern(text string) (Result, bool) {
	for _, p := range d.rules.patterns {
		if !p.re.MatchString(text) {
			continue
		}
		return Result{
			OperationType: p.Kind,
			Confidence:    patternConfidence,
			Method:        MethodPattern,
			RiskLevel:     d.riskFor(p.Kind, text, ""),
			Reasoning:     []string{fmt.Sprintf("pattern %s matched", p.Name)},
			Domain:        firstDomain(p.Domains),
		}, true
	}
	return Result{}, false
}

// riskFor derives a risk level from the operation type and any irreversible
// verb in the request or handler name.
func (d *Detector) riskFor(op OperationType, text, action string) protocol.RiskLevel {
	switch op {
	case OperationWrite:
		if d.HasHighRiskVerb(text) || d.HasHighRiskVerb(action) {
			return protocol.RiskHigh
		}
		return protocol.RiskMedium
	case OperationUnknown:
		return protocol.RiskMedium
	default:
		return protocol.RiskLow
	}
}

// HasHighRiskVerb reports whether text contains an irreversible verb.
func (d *Detector) HasHighRiskVerb(text string) bool {
	for _, token := range protocol.Words(text) {
		if rule, ok := d.rules.lookup(token); ok && rule.HighRisk {
			return true
		}
	}
	return false
}

// StrongestIntent returns the highest weighted intent verb in text.
func (d *Detector) StrongestIntent(text string) (IntentRule, bool) {
	return d.strongestFromTokens(protocol.Words(text))
}

func firstDomain(domains []string) string {
	if len(domains) == 0 {
		return "generic"
	}
	return domains[0]
}

var (
	sketchAssign = regexp.MustCompile(`([A-Za-z_][\w-]*)\s*[=:]\s*("[^"]*"|'[^']*'|[^\s,]+)`)
	sketchNumber = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// SketchParameters produces a best-effort parameter guess for handler. It is
// advisory; extraction does the real work.
func SketchParameters(text string, handler protocol.HandlerMetadata) map[string]any {
	out := map[string]any{}
	for _, m := range sketchAssign.FindAllStringSubmatch(text, -1) {
		if spec, ok := handler.Parameter(m[1]); ok {
			out[spec.Name] = strings.Trim(m[2], `"'`)
		}
	}
	numbers := sketchNumber.FindAllString(text, -1)
	i := 0
	for _, spec := range handler.Parameters {
		if _, done := out[spec.Name]; done || !spec.AmountLike() || i >= len(numbers) {
			continue
		}
		if f, err := strconv.ParseFloat(numbers[i], 64); err == nil {
			out[spec.Name] = f
		}
		i++
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
