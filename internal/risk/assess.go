package risk

import (
	"fmt"
	"sort"
	"strings"

	"ProcessMCP/internal/detect"
	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/validate"
)

// Thresholds configure value based escalation.
type Thresholds struct {
	// Medium and High escalate the level when any numeric parameter exceeds them.
	Medium float64
	High   float64
	// HighValue marks a transaction as high value, which requires confirmation.
	HighValue float64
}

// DefaultThresholds returns the stock value thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 10_000, High: 1_000_000, HighValue: 100_000}
}

// BatchContext describes the batch an operation belongs to.
type BatchContext struct {
	ID    string `json:"id"`
	Step  int    `json:"step"`
	Total int    `json:"total"`
}

// Input is the request side of an assessment.
type Input struct {
	Request          string
	Parameters       map[string]any
	Batch            *BatchContext
	ConfirmRequested bool
}

// Factor is one contribution to the risk level.
type Factor struct {
	Name   string             `json:"name"`
	Level  protocol.RiskLevel `json:"level"`
	Detail string             `json:"detail"`
}

// Assessment is the risk profile of a pending operation.
type Assessment struct {
	Level                protocol.RiskLevel `json:"level"`
	Factors              []Factor           `json:"factors"`
	Warnings             []string           `json:"warnings,omitempty"`
	Consequences         []string           `json:"consequences,omitempty"`
	ConfirmationRequired bool               `json:"confirmationRequired"`
	HighValue            bool               `json:"highValue"`
}

func (a *Assessment) raise(name string, level protocol.RiskLevel, detail string) {
	a.Factors = append(a.Factors, Factor{Name: name, Level: level, Detail: detail})
	a.Level = protocol.MaxRisk(a.Level, level)
}

var (
	irreversibleVerbs = []string{"delete", "burn", "destroy", "revoke"}
	adminKeys         = []string{"owner", "admin", "permission", "role"}
)

// Option customises an Engine.
type Option func(*Engine)

// WithThresholds overrides the value thresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		if t.Medium > 0 {
			e.thresholds.Medium = t.Medium
		}
		if t.High > 0 {
			e.thresholds.High = t.High
		}
		if t.HighValue > 0 {
			e.thresholds.HighValue = t.HighValue
		}
	}
}

// WithAlwaysConfirm makes every write require confirmation.
func WithAlwaysConfirm(on bool) Option {
	return func(e *Engine) {
		e.alwaysConfirmWrites = on
	}
}

// Engine assesses operation risk.
type Engine struct {
	thresholds          Thresholds
	alwaysConfirmWrites bool
}

// New builds an engine with default thresholds.
func New(opts ...Option) *Engine {
	e := &Engine{thresholds: DefaultThresholds()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Assess scores an operation. handler may be nil when no handler is known.
// Factors only ever raise the level.
func (e *Engine) Assess(in Input, det detect.Result, handler *protocol.HandlerMetadata) Assessment {
	a := Assessment{Level: protocol.RiskLow}

	if det.RiskLevel != "" {
		a.raise("detection", det.RiskLevel, fmt.Sprintf("detected %s via %s", det.OperationType, det.Method))
	}

	isWrite := det.IsWrite() || (handler != nil && handler.IsWrite)
	if isWrite {
		a.raise("write", protocol.RiskMedium, "operation changes remote state")
	}

	if handler != nil {
		if verb, ok := irreversible(handler.Action); ok {
			a.raise("irreversible", protocol.RiskHigh, fmt.Sprintf("%s is irreversible", handler.Action))
			a.Warnings = append(a.Warnings, fmt.Sprintf("%s (%s) cannot be undone", handler.Action, verb))
		}
	}

	for _, key := range sortedKeys(in.Parameters) {
		lower := strings.ToLower(key)
		for _, admin := range adminKeys {
			if strings.Contains(lower, admin) {
				a.raise("administrative", protocol.RiskMedium, fmt.Sprintf("parameter %s changes administrative state", key))
				a.Warnings = append(a.Warnings, fmt.Sprintf("%s affects ownership or permissions", key))
				break
			}
		}
	}

	var maxValue float64
	for _, key := range sortedKeys(in.Parameters) {
		value := in.Parameters[key]
		if strings.EqualFold(key, "permanent") && truthy(value) {
			a.raise("permanent", protocol.RiskHigh, "permanent flag set")
			a.Warnings = append(a.Warnings, "the permanent flag makes this change final")
			continue
		}
		if !valueBearing(key, handler) {
			continue
		}
		f, ok := validate.AsFloat(value)
		if !ok {
			continue
		}
		if f < 0 {
			f = -f
		}
		if f > maxValue {
			maxValue = f
		}
		switch {
		case f > e.thresholds.High:
			a.raise("large-value", protocol.RiskHigh, fmt.Sprintf("%s=%v exceeds %v", key, value, e.thresholds.High))
		case f > e.thresholds.Medium:
			a.raise("large-value", protocol.RiskMedium, fmt.Sprintf("%s=%v exceeds %v", key, value, e.thresholds.Medium))
		}
	}
	if maxValue > e.thresholds.HighValue {
		a.HighValue = true
		a.Warnings = append(a.Warnings, fmt.Sprintf("high value transaction (%v)", maxValue))
	}

	if in.Batch != nil {
		a.raise("batch", protocol.RiskMedium, fmt.Sprintf("step %d of %d in batch %s; a failure can cascade", in.Batch.Step, in.Batch.Total, in.Batch.ID))
	}

	a.Consequences = Consequences(handler, in.Parameters, isWrite)
	a.ConfirmationRequired = a.Level == protocol.RiskHigh ||
		in.ConfirmRequested ||
		a.HighValue ||
		(e.alwaysConfirmWrites && isWrite)
	return a
}

// valueBearing reports whether key holds an amount. Ids and addresses that
// happen to be numeric are not amounts.
func valueBearing(key string, handler *protocol.HandlerMetadata) bool {
	if handler != nil {
		if spec, ok := handler.Parameter(key); ok {
			return spec.Type != protocol.TypeAddress && spec.AmountLike()
		}
	}
	return protocol.ParameterSpec{Name: key}.AmountLike()
}

func irreversible(action string) (string, bool) {
	for _, w := range protocol.Words(action) {
		for _, verb := range irreversibleVerbs {
			if w == verb {
				return verb, true
			}
		}
	}
	return "", false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "1":
			return true
		}
	case float64:
		return x == 1
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
