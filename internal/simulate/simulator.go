// Package simulate performs side-effect-free dry runs of compiled operations.
package simulate

import (
	"fmt"
	"log/slog"
	"strings"

	"ProcessMCP/internal/detect"
	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/risk"
	"ProcessMCP/internal/validate"
	"ProcessMCP/pkg/logger"
)

// Cost model in abstract compute units.
const (
	BaseCost         = 1000
	CostPerParameter = 250
	WriteSurcharge   = 2000
)

// Resources estimates what dispatching would consume.
type Resources struct {
	EstimatedCost int      `json:"estimatedCost"`
	Permissions   []string `json:"permissions"`
}

// Request is the operation being simulated.
type Request struct {
	TargetID   string
	Text       string
	Parameters map[string]any
	Detection  detect.Result
	Batch      *risk.BatchContext
}

// Result is the outcome of a dry run.
type Result struct {
	Valid            bool            `json:"valid"`
	PotentialErrors  []string        `json:"potentialErrors,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
	Resources        Resources       `json:"resources"`
	EstimatedOutcome string          `json:"estimatedOutcome"`
	Risk             risk.Assessment `json:"risk"`
	Validation       validate.Result `json:"validation"`
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// Simulator runs validation and risk assessment without touching the target.
type Simulator struct {
	validator *validate.Validator
	risk      *risk.Engine
	log       *slog.Logger
}

// New builds a simulator. Nil collaborators are replaced by defaults.
func New(validator *validate.Validator, engine *risk.Engine, opts ...Option) *Simulator {
	if validator == nil {
		validator = validate.MustNew()
	}
	if engine == nil {
		engine = risk.New()
	}
	s := &Simulator{validator: validator, risk: engine, log: logger.Named("simulate")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Simulate dry-runs req against handler, which may be nil. It never panics;
// a malformed handler yields an invalid, high risk result.
func (s *Simulator) Simulate(req Request, handler *protocol.HandlerMetadata) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("simulation aborted", "target", req.TargetID, "panic", r)
			res = malformed(fmt.Sprintf("simulation aborted: %v", r))
		}
	}()

	if handler != nil {
		if problem := checkHandler(*handler); problem != "" {
			return malformed(problem)
		}
	}

	isWrite := req.Detection.IsWrite() || (handler != nil && handler.IsWrite)
	res.Valid = true

	params := req.Parameters
	if handler != nil {
		res.Validation = s.validator.Validate(*handler, req.Parameters)
		params = res.Validation.Parameters
		for _, e := range res.Validation.Errors {
			res.PotentialErrors = append(res.PotentialErrors, fmt.Sprintf("%s: %s", e.Field, e.Message))
		}
		for _, w := range res.Validation.Warnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", w.Field, w.Message))
		}
		res.Valid = res.Validation.Valid
	}

	res.Risk = s.risk.Assess(risk.Input{Request: req.Text, Parameters: params, Batch: req.Batch}, req.Detection, handler)
	res.Warnings = append(res.Warnings, res.Risk.Warnings...)
	res.Resources = Resources{
		EstimatedCost: EstimateCost(len(params), isWrite),
		Permissions:   permissions(handler, isWrite),
	}
	res.EstimatedOutcome = Outcome(handler, params, isWrite)
	return res
}

// EstimateCost grows with the parameter count and whether the operation writes.
func EstimateCost(paramCount int, isWrite bool) int {
	cost := BaseCost + CostPerParameter*paramCount
	if isWrite {
		cost += WriteSurcharge
	}
	return cost
}

// Outcome describes in one sentence what dispatching would do.
func Outcome(handler *protocol.HandlerMetadata, params map[string]any, isWrite bool) string {
	if handler == nil {
		if isWrite {
			return "The target process will receive a state-changing message."
		}
		return "The target process will be queried; nothing changes."
	}
	amount, recipient := describeParams(*handler, params)
	switch handler.SemanticCategory() {
	case protocol.CategoryBalance:
		if recipient != "" {
			return fmt.Sprintf("Returns the balance of %s.", recipient)
		}
		return "Returns the caller's balance."
	case protocol.CategoryTransfer:
		if recipient != "" {
			return fmt.Sprintf("Transfers %s tokens to %s.", amount, recipient)
		}
		return fmt.Sprintf("Transfers %s tokens.", amount)
	case protocol.CategoryMint:
		return fmt.Sprintf("Mints %s new tokens.", amount)
	case protocol.CategoryBurn:
		return fmt.Sprintf("Permanently destroys %s tokens.", amount)
	case protocol.CategoryDelete:
		return "Permanently deletes the targeted record."
	case protocol.CategoryInfo:
		return "Returns process information."
	case protocol.CategoryAdmin:
		return "Changes ownership or permissions of the process."
	case protocol.CategoryMath:
		return fmt.Sprintf("Computes %s on the target process.", handler.Action)
	}
	if isWrite || handler.IsWrite {
		return fmt.Sprintf("Executes %s, changing the target process state.", handler.Action)
	}
	return fmt.Sprintf("Executes %s as a read-only query.", handler.Action)
}

func checkHandler(h protocol.HandlerMetadata) string {
	if strings.TrimSpace(h.Action) == "" {
		return "handler declares no action"
	}
	seen := make(map[string]bool, len(h.Parameters))
	for i, p := range h.Parameters {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return fmt.Sprintf("handler %s parameter %d has no name", h.Action, i)
		}
		if seen[name] {
			return fmt.Sprintf("handler %s declares parameter %s twice", h.Action, p.Name)
		}
		seen[name] = true
	}
	return ""
}

func malformed(problem string) Result {
	return Result{
		Valid:           false,
		PotentialErrors: []string{problem},
		Resources:       Resources{EstimatedCost: BaseCost, Permissions: []string{}},
		Risk: risk.Assessment{
			Level:                protocol.RiskHigh,
			Factors:              []risk.Factor{{Name: "malformed-handler", Level: protocol.RiskHigh, Detail: problem}},
			ConfirmationRequired: true,
		},
		EstimatedOutcome: "The outcome cannot be predicted.",
	}
}

func permissions(handler *protocol.HandlerMetadata, isWrite bool) []string {
	perms := []string{"read"}
	if isWrite {
		perms = append(perms, "write")
	}
	if handler != nil {
		switch handler.SemanticCategory() {
		case protocol.CategoryTransfer, protocol.CategoryBurn:
			perms = append(perms, "balance-owner")
		case protocol.CategoryMint, protocol.CategoryAdmin, protocol.CategoryDelete:
			perms = append(perms, "owner")
		}
	}
	return perms
}

func describeParams(h protocol.HandlerMetadata, params map[string]any) (amount, recipient string) {
	amount = "the specified"
	for _, spec := range h.Parameters {
		v, ok := params[spec.Name]
		if !ok || v == nil {
			continue
		}
		switch {
		case spec.Type == protocol.TypeAddress && recipient == "":
			recipient = fmt.Sprint(v)
		case spec.AmountLike() && amount == "the specified":
			amount = fmt.Sprint(v)
		}
	}
	return amount, recipient
}
