package risk

import (
	"fmt"
	"strings"

	"ProcessMCP/internal/protocol"
)

// Choice identifies a confirmation option.
type Choice string

const (
	ChoiceProceed  Choice = "proceed"
	ChoiceSimulate Choice = "simulate"
	ChoiceModify   Choice = "modify"
	ChoiceCancel   Choice = "cancel"
)

// PromptOption is one answer offered to the caller.
type PromptOption struct {
	Choice      Choice `json:"choice"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Recommended bool   `json:"recommended"`
}

// Preview shows what would be dispatched.
type Preview struct {
	TargetID   string         `json:"targetId"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Encoding   string         `json:"encoding,omitempty"`
}

// ConfirmationPrompt is returned instead of dispatching a risky operation.
type ConfirmationPrompt struct {
	Title        string             `json:"title"`
	Message      string             `json:"message"`
	RiskLevel    protocol.RiskLevel `json:"riskLevel"`
	Options      []PromptOption     `json:"options"`
	Preview      Preview            `json:"preview"`
	Warnings     []string           `json:"warnings,omitempty"`
	Consequences []string           `json:"consequences,omitempty"`
}

// Recommended returns the recommended choice.
func (p ConfirmationPrompt) Recommended() Choice {
	for _, o := range p.Options {
		if o.Recommended {
			return o.Choice
		}
	}
	return ChoiceCancel
}

// RecommendedChoice maps a risk level to its default answer.
func RecommendedChoice(level protocol.RiskLevel) Choice {
	switch level {
	case protocol.RiskHigh:
		return ChoiceSimulate
	case protocol.RiskMedium:
		return ChoiceCancel
	default:
		return ChoiceProceed
	}
}

// BuildConfirmationPrompt renders the prompt for an assessment. Options are
// always listed as proceed, simulate, modify, cancel.
func BuildConfirmationPrompt(a Assessment, preview Preview) ConfirmationPrompt {
	rec := RecommendedChoice(a.Level)
	proceedLabel := "Proceed"
	if a.Level == protocol.RiskHigh {
		proceedLabel = "Proceed anyway"
	}
	options := []PromptOption{
		{Choice: ChoiceProceed, Label: proceedLabel, Description: "dispatch the message as shown"},
		{Choice: ChoiceSimulate, Label: "Simulate first", Description: "dry run without changing remote state"},
		{Choice: ChoiceModify, Label: "Modify", Description: "change the parameters before sending"},
		{Choice: ChoiceCancel, Label: "Cancel", Description: "do not send anything"},
	}
	for i := range options {
		options[i].Recommended = options[i].Choice == rec
	}

	action := preview.Action
	if action == "" {
		action = "operation"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s carries %s risk.", action, preview.TargetID, a.Level)
	for _, c := range a.Consequences {
		b.WriteString(" ")
		b.WriteString(capitalize(c))
		b.WriteString(".")
	}

	return ConfirmationPrompt{
		Title:        fmt.Sprintf("Confirm %s", action),
		Message:      b.String(),
		RiskLevel:    a.Level,
		Options:      options,
		Preview:      preview,
		Warnings:     a.Warnings,
		Consequences: a.Consequences,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
