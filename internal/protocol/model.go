package protocol

import (
	"strings"
	"time"
)

// ParameterType is the declared wire type of a handler parameter.
type ParameterType string

const (
	TypeNumber  ParameterType = "number"
	TypeString  ParameterType = "string"
	TypeBoolean ParameterType = "boolean"
	TypeAddress ParameterType = "address"
	TypeObject  ParameterType = "object"
	TypeArray   ParameterType = "array"
)

// Known reports whether t is one of the supported parameter types.
func (t ParameterType) Known() bool {
	switch t {
	case TypeNumber, TypeString, TypeBoolean, TypeAddress, TypeObject, TypeArray:
		return true
	}
	return false
}

// Structured reports whether values of t travel as nested JSON.
func (t ParameterType) Structured() bool {
	return t == TypeObject || t == TypeArray
}

// ValidationRule holds the optional format constraints of a parameter.
type ValidationRule struct {
	Pattern   string   `json:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
}

// ParameterSpec describes one parameter of a handler.
type ParameterSpec struct {
	Name        string          `json:"name"`
	Type        ParameterType   `json:"type"`
	Required    bool            `json:"required"`
	Description string          `json:"description,omitempty"`
	Examples    []string        `json:"examples,omitempty"`
	Validation  *ValidationRule `json:"validation,omitempty"`
}

// AmountLike reports whether the parameter carries a numeric quantity, either
// by type or by a conventional name such as Quantity.
func (p ParameterSpec) AmountLike() bool {
	if p.Type == TypeNumber {
		return true
	}
	switch strings.ToLower(p.Name) {
	case "quantity", "amount", "value", "count", "qty":
		return true
	}
	return false
}

// HandlerMetadata describes one operation a target process exposes.
type HandlerMetadata struct {
	Action      string            `json:"action"`
	Pattern     map[string]string `json:"pattern,omitempty"`
	Description string            `json:"description,omitempty"`
	Parameters  []ParameterSpec   `json:"parameters,omitempty"`
	IsWrite     bool              `json:"isWrite"`
	Category    Category          `json:"category,omitempty"`
	Examples    []string          `json:"examples,omitempty"`
}

// Parameter looks up a parameter by name, ignoring case.
func (h HandlerMetadata) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range h.Parameters {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// RequiredParameters returns the required parameters in declared order.
func (h HandlerMetadata) RequiredParameters() []ParameterSpec {
	var out []ParameterSpec
	for _, p := range h.Parameters {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// NumericParameters returns the number typed parameters in declared order.
func (h HandlerMetadata) NumericParameters() []ParameterSpec {
	var out []ParameterSpec
	for _, p := range h.Parameters {
		if p.Type == TypeNumber {
			out = append(out, p)
		}
	}
	return out
}

// SemanticCategory returns the declared category or infers one.
func (h HandlerMetadata) SemanticCategory() Category {
	if h.Category != "" {
		return h.Category
	}
	return InferCategory(h.Action, h.Description)
}

// Document is a target's full self-description.
type Document struct {
	ProtocolVersion string            `json:"protocolVersion"`
	Name            string            `json:"name,omitempty"`
	Handlers        []HandlerMetadata `json:"handlers"`
	Capabilities    map[string]bool   `json:"capabilities,omitempty"`
	LastUpdated     string            `json:"lastUpdated,omitempty"`
	DiscoveredAt    time.Time         `json:"-"`
}

// Handler looks up a handler by action name, ignoring case.
func (d *Document) Handler(action string) (HandlerMetadata, bool) {
	if d == nil {
		return HandlerMetadata{}, false
	}
	for _, h := range d.Handlers {
		if strings.EqualFold(h.Action, action) {
			return h, true
		}
	}
	return HandlerMetadata{}, false
}

// Supports reports whether the document declares capability name.
func (d *Document) Supports(name string) bool {
	if d == nil {
		return false
	}
	return d.Capabilities[name]
}
