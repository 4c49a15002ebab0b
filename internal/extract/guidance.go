package extract

import (
	"fmt"
	"strings"

	"ProcessMCP/internal/protocol"
)

// Guidance explains a failed extraction and shows phrasings the engine
// understands for handler.
func Guidance(handler protocol.HandlerMetadata, res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Could not extract parameters for %s", handler.Action)
	if len(res.StrategiesUsed) > 0 {
		names := make([]string, len(res.StrategiesUsed))
		for i, s := range res.StrategiesUsed {
			names[i] = string(s)
		}
		fmt.Fprintf(&b, " after %d attempts (%s)", res.RetryAttempts, strings.Join(names, ", "))
	}
	b.WriteString(".\n")

	if missing := missingRequired(handler.RequiredParameters(), res.Parameters); len(missing) > 0 {
		fmt.Fprintf(&b, "Missing: %s.\n", strings.Join(missing, ", "))
	}
	for _, ve := range res.Validation.Errors {
		fmt.Fprintf(&b, "- %s", ve.Message)
		if ve.SuggestedFix != "" {
			fmt.Fprintf(&b, " (%s)", ve.SuggestedFix)
		}
		b.WriteString("\n")
	}

	b.WriteString("Try phrasing it as:\n")
	fmt.Fprintf(&b, "  %s\n", ExamplePhrasing(handler))
	if len(handler.Parameters) > 0 {
		fmt.Fprintf(&b, "  %s\n", exampleJSON(handler))
	}
	for _, ex := range handler.Examples {
		fmt.Fprintf(&b, "  %s\n", ex)
	}
	for _, spec := range handler.Parameters {
		req := "optional"
		if spec.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "  %s (%s, %s)", spec.Name, spec.Type, req)
		if spec.Description != "" {
			fmt.Fprintf(&b, ": %s", spec.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExamplePhrasing renders "Action Param=value ..." for handler.
func ExamplePhrasing(handler protocol.HandlerMetadata) string {
	parts := []string{handler.Action}
	for _, spec := range handler.Parameters {
		parts = append(parts, spec.Name+"="+sampleValue(spec))
	}
	return strings.Join(parts, " ")
}

func exampleJSON(handler protocol.HandlerMetadata) string {
	parts := make([]string, 0, len(handler.Parameters))
	for _, spec := range handler.Parameters {
		v := sampleValue(spec)
		switch spec.Type {
		case protocol.TypeNumber, protocol.TypeBoolean, protocol.TypeArray, protocol.TypeObject:
		default:
			v = `"` + v + `"`
		}
		parts = append(parts, fmt.Sprintf(`"%s":%s`, spec.Name, v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func sampleValue(spec protocol.ParameterSpec) string {
	if len(spec.Examples) > 0 {
		return spec.Examples[0]
	}
	if spec.Validation != nil && len(spec.Validation.Enum) > 0 {
		return spec.Validation.Enum[0]
	}
	switch spec.Type {
	case protocol.TypeNumber:
		return "10"
	case protocol.TypeBoolean:
		return "true"
	case protocol.TypeAddress:
		return "<address>"
	case protocol.TypeArray:
		return "[1,2]"
	case protocol.TypeObject:
		return `{"key":"value"}`
	default:
		if spec.AmountLike() {
			return "100"
		}
		return "value"
	}
}
