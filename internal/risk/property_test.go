package risk

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"ProcessMCP/internal/detect"
	"ProcessMCP/internal/protocol"
)

func TestWriteHandlerNeverLow(t *testing.T) {
	engine := New()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("write handlers are at least medium", prop.ForAll(
		func(action string, key string, value string) bool {
			h := protocol.HandlerMetadata{Action: action, IsWrite: true}
			det := detect.Result{OperationType: detect.OperationRead, RiskLevel: protocol.RiskLow}
			a := engine.Assess(Input{Parameters: map[string]any{key: value}}, det, &h)
			return a.Level.AtLeast(protocol.RiskMedium)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("high risk always requires confirmation", prop.ForAll(
		func(action string) bool {
			h := protocol.HandlerMetadata{Action: action, IsWrite: true}
			a := engine.Assess(Input{}, detect.Result{OperationType: detect.OperationWrite, RiskLevel: protocol.RiskMedium}, &h)
			return a.Level != protocol.RiskHigh || a.ConfirmationRequired
		},
		gen.OneConstOf("Burn", "Delete", "Transfer", "Revoke", "Mint", "DestroyAll"),
	))

	properties.TestingRun(t)
}
