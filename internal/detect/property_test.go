package detect

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"ProcessMCP/internal/protocol"
)

func TestExplicitModeIsTrusted(t *testing.T) {
	d := MustNew()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("explicit mode wins with confidence 1", prop.ForAll(
		func(text string, mode string) bool {
			if text == "" {
				text = "x"
			}
			res := d.Detect(text, tokenHandlers(), mode)
			return string(res.OperationType) == mode &&
				res.Confidence == 1.0 &&
				res.Method == MethodExplicit
		},
		gen.AlphaString(),
		gen.OneConstOf("read", "write", "validate"),
	))

	properties.TestingRun(t)
}

func TestWriteNeverLowRisk(t *testing.T) {
	d := MustNew()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	words := gen.OneConstOf("transfer", "burn", "check", "balance", "100", "to", "bob", "delete", "show", "mint", "hello")
	properties.Property("write detections carry at least medium risk", prop.ForAll(
		func(parts []string) bool {
			text := ""
			for _, p := range parts {
				text += p + " "
			}
			res := d.Detect(text, tokenHandlers(), "")
			if res.OperationType != OperationWrite {
				return true
			}
			return res.RiskLevel.AtLeast(protocol.RiskMedium)
		},
		gen.SliceOf(words),
	))

	properties.TestingRun(t)
}
