package simulate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ProcessMCP/internal/detect"
	"ProcessMCP/internal/protocol"
)

var (
	transfer = protocol.HandlerMetadata{
		Action:  "Transfer",
		IsWrite: true,
		Parameters: []protocol.ParameterSpec{
			{Name: "Target", Type: protocol.TypeAddress, Required: true},
			{Name: "Quantity", Type: protocol.TypeString, Required: true},
		},
	}
	divide = protocol.HandlerMetadata{
		Action: "Divide",
		Parameters: []protocol.ParameterSpec{
			{Name: "A", Type: protocol.TypeNumber, Required: true},
			{Name: "B", Type: protocol.TypeNumber, Required: true},
		},
	}
)

func TestSimulateTransfer(t *testing.T) {
	s := New(nil, nil)
	res := s.Simulate(Request{
		TargetID:   "proc-1",
		Text:       "transfer 100 tokens to alice-456",
		Parameters: map[string]any{"Target": "alice-456", "Quantity": "100"},
		Detection:  detect.Result{OperationType: detect.OperationWrite, RiskLevel: protocol.RiskMedium},
	}, &transfer)

	require.True(t, res.Valid)
	require.Equal(t, 1000+250*2+2000, res.Resources.EstimatedCost)
	require.Contains(t, res.Resources.Permissions, "write")
	require.Equal(t, "Transfers 100 tokens to alice-456.", res.EstimatedOutcome)
	require.Equal(t, protocol.RiskMedium, res.Risk.Level)
	// short-address warning does not block
	require.NotEmpty(t, res.Warnings)
}

func TestSimulateValidationErrorIsInvalid(t *testing.T) {
	res := New(nil, nil).Simulate(Request{
		Parameters: map[string]any{"A": 10, "B": 0},
		Detection:  detect.Result{OperationType: detect.OperationRead, RiskLevel: protocol.RiskLow},
	}, &divide)

	require.False(t, res.Valid)
	require.NotEmpty(t, res.PotentialErrors)
	require.Equal(t, 1000+250*2, res.Resources.EstimatedCost)
	require.Equal(t, "Computes Divide on the target process.", res.EstimatedOutcome)
}

func TestSimulateMalformedHandler(t *testing.T) {
	bad := protocol.HandlerMetadata{Action: "Broken", Parameters: []protocol.ParameterSpec{{Name: ""}}}
	res := New(nil, nil).Simulate(Request{}, &bad)

	require.False(t, res.Valid)
	require.Equal(t, protocol.RiskHigh, res.Risk.Level)
	require.True(t, res.Risk.ConfirmationRequired)
}

func TestSimulateWithoutHandler(t *testing.T) {
	res := New(nil, nil).Simulate(Request{
		Detection: detect.Result{OperationType: detect.OperationRead, RiskLevel: protocol.RiskLow},
	}, nil)
	require.True(t, res.Valid)
	require.Equal(t, BaseCost, res.Resources.EstimatedCost)
	require.Equal(t, protocol.RiskLow, res.Risk.Level)
}

func TestEstimateCostIsMonotonic(t *testing.T) {
	for n := 0; n < 10; n++ {
		require.Less(t, EstimateCost(n, false), EstimateCost(n+1, false))
		require.Less(t, EstimateCost(n, false), EstimateCost(n, true))
	}
}

func TestOutcomeByCategory(t *testing.T) {
	burn := protocol.HandlerMetadata{Action: "Burn", IsWrite: true,
		Parameters: []protocol.ParameterSpec{{Name: "Quantity", Type: protocol.TypeString}}}
	require.Equal(t, "Permanently destroys 50 tokens.", Outcome(&burn, map[string]any{"Quantity": "50"}, true))

	balance := protocol.HandlerMetadata{Action: "Balance",
		Parameters: []protocol.ParameterSpec{{Name: "Target", Type: protocol.TypeAddress}}}
	require.Equal(t, "Returns the caller's balance.", Outcome(&balance, nil, false))
	require.Equal(t, "Returns process information.", Outcome(&protocol.HandlerMetadata{Action: "Info"}, nil, false))
}
