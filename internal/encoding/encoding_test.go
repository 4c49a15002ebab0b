package encoding

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/transport"
)

var transfer = protocol.HandlerMetadata{
	Action:  "Transfer",
	IsWrite: true,
	Parameters: []protocol.ParameterSpec{
		{Name: "Target", Type: protocol.TypeAddress, Required: true},
		{Name: "Quantity", Type: protocol.TypeString, Required: true},
	},
}

func TestHeuristic(t *testing.T) {
	add := protocol.HandlerMetadata{Action: "Add", Parameters: []protocol.ParameterSpec{
		{Name: "A", Type: protocol.TypeNumber}, {Name: "B", Type: protocol.TypeNumber},
	}}
	require.Equal(t, StrategyTags, Heuristic(add))

	many := protocol.HandlerMetadata{Action: "Register", Parameters: []protocol.ParameterSpec{
		{Name: "A", Type: protocol.TypeString}, {Name: "B", Type: protocol.TypeString},
		{Name: "C", Type: protocol.TypeString}, {Name: "D", Type: protocol.TypeString},
	}}
	require.Equal(t, StrategyData, Heuristic(many))

	nested := protocol.HandlerMetadata{Action: "Configure", Parameters: []protocol.ParameterSpec{
		{Name: "Settings", Type: protocol.TypeObject},
	}}
	require.Equal(t, StrategyData, Heuristic(nested))

	withMemo := transfer
	withMemo.Parameters = append(append([]protocol.ParameterSpec{}, transfer.Parameters...), protocol.ParameterSpec{Name: "Memo", Type: protocol.TypeString})
	require.Equal(t, StrategyData, Heuristic(withMemo))

	require.Equal(t, StrategyHybrid, Heuristic(transfer))
	require.Equal(t, StrategyHybrid, Heuristic(protocol.HandlerMetadata{Action: "Info"}))
}

func TestSelectPinsAndLearning(t *testing.T) {
	s := NewSelector()
	require.Equal(t, StrategyData, s.Select("my-Token-proc", transfer))
	require.Equal(t, StrategyTags, s.Select("calculator-1", transfer))
	require.Equal(t, StrategyHybrid, s.Select("proc-xyz", transfer))

	stats := s.Stats()
	require.Equal(t, 2, stats.Size)
	require.Equal(t, StrategyData, stats.Targets["my-Token-proc"])

	s.Learn("proc-xyz", StrategyTags)
	require.Equal(t, StrategyTags, s.Select("proc-xyz", transfer))
	s.Learn("proc-xyz", "bogus")
	require.Equal(t, StrategyTags, s.Select("proc-xyz", transfer))

	s.Clear()
	require.Zero(t, s.Stats().Size)
	require.Equal(t, StrategyHybrid, s.Select("proc-xyz", transfer))

	custom := NewSelector(WithPins())
	require.Equal(t, StrategyHybrid, custom.Select("token", transfer))
}

func TestSelectConcurrent(t *testing.T) {
	s := NewSelector()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Select("token-a", transfer)
			s.Learn("other", StrategyData)
			s.Stats()
		}()
	}
	wg.Wait()
	require.Equal(t, 2, s.Stats().Size)
}

func TestBuildTransferTags(t *testing.T) {
	params := map[string]any{"Quantity": "100", "Target": "alice-456"}
	for _, strategy := range []Strategy{StrategyTags, StrategyHybrid} {
		msg, err := Build(strategy, transfer, params)
		require.NoError(t, err)
		require.Equal(t, []transport.Tag{
			{Name: "Action", Value: "Transfer"},
			{Name: "Target", Value: "alice-456"},
			{Name: "Quantity", Value: "100"},
		}, msg.Tags)
		require.Nil(t, msg.Data)
	}
}

func TestBuildDataIsCanonical(t *testing.T) {
	msg, err := Build(StrategyData, transfer, map[string]any{"Target": "bob", "Quantity": "5"})
	require.NoError(t, err)
	require.Equal(t, []transport.Tag{{Name: "Action", Value: "Transfer"}}, msg.Tags)
	require.NotNil(t, msg.Data)
	require.Equal(t, `{"Quantity":"5","Target":"bob"}`, *msg.Data)
}

func TestBuildSkipsUndeclaredAndEnvelopeKeys(t *testing.T) {
	params := map[string]any{"Target": "bob", "Quantity": "5", "Action": "Burn", "Memo": "hi"}
	for _, strategy := range []Strategy{StrategyTags, StrategyHybrid} {
		msg, err := Build(strategy, transfer, params)
		require.NoError(t, err)
		require.Equal(t, []transport.Tag{
			{Name: "Action", Value: "Transfer"},
			{Name: "Target", Value: "bob"},
			{Name: "Quantity", Value: "5"},
		}, msg.Tags)
		require.Nil(t, msg.Data)
	}

	shadowing := protocol.HandlerMetadata{Action: "Store", Parameters: []protocol.ParameterSpec{
		{Name: "Key", Type: protocol.TypeString},
		{Name: "Action", Type: protocol.TypeString},
	}}
	msg, err := Build(StrategyData, shadowing, map[string]any{"Key": "k", "Action": "Burn"})
	require.NoError(t, err)
	require.Equal(t, []transport.Tag{{Name: "Action", Value: "Store"}}, msg.Tags)
	require.Equal(t, `{"Key":"k"}`, *msg.Data)
}

func TestBuildHybridSplitsLongValues(t *testing.T) {
	handler := protocol.HandlerMetadata{Action: "Post", Parameters: []protocol.ParameterSpec{
		{Name: "Title", Type: protocol.TypeString},
		{Name: "Body", Type: protocol.TypeString},
		{Name: "Tags", Type: protocol.TypeArray},
	}}
	body := strings.Repeat("x", MaxTagValueLength+1)
	msg, err := Build(StrategyHybrid, handler, map[string]any{"Title": "hi", "Body": body, "Tags": []any{"a"}})
	require.NoError(t, err)
	require.Equal(t, []transport.Tag{{Name: "Action", Value: "Post"}, {Name: "Title", Value: "hi"}}, msg.Tags)
	require.Equal(t, `{"Body":"`+body+`","Tags":["a"]}`, *msg.Data)
}

func TestBuildRejectsUnknownStrategy(t *testing.T) {
	_, err := Build("carrier-pigeon", transfer, nil)
	require.Error(t, err)
}
