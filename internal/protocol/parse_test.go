package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(tokenDocument))
	require.NoError(t, err)
	require.Equal(t, "1.0", doc.ProtocolVersion)
	require.Len(t, doc.Handlers, 3)
	require.True(t, doc.Supports("transfer"))

	transfer, ok := doc.Handler("transfer")
	require.True(t, ok)
	require.True(t, transfer.IsWrite)
	require.Equal(t, CategoryTransfer, transfer.Category)
	require.Len(t, transfer.RequiredParameters(), 2)

	balance, ok := doc.Handler("Balance")
	require.True(t, ok)
	require.Equal(t, CategoryBalance, balance.Category)
}

func TestParseDocumentRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":      "invalid json",
		"empty":             "   ",
		"wrong version":     `{"protocolVersion":"2.0","handlers":[{"action":"Info"}]}`,
		"garbage version":   `{"protocolVersion":"latest","handlers":[{"action":"Info"}]}`,
		"handlers only":     `{"handlers":[{"action":"Info"}]}`,
		"version only":      `{"protocolVersion":"1.0"}`,
		"empty handlers":    `{"protocolVersion":"1.0","handlers":[]}`,
		"handler no action": `{"protocolVersion":"1.0","handlers":[{"description":"x"}]}`,
		"bad param type":    `{"protocolVersion":"1.0","handlers":[{"action":"A","parameters":[{"name":"x","type":"decimal"}]}]}`,
		"param no name":     `{"protocolVersion":"1.0","handlers":[{"action":"A","parameters":[{"type":"number"}]}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			doc, err := ParseDocument([]byte(raw))
			require.Error(t, err)
			require.Nil(t, doc)
		})
	}
}

func TestNewParserConstraint(t *testing.T) {
	p, err := NewParser(">=2.0.0")
	require.NoError(t, err)
	_, err = p.Parse([]byte(`{"protocolVersion":"2.1.0","handlers":[{"action":"Info"}]}`))
	require.NoError(t, err)

	_, err = NewParser("not a constraint ~~")
	require.Error(t, err)
}

func TestInferCategory(t *testing.T) {
	cases := []struct {
		action, description string
		want                Category
	}{
		{"Transfer", "", CategoryTransfer},
		{"GetBalance", "", CategoryBalance},
		{"Burn", "", CategoryBurn},
		{"Mint", "", CategoryMint},
		{"DeleteRecord", "", CategoryDelete},
		{"Info", "", CategoryInfo},
		{"Add", "", CategoryMath},
		{"SetOwner", "", CategoryAdmin},
		{"Execute", "Send tokens to another account", CategoryTransfer},
		{"Ping", "", CategoryGeneric},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, InferCategory(tc.action, tc.description), tc.action)
	}
}

func TestWords(t *testing.T) {
	require.Equal(t, []string{"get", "balance"}, Words("GetBalance"))
	require.Equal(t, []string{"set", "url", "handler"}, Words("SetURLHandler"))
	require.Equal(t, []string{"transfer", "100", "to", "alice", "456"}, Words("transfer 100 to alice-456"))
}
