package transport

import (
	"context"
	"encoding/json"
)

// Tag is one key/value metadata field on an outgoing message.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ReadResult is the reply of a read-only (dry run) query.
type ReadResult struct {
	Data string `json:"data"`
	Tags []Tag  `json:"tags,omitempty"`
}

// Credential identifies the signer of a write. Key management stays with the
// caller; the key material is forwarded opaquely to the gateway.
type Credential struct {
	Address string          `json:"address"`
	Key     json.RawMessage `json:"key,omitempty"`
}

// Transport sends messages to a target process.
type Transport interface {
	// QueryReadOnly performs a side-effect free query. A nil result with a
	// nil error means the target produced no reply.
	QueryReadOnly(ctx context.Context, targetID string, tags []Tag) (*ReadResult, error)
	// QueryWrite sends a state changing message and returns the parsed reply.
	QueryWrite(ctx context.Context, cred Credential, targetID string, tags []Tag, data *string) (any, error)
}

// TagValue returns the value of the first tag called name.
func TagValue(tags []Tag, name string) (string, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}
