package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

const (
	methodDryRun  = "ao_dryRun"
	methodMessage = "ao_message"
)

// ClientConfig describes how to construct a JSON-RPC gateway client.
type ClientConfig struct {
	Name      string
	URL       string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Headers   map[string]string
}

// MessageRequest is the wire form of a message sent to the gateway.
type MessageRequest struct {
	Process string          `json:"process"`
	Tags    []Tag           `json:"tags"`
	Data    *string         `json:"data,omitempty"`
	Signer  string          `json:"signer,omitempty"`
	Key     json.RawMessage `json:"key,omitempty"`
}

// JSONRPCClient implements Transport against a JSON-RPC message gateway.
type JSONRPCClient struct {
	name    string
	rpc     *gethrpc.Client
	limiter *rate.Limiter
	timeout time.Duration
	mu      sync.Mutex
}

// DialJSONRPC connects to the gateway described by cfg.
func DialJSONRPC(ctx context.Context, cfg ClientConfig) (*JSONRPCClient, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("gateway url is required")
	}

	opts := make([]gethrpc.ClientOption, 0, len(cfg.Headers))
	for k, v := range cfg.Headers {
		opts = append(opts, gethrpc.WithHeader(k, v))
	}
	client, err := gethrpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", url, err)
	}
	return NewJSONRPCClient(cfg, client), nil
}

// NewJSONRPCClient wraps an existing rpc client.
func NewJSONRPCClient(cfg ClientConfig, client *gethrpc.Client) *JSONRPCClient {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JSONRPCClient{
		name:    cfg.Name,
		rpc:     client,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

// Name returns the gateway name.
func (c *JSONRPCClient) Name() string {
	return c.name
}

// QueryReadOnly performs an ao_dryRun call.
func (c *JSONRPCClient) QueryReadOnly(ctx context.Context, targetID string, tags []Tag) (*ReadResult, error) {
	var raw json.RawMessage
	req := MessageRequest{Process: targetID, Tags: tags}
	if err := c.call(ctx, &raw, methodDryRun, req); err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var result ReadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode dry run reply: %w", err)
	}
	return &result, nil
}

// QueryWrite performs an ao_message call.
func (c *JSONRPCClient) QueryWrite(ctx context.Context, cred Credential, targetID string, tags []Tag, data *string) (any, error) {
	var raw json.RawMessage
	req := MessageRequest{
		Process: targetID,
		Tags:    tags,
		Data:    data,
		Signer:  cred.Address,
		Key:     cred.Key,
	}
	if err := c.call(ctx, &raw, methodMessage, req); err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return string(raw), nil
	}
	return result, nil
}

func (c *JSONRPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	c.mu.Lock()
	client := c.rpc
	c.mu.Unlock()
	if client == nil {
		return errors.New("gateway client is closed")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway rate limit: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := client.CallContext(callCtx, result, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *JSONRPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
