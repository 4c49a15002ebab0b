package processmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with the ProcessMCP REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// NewClient instantiates a client for the ProcessMCP API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Compile compiles and dispatches a request. Pipeline failures are reported in
// the result's Error field; the returned error covers transport and API errors.
func (c *Client) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	return c.compile(ctx, "/api/v1/compile", req)
}

// Simulate compiles a request without dispatching it.
func (c *Client) Simulate(ctx context.Context, req CompileRequest) (CompileResult, error) {
	return c.compile(ctx, "/api/v1/simulate", req)
}

func (c *Client) compile(ctx context.Context, endpoint string, req CompileRequest) (CompileResult, error) {
	var res CompileResult
	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, endpoint, req)
	if err != nil {
		return res, err
	}
	status, data, err := c.send(httpReq)
	if err != nil {
		return res, err
	}
	if jsonErr := json.Unmarshal(data, &res); jsonErr == nil && res.Status != "" {
		return res, nil
	}
	if status >= http.StatusBadRequest {
		return res, decodeAPIError(status, data)
	}
	return res, fmt.Errorf("decode response: unexpected body %q", truncate(data))
}

// SubmitBatch queues a batch of ordered requests.
func (c *Client) SubmitBatch(ctx context.Context, req BatchRequest) (Batch, error) {
	var batch Batch
	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, "/api/v1/batches", req)
	if err != nil {
		return batch, err
	}
	return batch, c.do(httpReq, &batch)
}

// GetBatch fetches a batch with all of its steps.
func (c *Client) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	var batch Batch
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/batches/"+url.PathEscape(batchID), nil)
	if err != nil {
		return batch, err
	}
	return batch, c.do(req, &batch)
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return task, err
	}
	return task, c.do(req, &task)
}

// ClearDiscoveryCache drops every cached protocol document on the server.
func (c *Client) ClearDiscoveryCache(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/discovery/cache", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// WaitForBatch polls until every step of the batch has finished.
func (c *Client) WaitForBatch(ctx context.Context, batchID string, interval time.Duration) (Batch, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		batch, err := c.GetBatch(ctx, batchID)
		if err != nil {
			return batch, err
		}
		if batch.Stats.Done() {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) newJSONRequest(ctx context.Context, method, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) do(req *http.Request, out any) error {
	status, data, err := c.send(req)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return decodeAPIError(status, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &struct {
			Error *APIError `json:"error"`
		}{Error: apiErr})
	}
	apiErr.StatusCode = status
	if apiErr.Message == "" {
		apiErr.Message = truncate(bytes.TrimSpace(data))
	}
	return apiErr
}

func truncate(data []byte) string {
	const limit = 512
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
