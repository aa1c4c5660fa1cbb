package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fieldsync/backend"
)

const (
	// DefaultTimeout bounds each HTTP round trip
	DefaultTimeout = 30 * time.Second
)

// Options configures a Client
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RequestsPerSecond limits outgoing calls; zero disables limiting
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client talks to the task server's REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ backend.TaskRemote = (*Client)(nil)

// NewClient creates a client for the server at opts.BaseURL
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("remote: invalid base URL: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: httpClient,
		limiter:    limiter,
	}, nil
}

// FetchTasks gets one page of the rider's task listing
func (c *Client) FetchTasks(ctx context.Context, riderID string, page, size int) (*backend.TaskPage, error) {
	q := url.Values{}
	q.Set("riderId", riderID)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var result backend.TaskPage
	if err := c.do(ctx, "FetchTasks", http.MethodGet, "/api/tasks?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitActions posts a batch of actions and returns the server's per-action verdict
func (c *Client) SubmitActions(ctx context.Context, actions []backend.ActionRecord) (*backend.BatchResponse, error) {
	req := backend.BatchRequest{Actions: actions}

	var result backend.BatchResponse
	if err := c.do(ctx, "SubmitActions", http.MethodPost, "/api/sync/actions", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateTask creates a task on the server and returns it with its server id
func (c *Client) CreateTask(ctx context.Context, task backend.Task) (*backend.Task, error) {
	body := task
	if body.IsLocal() {
		body.ID = ""
	}

	var created backend.Task
	if err := c.do(ctx, "CreateTask", http.MethodPost, "/api/tasks", body, &created); err != nil {
		if be, ok := err.(*backend.BackendError); ok {
			be.WithTaskID(task.ID)
		}
		return nil, err
	}
	if created.ID == "" {
		return nil, backend.NewBackendError("CreateTask", 0, "server returned task without id").WithTaskID(task.ID)
	}
	return &created, nil
}

// SubmitAction posts a single action for immediate processing
func (c *Client) SubmitAction(ctx context.Context, action backend.ActionRecord) (*backend.ActionRecord, error) {
	endpoint := "/api/tasks/" + url.PathEscape(action.TaskID) + "/actions"

	var result backend.ActionRecord
	if err := c.do(ctx, "SubmitAction", http.MethodPost, endpoint, action, &result); err != nil {
		if be, ok := err.(*backend.BackendError); ok {
			be.WithTaskID(action.TaskID)
		}
		return nil, err
	}
	return &result, nil
}

// do performs an authenticated JSON request and decodes the response into out
func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return backend.NewBackendError(op, 0, "rate limiter").WithError(err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return backend.NewBackendError(op, 0, "failed to marshal request body").WithError(err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return backend.NewBackendError(op, 0, "failed to create request").WithError(err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backend.NewBackendError(op, 0, "request failed").WithError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.NewBackendError(op, resp.StatusCode, "failed to read response").WithError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backend.NewBackendError(op, resp.StatusCode, http.StatusText(resp.StatusCode)).WithBody(string(data))
	}

	// A literal null decodes into nothing without error
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return backend.NewBackendError(op, resp.StatusCode, "empty response").WithError(backend.ErrEmptyResponse)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return backend.NewBackendError(op, resp.StatusCode, "failed to decode response").WithBody(string(data)).WithError(err)
	}
	return nil
}
