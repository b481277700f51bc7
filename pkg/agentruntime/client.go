package agentruntime

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

	"github.com/arbiterhq/arbiter/pkg/httpclient"
)

// UserTokenHeader carries the caller's on-behalf-of credential on run
// creation. The value is forwarded verbatim and never logged.
const UserTokenHeader = "X-User-Token"

// Client is the capability set the runtime needs from the agent service.
type Client interface {
	CreateAgent(ctx context.Context, spec AgentSpec) (Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	DeleteAgent(ctx context.Context, agentID string) error
	CreateThread(ctx context.Context) (Thread, error)
	PostMessage(ctx context.Context, threadID, role, content string) (Message, error)
	CreateRun(ctx context.Context, threadID string, opts RunOptions) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) (Run, error)
	ListMessages(ctx context.Context, threadID string, opts ListMessagesOptions) ([]Message, error)
}

// RunOptions shape one run creation request.
type RunOptions struct {
	AgentID    string
	ToolChoice *ToolChoice
	// UserToken is an optional on-behalf-of credential. It is sent as a
	// header on this one request and is not retained.
	UserToken string
}

// ListMessagesOptions filter a message listing.
type ListMessagesOptions struct {
	Order string
	Limit int
}

// TokenSource yields the service credential for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token for every request.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// Config configures the HTTP client for the agent service.
type Config struct {
	BaseURL     string
	APIVersion  string
	TokenSource TokenSource
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration

	// TLS overrides certificate handling for endpoints behind a private
	// CA. Nil uses the system roots.
	TLS *httpclient.TLSConfig
}

// HTTPClient talks to an Assistants-style REST surface. All requests go
// through the shared retrying client so rate-limit headers are honored.
type HTTPClient struct {
	baseURL    string
	apiVersion string
	tokens     TokenSource
	httpClient *httpclient.Client
}

// NewHTTPClient builds a client for the agent service.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("agent service base URL is required")
	}
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("agent service token source is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithBaseDelay(retryDelay),
		httpclient.WithHeaderParser(httpclient.ParseRateLimitHeaders),
	}
	if cfg.TLS != nil {
		opts = append(opts, httpclient.WithTLSConfig(cfg.TLS))
	}
	client := httpclient.New(opts...)

	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		tokens:     cfg.TokenSource,
		httpClient: client,
	}, nil
}

func (c *HTTPClient) CreateAgent(ctx context.Context, spec AgentSpec) (Agent, error) {
	var agent Agent
	err := c.doJSON(ctx, http.MethodPost, "/assistants", nil, spec, &agent, nil)
	return agent, err
}

func (c *HTTPClient) ListAgents(ctx context.Context) ([]Agent, error) {
	var page listPage[Agent]
	if err := c.doJSON(ctx, http.MethodGet, "/assistants", url.Values{"limit": {"100"}}, nil, &page, nil); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (c *HTTPClient) DeleteAgent(ctx context.Context, agentID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/assistants/"+agentID, nil, nil, nil, nil)
}

func (c *HTTPClient) CreateThread(ctx context.Context) (Thread, error) {
	var thread Thread
	err := c.doJSON(ctx, http.MethodPost, "/threads", nil, struct{}{}, &thread, nil)
	return thread, err
}

func (c *HTTPClient) PostMessage(ctx context.Context, threadID, role, content string) (Message, error) {
	body := map[string]string{"role": role, "content": content}
	var msg Message
	err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/messages", nil, body, &msg, nil)
	return msg, err
}

func (c *HTTPClient) CreateRun(ctx context.Context, threadID string, opts RunOptions) (Run, error) {
	if opts.AgentID == "" {
		return Run{}, fmt.Errorf("agent id is required to create a run")
	}

	body := map[string]any{"assistant_id": opts.AgentID}
	if opts.ToolChoice != nil {
		body["tool_choice"] = opts.ToolChoice
	}

	var headers map[string]string
	if opts.UserToken != "" {
		headers = map[string]string{UserTokenHeader: opts.UserToken}
	}

	var run Run
	err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs", nil, body, &run, headers)
	return run, err
}

func (c *HTTPClient) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	var run Run
	err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, nil, &run, nil)
	return run, err
}

func (c *HTTPClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	body := map[string]any{"tool_outputs": outputs}
	var run Run
	err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/submit_tool_outputs", nil, body, &run, nil)
	return run, err
}

func (c *HTTPClient) CancelRun(ctx context.Context, threadID, runID string) (Run, error) {
	var run Run
	err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/cancel", nil, struct{}{}, &run, nil)
	return run, err
}

func (c *HTTPClient) ListMessages(ctx context.Context, threadID string, opts ListMessagesOptions) ([]Message, error) {
	query := url.Values{}
	if opts.Order != "" {
		query.Set("order", opts.Order)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var page listPage[Message]
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/messages", query, nil, &page, nil); err != nil {
		return nil, err
	}
	return page.Data, nil
}

type listPage[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out any, headers map[string]string) error {
	endpoint := c.baseURL + path
	if query == nil {
		query = url.Values{}
	}
	if c.apiVersion != "" {
		query.Set("api-version", c.apiVersion)
	}
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var requestBody []byte
	if body != nil {
		var err error
		requestBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire service token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	// The retrying client may return both a response and an error for
	// non-2xx status codes; prefer the response body's error details.
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return parseAPIError(resp)
		}
	}
	if err != nil {
		return fmt.Errorf("agent service request failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("agent service request failed: no response received")
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode agent service response: %w", err)
		}
	}
	return nil
}

func parseAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		apiErr.Message = fmt.Sprintf("(failed to read error body: %v)", readErr)
		return apiErr
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}
