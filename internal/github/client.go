package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the base URL for the public GitHub API
const DefaultBaseURL = "https://api.github.com"

// maxResponseBody caps how much of an error body is kept
const maxResponseBody = 1 << 20

// Config holds configuration for creating a Client
type Config struct {
	// BaseURL is the root URL for API requests. Must use HTTPS.
	BaseURL string

	// Token is a personal access token. An empty token is allowed at
	// construction; calls then fail with ErrMissingToken.
	Token string

	// HTTPClient is used for all requests. Defaults to a client with Timeout.
	HTTPClient *http.Client

	// Timeout applies to the default HTTP client only.
	Timeout time.Duration
}

// Client is a small GitHub REST client for the Actions API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a GitHub API client
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		httpClient: httpClient,
	}, nil
}

// HasToken reports whether a token is configured
func (c *Client) HasToken() bool {
	return c.token != ""
}

// DispatchWorkflowRequest contains the fields for triggering a workflow
type DispatchWorkflowRequest struct {
	// Ref is the git reference to run the workflow on.
	Ref string `json:"ref"`

	// Inputs must match the workflow's workflow_dispatch input definitions.
	Inputs map[string]string `json:"inputs,omitempty"`
}

// DispatchWorkflow triggers a workflow via the workflow_dispatch event and
// returns the response status. GitHub answers 204 No Content on success; the
// resulting run is not tracked. Non-2xx responses return *APIError.
func (c *Client) DispatchWorkflow(ctx context.Context, owner, repo, workflow string, request DispatchWorkflowRequest) (int, error) {
	if c.token == "" {
		return 0, ErrMissingToken
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches", owner, repo, workflow)

	body, err := EncodeJSON(request)
	if err != nil {
		return 0, fmt.Errorf("github: encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("github: creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("github: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, fmt.Errorf("github: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, parseAPIError(resp.StatusCode, respBody)
	}

	return resp.StatusCode, nil
}

// EncodeJSON marshals v without HTML escaping and without a trailing newline,
// matching what the workflow receives for string inputs.
func EncodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
