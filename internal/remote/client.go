// Package remote is the client for the database branching service. It
// resolves git branch names to remote branches and their connection
// descriptors, creating and deleting remote branches as needed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hoststack/branchproxy/internal/state"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

const (
	// defaultTimeout bounds a single HTTP request to the service.
	defaultTimeout = 10 * time.Second

	// maxResponseSize is the maximum allowed response body size (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxRetries is the number of attempts for retryable failures.
	maxRetries = 3

	userAgent       = "branchproxy/1.0"
	editorUserAgent = "branchproxy-vscode/1.0"
)

// Client defines the branching service operations the coordinator consumes.
type Client interface {
	// GetConnectionInfo returns the connection descriptors for an existing
	// remote branch, in the order reported by the service.
	GetConnectionInfo(ctx context.Context, projectID, branchID string) ([]ConnectionDescriptor, error)

	// FetchOrCreateBranch resolves the remote branch for a git branch name,
	// creating one (optionally from a parent branch) if the state has no
	// entry for it. It returns the descriptors and the updated state.
	FetchOrCreateBranch(
		ctx context.Context,
		branchState state.BranchState,
		branchName string,
		parentBranchID string,
	) ([]ConnectionDescriptor, state.BranchState, error)

	// DeleteBranch deletes the remote branch mapped to branchName and
	// returns the state with the entry removed. Deleting a name with no
	// entry is a no-op.
	DeleteBranch(ctx context.Context, branchState state.BranchState, branchName string) (state.BranchState, error)
}

// httpClient implements Client against the branching service REST API.
type httpClient struct {
	baseURL   string
	projectID string
	apiKey    string
	userAgent string
	client    *http.Client
}

// Option configures the client.
type Option func(*httpClient)

// WithEditorClient marks API traffic as originating from the editor
// integration rather than the standalone container.
func WithEditorClient(editor bool) Option {
	return func(c *httpClient) {
		if editor {
			c.userAgent = editorUserAgent
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *httpClient) {
		c.client = client
	}
}

// NewClient creates a Client for the given project.
func NewClient(baseURL, projectID, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL:   baseURL,
		projectID: projectID,
		apiKey:    apiKey,
		userAgent: userAgent,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connectionInfoResponse is the wire shape of branch connection lookups.
type connectionInfoResponse struct {
	Connections []ConnectionDescriptor `json:"connections"`
}

// createBranchRequest is the wire shape of branch creation.
type createBranchRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

type createBranchResponse struct {
	Branch struct {
		ID string `json:"id"`
	} `json:"branch"`
	Connections []ConnectionDescriptor `json:"connections"`
}

func (c *httpClient) GetConnectionInfo(ctx context.Context, projectID, branchID string) ([]ConnectionDescriptor, error) {
	url := fmt.Sprintf("%s/projects/%s/branches/%s/connection_info", c.baseURL, projectID, branchID)

	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var resp connectionInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse connection info: %w", err)
	}
	if len(resp.Connections) == 0 {
		return nil, fmt.Errorf("branch %s has no databases", branchID)
	}

	return resp.Connections, nil
}

func (c *httpClient) FetchOrCreateBranch(
	ctx context.Context,
	branchState state.BranchState,
	branchName string,
	parentBranchID string,
) ([]ConnectionDescriptor, state.BranchState, error) {
	if branchName == "" {
		return nil, branchState, fmt.Errorf("cannot resolve a branch without a name")
	}

	if entry, ok := branchState[branchName]; ok {
		slog.Debug("Reusing existing remote branch", "branch", branchName, "branch_id", entry.BranchID)
		descriptors, err := c.GetConnectionInfo(ctx, c.projectID, entry.BranchID)
		if err != nil {
			return nil, branchState, err
		}
		return descriptors, branchState, nil
	}

	slog.Info("Creating remote branch", "branch", branchName, "parent_branch_id", parentBranchID)
	descriptors, branchID, err := c.createBranch(ctx, branchName, parentBranchID)
	if err != nil {
		return nil, branchState, err
	}

	updated := make(state.BranchState, len(branchState)+1)
	for name, entry := range branchState {
		updated[name] = entry
	}
	updated[branchName] = state.BranchEntry{BranchID: branchID}

	return descriptors, updated, nil
}

func (c *httpClient) DeleteBranch(
	ctx context.Context,
	branchState state.BranchState,
	branchName string,
) (state.BranchState, error) {
	entry, ok := branchState[branchName]
	if !ok {
		return branchState, nil
	}

	url := fmt.Sprintf("%s/projects/%s/branches/%s", c.baseURL, c.projectID, entry.BranchID)
	if _, err := c.do(ctx, http.MethodDelete, url, nil); err != nil {
		return branchState, fmt.Errorf("failed to delete remote branch %s: %w", entry.BranchID, err)
	}

	slog.Info("Deleted remote branch", "branch", branchName, "branch_id", entry.BranchID)

	updated := make(state.BranchState, len(branchState))
	for name, e := range branchState {
		if name != branchName {
			updated[name] = e
		}
	}
	return updated, nil
}

func (c *httpClient) createBranch(
	ctx context.Context,
	branchName, parentBranchID string,
) ([]ConnectionDescriptor, string, error) {
	url := fmt.Sprintf("%s/projects/%s/branches", c.baseURL, c.projectID)

	payload, err := json.Marshal(createBranchRequest{Name: branchName, ParentID: parentBranchID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal create request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, "", err
	}

	var resp createBranchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to parse create response: %w", err)
	}
	if resp.Branch.ID == "" {
		return nil, "", fmt.Errorf("create response is missing the branch id")
	}
	if len(resp.Connections) == 0 {
		return nil, "", fmt.Errorf("created branch %s has no databases", resp.Branch.ID)
	}

	return resp.Connections, resp.Branch.ID, nil
}

// do executes a request with exponential backoff. Server-side (5xx) and
// transport failures are retried; any other non-success status is permanent.
func (c *httpClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	operation := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", url, err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &APIError{StatusCode: resp.StatusCode, URL: url, Message: string(body)}
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, backoff.Permanent(&APIError{StatusCode: resp.StatusCode, URL: url, Message: string(body)})
		}

		return body, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxRetries),
	)
}
