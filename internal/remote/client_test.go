package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoststack/branchproxy/internal/remote"
	"github.com/hoststack/branchproxy/internal/state"
)

// newTestServer creates a test server with keep-alives disabled so parallel
// tests do not interfere through the shared HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func descriptors() []remote.ConnectionDescriptor {
	return []remote.ConnectionDescriptor{
		{Database: "app", User: "u", Password: "p", Host: "h1.example.com", BranchID: "br-1"},
	}
}

func TestGetConnectionInfo(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/proj-1/branches/br-1/connection_info", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"connections": descriptors()})
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "proj-1", "secret")

	descs, err := client.GetConnectionInfo(context.Background(), "proj-1", "br-1")

	require.NoError(t, err)
	assert.Equal(t, descriptors(), descs)
}

func TestGetConnectionInfo_NotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "proj-1", "secret")

	_, err := client.GetConnectionInfo(context.Background(), "proj-1", "br-missing")

	require.Error(t, err)
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestGetConnectionInfo_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"connections": descriptors()})
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "proj-1", "secret")

	descs, err := client.GetConnectionInfo(context.Background(), "proj-1", "br-1")

	require.NoError(t, err)
	assert.Len(t, descs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchOrCreateBranch_ExistingEntry(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/projects/proj-1/branches/br-1/connection_info", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"connections": descriptors()})
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "proj-1", "secret")
	branchState := state.BranchState{"feature-x": {BranchID: "br-1"}}

	descs, updated, err := client.FetchOrCreateBranch(context.Background(), branchState, "feature-x", "")

	require.NoError(t, err)
	assert.Len(t, descs, 1)
	assert.Equal(t, branchState, updated, "existing entries must not mutate state")
}

func TestFetchOrCreateBranch_CreatesBranch(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/projects/proj-1/branches", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "feature-x", req["name"])
		assert.Equal(t, "br-parent", req["parent_id"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"branch":      map[string]string{"id": "br-new"},
			"connections": descriptors(),
		})
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "proj-1", "secret")

	descs, updated, err := client.FetchOrCreateBranch(context.Background(), state.BranchState{}, "feature-x", "br-parent")

	require.NoError(t, err)
	assert.Len(t, descs, 1)
	assert.Equal(t, state.BranchEntry{BranchID: "br-new"}, updated["feature-x"])
}

func TestFetchOrCreateBranch_EmptyName(t *testing.T) {
	t.Parallel()

	client := remote.NewClient("http://unused.invalid", "proj-1", "secret")

	_, _, err := client.FetchOrCreateBranch(context.Background(), state.BranchState{}, "", "")

	assert.Error(t, err)
}

func TestDeleteBranch(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/projects/proj-1/branches/br-1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "proj-1", "secret")
	branchState := state.BranchState{
		"feature-x": {BranchID: "br-1"},
		"main":      {BranchID: "br-main"},
	}

	updated, err := client.DeleteBranch(context.Background(), branchState, "feature-x")

	require.NoError(t, err)
	assert.NotContains(t, updated, "feature-x")
	assert.Contains(t, updated, "main")
}

func TestDeleteBranch_MissingEntryIsNoop(t *testing.T) {
	t.Parallel()

	client := remote.NewClient("http://unused.invalid", "proj-1", "secret")
	branchState := state.BranchState{"main": {BranchID: "br-main"}}

	updated, err := client.DeleteBranch(context.Background(), branchState, "feature-x")

	require.NoError(t, err)
	assert.Equal(t, branchState, updated)
}
