package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hoststack/branchproxy/internal/haproxy"
	"github.com/hoststack/branchproxy/internal/remote"
	"github.com/hoststack/branchproxy/internal/remote/mocks"
	"github.com/hoststack/branchproxy/internal/state"
)

const resolverTemplate = `frontend http_front
    bind *:5432

backend http_backend
    server placeholder 127.0.0.1:443
`

func testResolver(t *testing.T, client remote.Client, identity *fakeIdentity) (*Resolver, state.Store) {
	t.Helper()

	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.TemplatePath = filepath.Join(dir, "haproxy.cfg.tmpl")
	cfg.ConfigOutPath = filepath.Join(dir, "out", "haproxy.cfg")
	require.NoError(t, os.WriteFile(cfg.TemplatePath, []byte(resolverTemplate), 0600))

	store := state.NewFileStore(cfg.StateFile)
	return NewResolver(cfg, store, identity, client), store
}

func TestPrepareConfig_FetchOrCreateFlow(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	descs := []remote.ConnectionDescriptor{
		{Database: "app", User: "u", Password: "p", Host: "h1", BranchID: "br-new"},
	}
	updated := state.BranchState{"feature-x": {BranchID: "br-new"}}

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		FetchOrCreateBranch(gomock.Any(), gomock.Any(), "feature-x", "").
		Return(descs, updated, nil)

	resolver, store := testResolver(t, client, &fakeIdentity{branch: "feature-x"})

	require.NoError(t, resolver.PrepareConfig(context.Background()))

	// Updated state was persisted.
	assert.Equal(t, updated, store.Load())

	// Rendered configuration was written.
	out, err := os.ReadFile(resolver.cfg.ConfigOutPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "backend backend_app")
	assert.Contains(t, string(out), "default_backend backend_app")
}

func TestPrepareConfig_ExplicitBranchID(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	descs := []remote.ConnectionDescriptor{
		{Database: "app", User: "u", Password: "p", Host: "h1", BranchID: "br-pinned"},
	}

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		GetConnectionInfo(gomock.Any(), "proj-1", "br-pinned").
		Return(descs, nil)

	// Identity must not even be consulted in pinned-branch mode.
	resolver, store := testResolver(t, client, &fakeIdentity{branchErr: os.ErrNotExist})
	resolver.cfg.BranchID = "br-pinned"

	require.NoError(t, resolver.PrepareConfig(context.Background()))

	// Pinned-branch mode never mutates state.
	assert.Empty(t, store.Load())
}

func TestResolve_UnreadableIdentityFails(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	resolver, _ := testResolver(t, mocks.NewMockClient(ctrl), &fakeIdentity{branchErr: os.ErrNotExist})

	_, err := resolver.Resolve(context.Background())

	assert.ErrorContains(t, err, "cannot determine current branch")
}

func TestPrepareConfig_MissingTemplate(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	descs := []remote.ConnectionDescriptor{
		{Database: "app", User: "u", Password: "p", Host: "h1", BranchID: "br-1"},
	}
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		FetchOrCreateBranch(gomock.Any(), gomock.Any(), "main", "").
		Return(descs, state.BranchState{"main": {BranchID: "br-1"}}, nil)

	resolver, _ := testResolver(t, client, &fakeIdentity{branch: "main"})
	resolver.cfg.TemplatePath = filepath.Join(t.TempDir(), "missing.tmpl")

	err := resolver.PrepareConfig(context.Background())

	assert.ErrorContains(t, err, "template")
}

func TestPrepareConfig_TemplateWithoutAnchor(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	descs := []remote.ConnectionDescriptor{
		{Database: "app", User: "u", Password: "p", Host: "h1", BranchID: "br-1"},
	}
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		FetchOrCreateBranch(gomock.Any(), gomock.Any(), "main", "").
		Return(descs, state.BranchState{"main": {BranchID: "br-1"}}, nil)

	resolver, _ := testResolver(t, client, &fakeIdentity{branch: "main"})
	require.NoError(t, os.WriteFile(resolver.cfg.TemplatePath, []byte("frontend only\n"), 0600))

	err := resolver.PrepareConfig(context.Background())

	assert.ErrorIs(t, err, haproxy.ErrAnchorNotFound)
}
