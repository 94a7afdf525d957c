package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hoststack/branchproxy/internal/config"
	"github.com/hoststack/branchproxy/internal/haproxy"
	"github.com/hoststack/branchproxy/internal/remote"
	"github.com/hoststack/branchproxy/internal/state"
	"github.com/hoststack/branchproxy/internal/vcs"
)

// Resolver turns the current branch identity into a rendered proxy
// configuration file. It implements haproxy.ConfigPreparer, so the
// supervisor re-resolves routing on every start and reload.
type Resolver struct {
	cfg      *config.Config
	store    state.Store
	identity vcs.Identity
	client   remote.Client
}

// NewResolver creates a Resolver with injected dependencies.
func NewResolver(cfg *config.Config, store state.Store, identity vcs.Identity, client remote.Client) *Resolver {
	return &Resolver{
		cfg:      cfg,
		store:    store,
		identity: identity,
		client:   client,
	}
}

// PrepareConfig resolves connection descriptors for the current identity,
// renders the routing configuration, and writes it to the configured path.
func (r *Resolver) PrepareConfig(ctx context.Context) error {
	descriptors, err := r.Resolve(ctx)
	if err != nil {
		return err
	}

	template, err := os.ReadFile(r.cfg.TemplatePath)
	if err != nil {
		return fmt.Errorf("failed to read proxy config template at %s: %w", r.cfg.TemplatePath, err)
	}

	rendered, err := haproxy.Render(string(template), descriptors, haproxy.RenderOptions{
		EditorClient: r.cfg.IsEditorClient(),
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.cfg.ConfigOutPath), 0750); err != nil {
		return fmt.Errorf("failed to create proxy config directory: %w", err)
	}
	if err := os.WriteFile(r.cfg.ConfigOutPath, []byte(rendered), 0600); err != nil {
		return fmt.Errorf("failed to write proxy config: %w", err)
	}

	for i, desc := range descriptors {
		slog.Debug("Routing database",
			"index", i,
			"database", desc.Database,
			"host", desc.Host)
	}

	return nil
}

// Resolve produces the ordered connection descriptors for the current
// identity. With an explicit branch id configured it is a plain lookup;
// otherwise the remote branch for the current git branch is fetched or
// created and the updated mapping persisted.
func (r *Resolver) Resolve(ctx context.Context) ([]remote.ConnectionDescriptor, error) {
	if r.cfg.BranchID != "" {
		return r.client.GetConnectionInfo(ctx, r.cfg.ProjectID, r.cfg.BranchID)
	}

	currentBranch, err := r.identity.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("cannot determine current branch: %w", err)
	}

	branchState := r.store.Load()
	descriptors, updated, err := r.client.FetchOrCreateBranch(ctx, branchState, currentBranch, r.cfg.ParentBranchID)
	if err != nil {
		return nil, err
	}
	r.store.Save(updated)

	return descriptors, nil
}
