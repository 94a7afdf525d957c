package coordinator

import (
	"context"
	"log/slog"
	"sort"
)

// checkIdentity recomputes the current branch and, when it changed, runs the
// deletion check for the branch we were previously on. It reports whether
// the identity changed.
//
// An unreadable identity is treated as unknown: it neither updates the
// tracked branch nor triggers cleanup, since a false "deleted" verdict would
// destroy a remote branch that is still in use.
func (c *reloadCoordinator) checkIdentity(ctx context.Context) bool {
	currentBranch, err := c.identity.CurrentBranch()
	if err != nil {
		slog.Debug("Current branch is unreadable, skipping identity check", "error", err)
		return false
	}

	c.mu.Lock()
	prevBranch, prevKnown := c.prevBranch, c.prevKnown
	c.mu.Unlock()

	if !prevKnown {
		c.setPrevBranch(currentBranch)
		return false
	}
	if currentBranch == prevBranch {
		return false
	}

	if prevBranch == c.cfg.DefaultBranch {
		slog.Info("Switched off the default branch", "from", prevBranch, "to", currentBranch)
	} else if prevBranch != "" {
		exists, err := c.identity.BranchExists(prevBranch)
		switch {
		case err != nil:
			// Existence is indeterminate; deleting on a misread is worse
			// than leaving a stale remote branch behind.
			slog.Warn("Cannot determine whether branch still exists, skipping cleanup",
				"branch", prevBranch, "error", err)
		case exists:
			slog.Info("Switched branches", "from", prevBranch, "to", currentBranch)
		default:
			slog.Info("Branch was deleted, cleaning up its remote branch", "branch", prevBranch)
			c.cleanupBranch(ctx, prevBranch)
		}
	}

	c.setPrevBranch(currentBranch)
	return true
}

// cleanupBranch deletes the remote branch mapped to branchName and drops its
// state entry. The default branch is never deleted, and a name with no state
// entry is a no-op (already cleaned or never created). Failures are logged;
// cleanup is best-effort.
func (c *reloadCoordinator) cleanupBranch(ctx context.Context, branchName string) {
	if branchName == c.cfg.DefaultBranch {
		return
	}

	branchState := c.store.Load()
	if _, ok := branchState[branchName]; !ok {
		slog.Debug("No remote branch recorded", "branch", branchName)
		return
	}

	updated, err := c.client.DeleteBranch(ctx, branchState, branchName)
	if err != nil {
		slog.Error("Failed to delete remote branch", "branch", branchName, "error", err)
		return
	}
	c.store.Save(updated)
}

// shutdownCleanup retires the branch the sidecar was using and sweeps any
// other state entries whose git branch no longer exists. Typical usage is
// one branch per sidecar lifetime, so shutdown always attempts to retire the
// active branch.
func (c *reloadCoordinator) shutdownCleanup(ctx context.Context) {
	slog.Info("Running branch cleanup")

	if currentBranch, err := c.identity.CurrentBranch(); err == nil && currentBranch != "" {
		c.cleanupBranch(ctx, currentBranch)
	} else if err != nil {
		slog.Warn("Current branch is unreadable, skipping active-branch cleanup", "error", err)
	}

	branchState := c.store.Load()
	names := make([]string, 0, len(branchState))
	for name := range branchState {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == c.cfg.DefaultBranch {
			continue
		}
		exists, err := c.identity.BranchExists(name)
		if err != nil {
			slog.Warn("Cannot determine whether branch still exists, skipping cleanup",
				"branch", name, "error", err)
			continue
		}
		if !exists {
			slog.Info("Found deleted branch during shutdown cleanup", "branch", name)
			c.cleanupBranch(ctx, name)
		}
	}
}
