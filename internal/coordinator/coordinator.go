// Package coordinator implements the reload control loop for the supervised
// proxy: it watches for credential-file and branch-identity changes,
// regenerates routing configuration, restarts the proxy, and retires remote
// branches whose git branches have been deleted.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hoststack/branchproxy/internal/config"
	"github.com/hoststack/branchproxy/internal/haproxy"
	"github.com/hoststack/branchproxy/internal/remote"
	"github.com/hoststack/branchproxy/internal/state"
	"github.com/hoststack/branchproxy/internal/vcs"
)

// Phase is the coordinator lifecycle state.
type Phase string

// Lifecycle phases, in order of normal progression.
const (
	PhaseInitializing  Phase = "initializing"
	PhaseRunning       Phase = "running"
	PhaseReloadPending Phase = "reload-pending"
	PhaseReloading     Phase = "reloading"
	PhaseShuttingDown  Phase = "shutting-down"
	PhaseStopped       Phase = "stopped"
)

// Coordinator runs the watch/reload/cleanup control loop.
type Coordinator interface {
	// Start initializes the proxy and runs the control loop. It blocks
	// until the context is cancelled or initialization fails.
	Start(ctx context.Context) error

	// Stop cancels the control loop and waits for shutdown, including the
	// final branch cleanup, to complete.
	Stop() error
}

// reloadCoordinator is the default Coordinator implementation. Two
// goroutines run while it is active: the watcher (polls the trigger file
// hash and the branch identity) and the reload loop (waits on the reload
// signal). All remote and process operations execute synchronously inside
// whichever loop invoked them.
type reloadCoordinator struct {
	cfg        *config.Config
	store      state.Store
	identity   vcs.Identity
	client     remote.Client
	supervisor haproxy.Supervisor

	// reloadCh is a single-slot reload signal: multiple rapid changes
	// collapse into one pending reload.
	reloadCh chan struct{}

	cancelFunc context.CancelFunc
	done       chan struct{}

	mu         sync.Mutex
	phase      Phase
	prevBranch string
	prevKnown  bool
	lastHash   string
}

// New creates a coordinator with injected dependencies.
func New(
	cfg *config.Config,
	store state.Store,
	identity vcs.Identity,
	client remote.Client,
	supervisor haproxy.Supervisor,
) Coordinator {
	return &reloadCoordinator{
		cfg:        cfg,
		store:      store,
		identity:   identity,
		client:     client,
		supervisor: supervisor,
		reloadCh:   make(chan struct{}, 1),
		done:       make(chan struct{}),
		phase:      PhaseInitializing,
	}
}

// Start initializes the proxy and runs the watcher and reload loops until
// the context is cancelled. A descriptor-resolution failure during
// initialization is fatal; the same failure during a reload only aborts
// that reload cycle.
func (c *reloadCoordinator) Start(ctx context.Context) error {
	c.setPhase(PhaseInitializing)

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		c.setPhase(PhaseStopped)
		slog.Info("Coordinator stopped")
	}()

	if branch, err := c.identity.CurrentBranch(); err == nil {
		c.setPrevBranch(branch)
	} else {
		slog.Warn("Current branch is unreadable at startup", "error", err)
	}

	if hash, err := fileHash(c.cfg.WatchFile); err == nil {
		c.lastHash = hash
	} else {
		slog.Warn("Failed to hash watch file at startup", "file", c.cfg.WatchFile, "error", err)
	}

	if err := c.supervisor.Start(coordCtx); err != nil {
		return fmt.Errorf("failed to start proxy: %w", err)
	}
	c.setPhase(PhaseRunning)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.watcherLoop(coordCtx)
	}()
	go func() {
		defer wg.Done()
		c.reloadLoop(coordCtx)
	}()

	<-coordCtx.Done()
	c.setPhase(PhaseShuttingDown)
	slog.Info("Coordinator shutting down")
	wg.Wait()

	if c.cfg.DeleteBranch {
		// Shutdown context is already cancelled; cleanup gets its own.
		c.shutdownCleanup(context.Background())
	}
	c.supervisor.Stop()

	return nil
}

// Stop cancels the control loop and waits for Start to return.
func (c *reloadCoordinator) Stop() error {
	if c.cancelFunc != nil {
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// watcherLoop polls the trigger-file hash and the branch identity at the
// configured interval.
func (c *reloadCoordinator) watcherLoop(ctx context.Context) {
	interval := c.cfg.PollIntervalDuration()
	slog.Info("Watching for changes", "file", c.cfg.WatchFile, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce performs one watch tick: recompute the file hash and the current
// identity, run the deletion check on an identity change, and request a
// reload if anything changed.
func (c *reloadCoordinator) pollOnce(ctx context.Context) {
	changed := false

	hash, err := fileHash(c.cfg.WatchFile)
	if err != nil {
		slog.Warn("Failed to hash watch file", "file", c.cfg.WatchFile, "error", err)
	} else if hash != c.lastHash {
		slog.Info("Watched file changed, triggering reload", "file", c.cfg.WatchFile)
		c.lastHash = hash
		changed = true
	}

	if c.checkIdentity(ctx) {
		changed = true
	}

	if changed {
		c.requestReload()
	}
}

// reloadLoop waits on the reload signal and restarts the proxy. Shutdown is
// observed through the context, so a pending signal is never lost and a
// reload, once begun, runs to completion.
func (c *reloadCoordinator) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.reloadCh:
			c.setPhase(PhaseReloading)
			slog.Info("Reload triggered")
			if err := c.supervisor.Reload(ctx); err != nil {
				// The old proxy is already stopped; routing stays down
				// until a later cycle succeeds. Accepted availability gap.
				slog.Error("Reload failed", "error", err)
			}
			c.setPhase(PhaseRunning)
		}
	}
}

// requestReload sets the single-slot reload signal. A signal that is
// already pending is collapsed, which debounces rapid change bursts into a
// single reload.
func (c *reloadCoordinator) requestReload() {
	select {
	case c.reloadCh <- struct{}{}:
		c.setPhase(PhaseReloadPending)
	default:
	}
}

func (c *reloadCoordinator) setPhase(phase Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phase {
		slog.Debug("Coordinator phase change", "from", string(c.phase), "to", string(phase))
		c.phase = phase
	}
}

// Phase returns the current lifecycle phase.
func (c *reloadCoordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *reloadCoordinator) setPrevBranch(branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevBranch = branch
	c.prevKnown = true
}

// fileHash returns the hex sha256 of the file content, or "" for a missing
// file. A missing file is a valid (empty) observation, not an error.
func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
