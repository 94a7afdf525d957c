package haproxy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// stopTimeout is how long a stop waits for graceful termination before
// escalating to SIGKILL.
const stopTimeout = 5 * time.Second

// ConfigPreparer produces the proxy configuration file before the process is
// launched. The supervisor calls it on every Start, so a Reload always runs
// against freshly resolved routing.
type ConfigPreparer interface {
	PrepareConfig(ctx context.Context) error
}

// Supervisor owns the proxy process lifecycle.
//
// Reload is stop-then-start: there is an observable window with no running
// proxy, and a preparation failure during Reload leaves the proxy stopped.
// This availability gap is accepted; do not reorder without redesigning for
// zero-downtime reload.
type Supervisor interface {
	// Start prepares the configuration and launches the proxy. Exactly one
	// process is live at a time.
	Start(ctx context.Context) error

	// Stop terminates the running proxy, escalating from SIGTERM to SIGKILL
	// after a bounded wait. It is a no-op when nothing is running and never
	// fails.
	Stop()

	// Reload restarts the proxy against freshly prepared configuration.
	Reload(ctx context.Context) error
}

// processSupervisor implements Supervisor over os/exec.
type processSupervisor struct {
	binary      string
	configPath  string
	logPath     string
	preparer    ConfigPreparer
	stopTimeout time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	logFile *os.File
}

// NewSupervisor creates a Supervisor launching binary against configPath,
// with the process's combined output appended to logPath.
func NewSupervisor(binary, configPath, logPath string, preparer ConfigPreparer) Supervisor {
	return &processSupervisor{
		binary:      binary,
		configPath:  configPath,
		logPath:     logPath,
		preparer:    preparer,
		stopTimeout: stopTimeout,
	}
}

func (s *processSupervisor) Start(ctx context.Context) error {
	if err := s.preparer.PrepareConfig(ctx); err != nil {
		return fmt.Errorf("failed to prepare proxy configuration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("proxy is already running (pid %d)", s.cmd.Process.Pid)
	}

	logFile, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open proxy log file: %w", err)
	}

	cmd := exec.Command(s.binary, "-f", s.configPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to start proxy: %w", err)
	}

	s.cmd = cmd
	s.logFile = logFile
	slog.Info("Proxy is ready", "pid", cmd.Process.Pid, "config", s.configPath)
	return nil
}

func (s *processSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return
	}

	slog.Info("Stopping proxy", "pid", s.cmd.Process.Pid)
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("Failed to signal proxy, killing", "error", err)
		_ = s.cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func(cmd *exec.Cmd) {
		done <- cmd.Wait()
	}(s.cmd)

	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		slog.Warn("Proxy ignored graceful termination, killing", "pid", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
		<-done
	}

	if s.logFile != nil {
		_ = s.logFile.Close()
		s.logFile = nil
	}
	s.cmd = nil
}

func (s *processSupervisor) Reload(ctx context.Context) error {
	slog.Info("Reloading proxy")
	s.Stop()
	return s.Start(ctx)
}
