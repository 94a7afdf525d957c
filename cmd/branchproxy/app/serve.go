package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hoststack/branchproxy/internal/config"
	"github.com/hoststack/branchproxy/internal/coordinator"
	"github.com/hoststack/branchproxy/internal/haproxy"
	"github.com/hoststack/branchproxy/internal/remote"
	"github.com/hoststack/branchproxy/internal/state"
	"github.com/hoststack/branchproxy/internal/vcs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy sidecar",
	Long: `Run the proxy sidecar: resolve the database branch for the current git
branch, render the proxy configuration, start the proxy, and keep it in
sync with branch switches until terminated.

Settings come from an optional YAML file (--config) overlaid by
BRANCHPROXY_* environment variables.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, optional)")
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Starting branchproxy",
		"project", cfg.ProjectID,
		"repo", cfg.RepoDir,
		"client", cfg.Client)

	store := state.NewFileStore(cfg.StateFile)
	identity := vcs.NewGitIdentity(cfg.RepoDir)

	client := remote.NewClient(cfg.APIURL, cfg.ProjectID, cfg.APIKey,
		remote.WithEditorClient(cfg.IsEditorClient()))

	resolver := coordinator.NewResolver(cfg, store, identity, client)
	supervisor := haproxy.NewSupervisor(cfg.ProxyBinary, cfg.ConfigOutPath, cfg.ProxyLogPath, resolver)
	coord := coordinator.New(cfg, store, identity, client, supervisor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- coord.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		// Initialization failed before any signal arrived.
		return err
	case sig := <-quit:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	}

	if err := coord.Stop(); err != nil {
		slog.Error("Failed to stop coordinator", "error", err)
	}
	if err := <-errCh; err != nil {
		return err
	}

	slog.Info("Shutdown complete")
	return nil
}
