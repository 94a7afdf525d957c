// Package config provides configuration loading and validation for the
// branchproxy sidecar.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables read by the sidecar.
const EnvPrefix = "BRANCHPROXY"

const (
	// ClientDefault identifies the standalone container client.
	ClientDefault = ""

	// ClientVSCode identifies the editor-integration client, which tags
	// generated connection strings and API traffic differently.
	ClientVSCode = "vscode"
)

// defaultPollInterval is used when pollInterval is unset or unparseable.
const defaultPollInterval = time.Second

// Config is the single configuration object for the sidecar. It is built
// once at startup and passed by pointer into each component; there is no
// ambient global configuration.
type Config struct {
	// ProjectID is the remote branching service project. Required.
	ProjectID string `yaml:"projectId"`

	// BranchID pins the sidecar to an explicit remote branch. When set,
	// branch creation and deletion are skipped entirely.
	BranchID string `yaml:"branchId"`

	// ParentBranchID is the branch new remote branches are created from.
	ParentBranchID string `yaml:"parentBranchId"`

	// DeleteBranch controls whether remote branches are retired when their
	// git branch disappears and on shutdown.
	DeleteBranch bool `yaml:"deleteBranch"`

	// Client distinguishes the editor integration from the default client.
	Client string `yaml:"client"`

	// APIKey authenticates against the branching service.
	APIKey string `yaml:"apiKey"`

	// APIURL is the base URL of the branching service API.
	APIURL string `yaml:"apiUrl"`

	// RepoDir is the mounted git repository (a worktree or a .git dir).
	RepoDir string `yaml:"repoDir"`

	// StateFile is the durable branch-name to branch-id mapping.
	StateFile string `yaml:"stateFile"`

	// TemplatePath is the HAProxy config template with the backend anchor.
	TemplatePath string `yaml:"templatePath"`

	// ConfigOutPath is where the rendered HAProxy config is written.
	ConfigOutPath string `yaml:"configOutPath"`

	// ProxyBinary is the HAProxy executable to supervise.
	ProxyBinary string `yaml:"proxyBinary"`

	// ProxyLogPath receives the proxy's combined stdout/stderr, appended.
	ProxyLogPath string `yaml:"proxyLogPath"`

	// WatchFile is the credential/config trigger file whose content hash is
	// polled for changes. Defaults to RepoDir/HEAD so branch switches are
	// picked up on the next poll.
	WatchFile string `yaml:"watchFile"`

	// DefaultBranch is the branch that is never auto-deleted.
	DefaultBranch string `yaml:"defaultBranch"`

	// PollInterval is the watcher cadence as a duration string (e.g. "1s").
	PollInterval string `yaml:"pollInterval"`
}

// Load builds the configuration from an optional YAML file overlaid with
// BRANCHPROXY_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DeleteBranch:  true,
		APIURL:        "https://api.hoststack.dev/v1",
		RepoDir:       "/tmp/.git",
		StateFile:     "/tmp/.branchproxy/branches.json",
		TemplatePath:  "/etc/branchproxy/haproxy.cfg.tmpl",
		ConfigOutPath: "/tmp/haproxy.cfg",
		ProxyBinary:   "haproxy",
		ProxyLogPath:  "/var/log/haproxy.log",
		DefaultBranch: "main",
		PollInterval:  "1s",
	}
}

// applyEnv overlays environment variables onto the configuration. Only
// variables that are actually set override file or default values.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setString := func(key string, dst *string) {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}

	setString("project_id", &cfg.ProjectID)
	setString("branch_id", &cfg.BranchID)
	setString("parent_branch_id", &cfg.ParentBranchID)
	setString("client", &cfg.Client)
	setString("api_key", &cfg.APIKey)
	setString("api_url", &cfg.APIURL)
	setString("repo_dir", &cfg.RepoDir)
	setString("state_file", &cfg.StateFile)
	setString("template_path", &cfg.TemplatePath)
	setString("config_out_path", &cfg.ConfigOutPath)
	setString("proxy_binary", &cfg.ProxyBinary)
	setString("proxy_log_path", &cfg.ProxyLogPath)
	setString("watch_file", &cfg.WatchFile)
	setString("default_branch", &cfg.DefaultBranch)
	setString("poll_interval", &cfg.PollInterval)

	if val := v.GetString("delete_branch"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			cfg.DeleteBranch = parsed
		}
	}
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("projectId is required (set %s_PROJECT_ID)", EnvPrefix)
	}

	if c.Client != ClientDefault && c.Client != ClientVSCode {
		return fmt.Errorf("client must be empty or %q, got %q", ClientVSCode, c.Client)
	}

	if c.PollInterval != "" {
		if _, err := time.ParseDuration(c.PollInterval); err != nil {
			return fmt.Errorf("pollInterval must be a valid duration (e.g. '1s'): %w", err)
		}
	}

	if c.WatchFile == "" {
		c.WatchFile = filepath.Join(c.RepoDir, "HEAD")
	}

	return nil
}

// IsEditorClient reports whether the editor-integration client is in use.
func (c *Config) IsEditorClient() bool {
	return c.Client == ClientVSCode
}

// PollIntervalDuration parses PollInterval, falling back to one second.
func (c *Config) PollIntervalDuration() time.Duration {
	if c.PollInterval == "" {
		return defaultPollInterval
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return defaultPollInterval
	}
	return d
}
