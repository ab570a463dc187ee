// Package config loads the service configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// DatabasePath locates the SQLite database. Defaults to
	// ~/.local/share/issuesync/issuesync.db.
	DatabasePath string `yaml:"database_path"`
	// ListenAddr is the webhook server address. Defaults to ":8070".
	ListenAddr string `yaml:"listen_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile optionally tees logs to a file.
	LogFile string `yaml:"log_file"`
	// SearchRefreshURL, when set, receives a POST after each successful
	// sync pass.
	SearchRefreshURL string `yaml:"search_refresh_url"`

	GitHub GitHubConfig `yaml:"github"`
}

// GitHubConfig holds API credentials.
type GitHubConfig struct {
	// Token is the default access token. The ISSUESYNC_GITHUB_TOKEN
	// environment variable overrides it.
	Token string `yaml:"token"`
	// InstallationTokens maps installation handles to dedicated tokens.
	InstallationTokens map[string]string `yaml:"installation_tokens"`
	// WebhookSecret is the fallback secret for deliveries that match no
	// project-specific secret.
	WebhookSecret string `yaml:"webhook_secret"`
}

// Load reads the configuration from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if token := os.Getenv("ISSUESYNC_GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DatabasePath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DatabasePath = filepath.Join(home, ".local", "share", "issuesync", "issuesync.db")
		} else {
			c.DatabasePath = "issuesync.db"
		}
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8070"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
