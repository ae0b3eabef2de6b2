// Package config loads and validates Flare's TOML configuration. It
// covers the core pipeline knobs (action policy, sensitive patterns, safe
// hosts, oracle timeout, allowlists) and the server surface (listen
// address, audit log backends, logging).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/noam-bash/flare-saferun/internal/assess"
	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// Error definitions for the config package.
var (
	// ErrInvalidConfigPath is returned when the config file path is invalid.
	ErrInvalidConfigPath = errors.New("invalid config file path")
)

// Defaults applied when fields are absent.
const (
	DefaultListenAddr   = "127.0.0.1:8400"
	DefaultOSVTimeoutMS = 1500
)

// Config is the root configuration document.
type Config struct {
	Server ServerConfig `toml:"server"`
	Assess AssessConfig `toml:"assess"`
}

// ServerConfig configures the HTTP surface and logging.
type ServerConfig struct {
	// Listen is the address the HTTP server binds to.
	Listen string `toml:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// LogFile, when set, receives JSON log records in addition to the
	// console.
	LogFile string `toml:"log_file"`

	// AuditJSONL is the path of the append-only JSONL assessment log.
	// Empty disables the backend.
	AuditJSONL string `toml:"audit_jsonl"`

	// AuditSQLite is the path of the SQLite assessment log. Empty
	// disables the backend (and the dashboard endpoints that read it).
	AuditSQLite string `toml:"audit_sqlite"`
}

// AssessConfig configures the analysis pipeline.
type AssessConfig struct {
	// ActionPolicy maps risk levels to actions. When present it must be
	// total; when absent the reference policy applies.
	ActionPolicy map[string]flaretypes.Action `toml:"action_policy"`

	// SensitivePatterns are extra sensitive-path globs.
	SensitivePatterns []string `toml:"sensitive_patterns"`

	// SafeHosts are extra allowlisted hostnames.
	SafeHosts []string `toml:"safe_hosts"`

	// OSVTimeoutMS bounds each vulnerability lookup, in milliseconds.
	OSVTimeoutMS int `toml:"osv_timeout_ms"`

	// PackageAllowlist lists packages exempt from oracle lookups.
	PackageAllowlist []string `toml:"package_allowlist"`

	// CommandAllowlist lists command prefixes that bypass analysis.
	CommandAllowlist []string `toml:"command_allowlist"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidConfigPath)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(content)
}

// Parse parses configuration content, applies defaults, and validates.
func Parse(content []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListenAddr
	}
	if cfg.Assess.OSVTimeoutMS == 0 {
		cfg.Assess.OSVTimeoutMS = DefaultOSVTimeoutMS
	}

	if _, err := cfg.Policy(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: DefaultListenAddr},
		Assess: AssessConfig{OSVTimeoutMS: DefaultOSVTimeoutMS},
	}
}

// Policy converts the configured action policy, falling back to the
// reference policy when none is configured. The configured map must be
// total over the risk levels.
func (c *Config) Policy() (flaretypes.ActionPolicy, error) {
	if len(c.Assess.ActionPolicy) == 0 {
		return flaretypes.ReferencePolicy(), nil
	}

	policy := make(flaretypes.ActionPolicy, len(c.Assess.ActionPolicy))
	for name, action := range c.Assess.ActionPolicy {
		level, err := flaretypes.ParseRiskLevel(name)
		if err != nil {
			return nil, fmt.Errorf("action_policy: %w", err)
		}
		policy[level] = action
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("action_policy: %w", err)
	}
	return policy, nil
}

// AssessServiceConfig converts the file configuration into the pipeline's
// Config. The policy error is already ruled out by Parse.
func (c *Config) AssessServiceConfig() (assess.Config, error) {
	policy, err := c.Policy()
	if err != nil {
		return assess.Config{}, err
	}
	return assess.Config{
		Policy:            policy,
		SensitivePatterns: c.Assess.SensitivePatterns,
		SafeHosts:         c.Assess.SafeHosts,
		OSVTimeout:        time.Duration(c.Assess.OSVTimeoutMS) * time.Millisecond,
		PackageAllowlist:  c.Assess.PackageAllowlist,
		CommandAllowlist:  c.Assess.CommandAllowlist,
	}, nil
}
