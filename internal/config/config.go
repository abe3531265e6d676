// Package config loads and resolves intercessiod's daemon configuration.
//
// Following the teacher daemon's shape (internal/config.Config +
// internal/config.Loader in the witnessd codebase), configuration is a TOML
// file under the config directory, overridden by environment variables, and
// validated before use. Unlike the teacher, intercessiod's configuration
// surface is small: the daemon's core behavior (policies, data model) is
// not user-configurable, only operational knobs are.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version, for future migrations.
	Version int `toml:"version"`

	// ApprovalTTLSeconds is the time-to-live applied to every REFER
	// decision awaiting resolution.
	ApprovalTTLSeconds int `toml:"approval_ttl_seconds"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format"`

	// SQLiteBusyTimeoutMs bounds how long a write waits on the session
	// store before failing with SQLITE_BUSY.
	SQLiteBusyTimeoutMs int `toml:"sqlite_busy_timeout_ms"`

	// Notifier holds outbound notification settings. These are also
	// readable directly from process environment per spec; values loaded
	// here take precedence only when the corresponding env var is unset.
	Notifier NotifierConfig `toml:"notifier"`
}

// NotifierConfig configures the best-effort approval notifier.
type NotifierConfig struct {
	Topic         string `toml:"topic"`
	BaseURL       string `toml:"base_url"`
	ReviewBaseURL string `toml:"review_base_url"`
}

// Default returns the daemon's built-in defaults.
func Default() Config {
	return Config{
		Version:             1,
		ApprovalTTLSeconds:  10 * 60,
		LogLevel:            "info",
		LogFormat:           "text",
		SQLiteBusyTimeoutMs: 5000,
		Notifier: NotifierConfig{
			BaseURL: "https://ntfy.sh",
		},
	}
}

// ApprovalTTL returns the configured approval TTL as a duration.
func (c Config) ApprovalTTL() time.Duration {
	return time.Duration(c.ApprovalTTLSeconds) * time.Second
}

// Dir resolves the base config directory: INTERCESSIO_DATA_DIR overrides,
// otherwise a dotted subdirectory of the user's home.
func Dir() (string, error) {
	if v := os.Getenv("INTERCESSIO_DATA_DIR"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".intercessio"), nil
}

// Paths collects the well-known file paths inside the config directory.
type Paths struct {
	Dir          string
	KeysFile     string
	StateFile    string
	DatabaseFile string
	SocketFile   string
	SecretsFile  string
	SaltFile     string
	ConfigFile   string
}

// ResolvePaths builds a Paths rooted at dir.
func ResolvePaths(dir string) Paths {
	return Paths{
		Dir:          dir,
		KeysFile:     filepath.Join(dir, "keys.json"),
		StateFile:    filepath.Join(dir, "state.json"),
		DatabaseFile: filepath.Join(dir, "intercessio.db"),
		SocketFile:   filepath.Join(dir, "intercessio.sock"),
		SecretsFile:  filepath.Join(dir, "secrets.json"),
		SaltFile:     filepath.Join(dir, "salt"),
		ConfigFile:   filepath.Join(dir, "config.toml"),
	}
}

// Load reads config.toml from path, falling back to defaults if the file
// does not exist, then applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if _, decErr := toml.Decode(string(data), &cfg); decErr != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, decErr)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets environment variables win over the file, matching
// the teacher's WITNESSD_* convention with an INTERCESSIO_ prefix. Notifier
// settings additionally honor the unprefixed NTFY_* names directly, per the
// external interface contract.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INTERCESSIO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("INTERCESSIO_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("INTERCESSIO_APPROVAL_TTL_SECONDS"); v != "" {
		if secs, err := parseSeconds(v); err == nil {
			c.ApprovalTTLSeconds = secs
		}
	}

	topic := os.Getenv("NTFY_TOPIC")
	if topic == "" {
		topic = os.Getenv("INTERCESSIO_NTFY_TOPIC")
	}
	if topic != "" {
		c.Notifier.Topic = topic
	}
	if v := os.Getenv("NTFY_BASE_URL"); v != "" {
		c.Notifier.BaseURL = v
	}
	if v := os.Getenv("IC_LINK"); v != "" {
		c.Notifier.ReviewBaseURL = v
	}
}

func parseSeconds(v string) (int, error) {
	var secs int
	_, err := fmt.Sscanf(v, "%d", &secs)
	return secs, err
}

// Validate rejects nonsensical configuration.
func (c Config) Validate() error {
	if c.ApprovalTTLSeconds <= 0 {
		return fmt.Errorf("approval_ttl_seconds must be positive, got %d", c.ApprovalTTLSeconds)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.SQLiteBusyTimeoutMs < 0 {
		return fmt.Errorf("sqlite_busy_timeout_ms must be non-negative")
	}
	return nil
}

// EnsureDir creates the config directory with restrictive permissions if it
// does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
