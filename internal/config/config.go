// Package config loads pocketd daemon configuration from YAML or TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage backends for persisted documents.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds the daemon configuration.
type Config struct {
	// Listen is the control plane address.
	Listen string `yaml:"listen" toml:"listen"`
	// DataDir holds persisted documents and the audit database.
	DataDir string `yaml:"data_dir" toml:"data_dir"`

	Storage       StorageConfig       `yaml:"storage" toml:"storage"`
	Lock          LockConfig          `yaml:"lock" toml:"lock"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" toml:"scheduler"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Agent         AgentConfig         `yaml:"agent" toml:"agent"`
	Shell         ShellConfig         `yaml:"shell" toml:"shell"`
	Device        DeviceConfig        `yaml:"device" toml:"device"`
	Indicator     IndicatorConfig     `yaml:"indicator" toml:"indicator"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// StorageConfig selects where documents live.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `yaml:"backend" toml:"backend"`
}

// LockConfig configures the device lock.
type LockConfig struct {
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// SchedulerConfig configures scheduled task execution.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" toml:"tick_interval"`
	ResultMaxLen int           `yaml:"result_max_len" toml:"result_max_len"`
	LogCapacity  int           `yaml:"log_capacity" toml:"log_capacity"`
}

// NotificationsConfig configures the notification watcher and triage queue.
type NotificationsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	MaxAge       time.Duration `yaml:"max_age" toml:"max_age"`
	LogCapacity  int           `yaml:"log_capacity" toml:"log_capacity"`
	// AutoStart starts the watcher when the daemon boots.
	AutoStart bool `yaml:"auto_start" toml:"auto_start"`
	// WatchWhitelist reloads the whitelist when its file changes on disk.
	WatchWhitelist bool `yaml:"watch_whitelist" toml:"watch_whitelist"`
}

// AgentConfig points at the external agent service.
type AgentConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// ShellConfig configures device command execution.
type ShellConfig struct {
	Allowed   []string      `yaml:"allowed" toml:"allowed"`
	SuPath    string        `yaml:"su_path" toml:"su_path"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
	MaxOutput int           `yaml:"max_output" toml:"max_output"`
}

// DeviceConfig configures wake and unlock.
type DeviceConfig struct {
	PIN          string        `yaml:"pin" toml:"pin"`
	AfterWake    time.Duration `yaml:"after_wake" toml:"after_wake"`
	AfterSwipe   time.Duration `yaml:"after_swipe" toml:"after_swipe"`
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts" toml:"poll_attempts"`
}

// IndicatorConfig toggles the on-device presence notification.
type IndicatorConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Listen:  "127.0.0.1:7466",
		DataDir: defaultDataDir(),
		Storage: StorageConfig{Backend: BackendFile},
		Lock:    LockConfig{Timeout: 2 * time.Minute},
		Scheduler: SchedulerConfig{
			TickInterval: 60 * time.Second,
			ResultMaxLen: 500,
			LogCapacity:  100,
		},
		Notifications: NotificationsConfig{
			PollInterval:   5 * time.Second,
			MaxAge:         60 * time.Second,
			LogCapacity:    100,
			WatchWhitelist: true,
		},
		Agent: AgentConfig{
			URL:     "http://127.0.0.1:3000",
			Timeout: 5 * time.Minute,
		},
		Shell: ShellConfig{
			SuPath:    "su",
			Timeout:   10 * time.Second,
			MaxOutput: 5 * 1024 * 1024,
		},
		Device: DeviceConfig{
			AfterWake:    500 * time.Millisecond,
			AfterSwipe:   500 * time.Millisecond,
			PollInterval: 800 * time.Millisecond,
			PollAttempts: 5,
		},
		Indicator: IndicatorConfig{Enabled: true},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pocketd"
	}
	return filepath.Join(home, ".pocketd")
}

// DefaultPath returns ~/.pocketd/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load reads the file at path, decoding TOML for .toml files and YAML
// otherwise. A missing file yields the defaults. Environment overrides are
// applied before validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	}
	return nil
}

// Save writes cfg to path in the format implied by its extension, creating
// parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
	}

	// The file may carry the device PIN.
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ApplyEnvOverrides overlays environment variables onto c.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DEVICE_PIN"); v != "" {
		c.Device.PIN = v
	}
	if v := os.Getenv("POCKETD_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("POCKETD_AGENT_URL"); v != "" {
		c.Agent.URL = v
	}
	if v := os.Getenv("POCKETD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("POCKETD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", c.Listen, err)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Storage.Backend)
	}
	if c.Agent.URL == "" {
		return errors.New("agent.url is required")
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"lock.timeout", c.Lock.Timeout},
		{"scheduler.tick_interval", c.Scheduler.TickInterval},
		{"notifications.poll_interval", c.Notifications.PollInterval},
		{"notifications.max_age", c.Notifications.MaxAge},
		{"agent.timeout", c.Agent.Timeout},
		{"shell.timeout", c.Shell.Timeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if c.Scheduler.ResultMaxLen <= 0 {
		return errors.New("scheduler.result_max_len must be positive")
	}
	if c.Scheduler.LogCapacity <= 0 || c.Notifications.LogCapacity <= 0 {
		return errors.New("log_capacity must be positive")
	}
	if c.Device.PollAttempts < 0 {
		return errors.New("device.poll_attempts cannot be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// DocumentsDir is where the file backend keeps its documents.
func (c *Config) DocumentsDir() string {
	return filepath.Join(c.DataDir, "state")
}

// DatabasePath is the SQLite database holding the audit trail.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "pocketd.db")
}
