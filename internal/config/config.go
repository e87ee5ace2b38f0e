package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	ADBPath        string         `yaml:"adb_path"`
	LogLevel       string         `yaml:"log_level"`
	ViewDir        string         `yaml:"view_dir"` // where pulled UI dumps are written
	Locator        string         `yaml:"locator"`  // "xml" or "pattern"
	CommandTimeout time.Duration  `yaml:"command_timeout"`
	ReadyTimeout   time.Duration  `yaml:"ready_timeout"` // 0 waits forever
	App            AppConfig      `yaml:"app"`
	BTP            BTPConfig      `yaml:"btp"`
	Devices        []DeviceConfig `yaml:"devices"`
}

// AppConfig names the on-device BTP tester application.
type AppConfig struct {
	Package  string `yaml:"package"`
	Activity string `yaml:"activity"`
}

// BTPConfig holds settings for the BTP WebSocket listener on the device.
type BTPConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// DeviceConfig pins one IUT. Empty fields are derived at startup.
type DeviceConfig struct {
	Serial string `yaml:"serial"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "btp-android")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		ADBPath:        "adb",
		LogLevel:       "info",
		ViewDir:        os.TempDir(),
		Locator:        "xml",
		CommandTimeout: 30 * time.Second,
		App: AppConfig{
			Package:  "com.juul.btptesterandroid",
			Activity: "com.juul.btptesterandroid.MainActivity",
		},
		BTP: BTPConfig{
			Port: 8765,
			Path: "/",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in adb_path and view_dir is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ADBPath = expandTilde(cfg.ADBPath)
	cfg.ViewDir = expandTilde(cfg.ViewDir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ADBPath == "" {
		return fmt.Errorf("adb_path must not be empty")
	}

	if c.ViewDir == "" {
		return fmt.Errorf("view_dir must not be empty")
	}

	switch c.Locator {
	case "xml", "pattern":
	default:
		return fmt.Errorf("locator must be \"xml\" or \"pattern\", got %q", c.Locator)
	}

	if c.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout must be >= 0")
	}
	if c.ReadyTimeout < 0 {
		return fmt.Errorf("ready_timeout must be >= 0")
	}

	if c.App.Package == "" || c.App.Activity == "" {
		return fmt.Errorf("app.package and app.activity must not be empty")
	}

	if c.BTP.Port <= 0 || c.BTP.Port > 65535 {
		return fmt.Errorf("btp.port must be in 1..65535, got %d", c.BTP.Port)
	}
	if !strings.HasPrefix(c.BTP.Path, "/") {
		return fmt.Errorf("btp.path must start with \"/\", got %q", c.BTP.Path)
	}

	for i, d := range c.Devices {
		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("devices[%d].port must be in 0..65535, got %d", i, d.Port)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# btp-android configuration
# Devices left empty are picked by position in "adb devices".
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. Returns the written path, or "" if a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
