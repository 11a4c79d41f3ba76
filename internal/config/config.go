package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/statcode-ai/toolguard/internal/consts"
	"github.com/statcode-ai/toolguard/internal/llm"
)

// Config represents application configuration.
type Config struct {
	// DefaultTimeoutSeconds is the deadline for tools without an override
	DefaultTimeoutSeconds int `json:"default_timeout_seconds"`
	// ToolTimeoutsSeconds overrides the deadline per tool name
	ToolTimeoutsSeconds map[string]int `json:"tool_timeouts_seconds,omitempty"`
	// EnableFallback controls whether timeouts trigger fallback questions
	EnableFallback bool `json:"enable_fallback"`
	// EventHistorySize bounds the in-memory ring of recent timeout events
	EventHistorySize int `json:"event_history_size,omitempty"`
	// TelemetryDBPath locates the SQLite timeout store ("" disables it)
	TelemetryDBPath string `json:"telemetry_db_path,omitempty"`
	// StatusAddr is the listen address of the status server ("" disables it)
	StatusAddr string `json:"status_addr,omitempty"`
	// LogLevel is one of debug, info, warn, error, none
	LogLevel string `json:"log_level"`
	// LogPath locates the log file ("" disables file logging)
	LogPath string `json:"log_path,omitempty"`
	// Provider configures the completion capability for AI fallback
	Provider llm.Config `json:"provider"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultTimeoutSeconds: int(consts.DefaultToolTimeout / time.Second),
		EnableFallback:        true,
		EventHistorySize:      consts.DefaultEventHistorySize,
		LogLevel:              "info",
	}
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "toolguard")
		}
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "toolguard")
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "toolguard")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "toolguard")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load reads the config file at path, falling back to defaults for a missing
// file. An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = int(consts.DefaultToolTimeout / time.Second)
	}
	if cfg.EventHistorySize <= 0 {
		cfg.EventHistorySize = consts.DefaultEventHistorySize
	}

	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// TimeoutFor returns the configured deadline for a tool.
func (c *Config) TimeoutFor(toolName string) time.Duration {
	if c.ToolTimeoutsSeconds != nil {
		if secs, ok := c.ToolTimeoutsSeconds[toolName]; ok && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}
