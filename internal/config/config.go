// Package config handles configuration loading and management for Animus.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/animus-ai/animus-go/internal/appdir"
	"github.com/animus-ai/animus-go/internal/fileutil"

	defaultConfig "github.com/animus-ai/animus-go/config"
)

// ServerConfig locates the agent backend.
type ServerConfig struct {
	// URL is the WebSocket endpoint of the agent backend.
	URL string `yaml:"url"`
}

// ConversationConfig selects the backend dialect.
type ConversationConfig struct {
	// Type is the backend dialect: "codex" speaks the native method set,
	// anything else is resolved through the compatibility profile.
	Type string `yaml:"type"`
}

// AutomationConfig controls the lease automation policy.
type AutomationConfig struct {
	// AutoClaim claims the input lease whenever a thread becomes active.
	AutoClaim bool `yaml:"auto_claim"`
	// AutoRenew keeps renewing the lease while it is held.
	AutoRenew bool `yaml:"auto_renew"`
}

// UIConfig holds display preferences.
type UIConfig struct {
	// ShowTimeline shows the room event timeline pane.
	ShowTimeline bool `yaml:"show_timeline"`
	// HighlightStyle is the chroma style for fenced code blocks.
	HighlightStyle string `yaml:"highlight_style"`
}

// LoggingConfig configures the rotating log file.
type LoggingConfig struct {
	// File is the log file path. Empty logs to ANIMUS_DIR/logs/animus.log.
	File string `yaml:"file"`
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to retain.
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays is the retention period for rotated files.
	MaxAgeDays int `yaml:"max_age_days"`
}

// Config represents the complete Animus configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Conversation ConversationConfig `yaml:"conversation"`
	Automation   AutomationConfig   `yaml:"automation"`
	UI           UIConfig           `yaml:"ui"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:       ServerConfig{URL: "ws://127.0.0.1:8091/ws"},
		Conversation: ConversationConfig{Type: "codex"},
		Automation:   AutomationConfig{AutoClaim: true, AutoRenew: true},
		UI:           UIConfig{HighlightStyle: "monokai"},
		Logging:      LoggingConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Parse parses YAML configuration data, applying defaults for omitted
// fields.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// LoadSettings loads settings from the Animus data directory, creating
// settings.yaml from the embedded defaults on first run.
func LoadSettings() (*Config, error) {
	if err := appdir.EnsureDir(); err != nil {
		return nil, fmt.Errorf("failed to create Animus directory: %w", err)
	}
	path, err := appdir.SettingsPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, defaultConfig.DefaultConfigYAML, 0644); err != nil {
			return nil, fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return Load(path)
}

// SaveSettings writes the configuration back to the Animus data directory.
// The previous file is kept as a one-deep backup.
func SaveSettings(cfg *Config) error {
	path, err := appdir.SettingsPath()
	if err != nil {
		return err
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", data, 0644); err != nil {
			return fmt.Errorf("failed to create settings backup: %w", err)
		}
	}
	return fileutil.WriteYAMLAtomic(path, cfg, 0644)
}

func (c *Config) validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url must not be empty")
	}
	if c.Conversation.Type == "" {
		return fmt.Errorf("conversation.type must not be empty")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
