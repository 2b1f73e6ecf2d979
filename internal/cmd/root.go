// Package cmd provides the CLI commands for Animus.
package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-ai/animus-go/internal/appdir"
	"github.com/animus-ai/animus-go/internal/config"
	"github.com/animus-ai/animus-go/internal/logging"
)

var (
	// Global flags
	configPath    string
	serverURL     string
	convType      string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string
	noAutoClaim   bool
	noAutoRenew   bool

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "animus",
	Short: "Animus - a terminal client for stateful agent backends",
	Long: `Animus is a terminal client for stateful agent backends that speak
JSON-RPC over a persistent WebSocket.

It tracks conversation threads, mirrors room state pushed by the
backend, coordinates the single-writer input lease across clients,
and streams agent responses as they are produced.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
			}
		} else {
			cfg, err = config.LoadSettings()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
		}

		// Flags override file settings.
		if serverURL != "" {
			cfg.Server.URL = serverURL
		}
		if convType != "" {
			cfg.Conversation.Type = convType
		}
		if noAutoClaim {
			cfg.Automation.AutoClaim = false
		}
		if noAutoRenew {
			cfg.Automation.AutoRenew = false
		}

		return initLogging()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// initLogging wires the logging stack from the loaded config and flags.
// Priority for the level: --log-level > --debug > config file.
func initLogging() error {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if logLevel != "" {
		level = logLevel
	}

	path := logFile
	if path == "" {
		path = cfg.Logging.File
	}
	if path == "" {
		logsDir, err := appdir.LogsDir()
		if err != nil {
			return err
		}
		path = filepath.Join(logsDir, "animus.log")
	}

	var components []string
	if logComponents != "" {
		for _, c := range strings.Split(logComponents, ",") {
			if c = strings.TrimSpace(c); c != "" {
				components = append(components, c)
			}
		}
	}

	return logging.Initialize(logging.Config{
		Level:      level,
		Components: components,
		FileLog: &logging.FileLogConfig{
			Path:       path,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
	})
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (overrides settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Backend WebSocket URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&convType, "type", "", "Backend conversation type, e.g. codex (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (defaults to the Animus logs directory)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g. 'transport,room'). Empty means all.")
	rootCmd.PersistentFlags().BoolVar(&noAutoClaim, "no-auto-claim", false, "Do not claim the input lease automatically when opening a thread")
	rootCmd.PersistentFlags().BoolVar(&noAutoRenew, "no-auto-renew", false, "Do not keep renewing a held input lease")
}
