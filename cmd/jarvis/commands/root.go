// Package commands implements the jarvis CLI commands using cobra.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/assistant"
	"github.com/jholhewres/jarvis/pkg/jarvis/config"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jarvis",
		Short: "Jarvis - personal assistant command router",
		Long: `Jarvis routes free-text commands to voice, chat, system, internet,
automation, security and updater handlers. It runs as a CLI, a wake-word
listener, an HTTP/WebSocket gateway and an optional Discord bot.

Examples:
  jarvis chat "what time is it"
  jarvis serve
  jarvis schedule add daily 09:00 "give me the news"
  jarvis config init`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(version),
		newChatCmd(version),
		newListenCmd(version),
		newScheduleCmd(version),
		newConfigCmd(),
		newSetupCmd(),
		newKeysCmd(),
		newHealthCmd(version),
		newVersionCmd(version),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the --config file, else the first discovered config
// file, else the defaults. The returned path is empty for defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid config %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return config.DefaultConfig(), "", nil
}

// newLogger builds the process logger from the logging section. --verbose
// forces debug.
func newLogger(cmd *cobra.Command, cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// quietLogging raises the level for interactive commands so log lines do
// not interleave with replies, unless --verbose is set.
func quietLogging(cfg *config.Config) {
	if cfg.Logging.Level == "" || strings.EqualFold(cfg.Logging.Level, "info") {
		cfg.Logging.Level = "warn"
	}
}

// buildAssistant resolves config and constructs an assistant that has not
// been started.
func buildAssistant(cmd *cobra.Command, version string, interactive bool) (*assistant.Assistant, string, *slog.Logger, error) {
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return nil, "", nil, err
	}
	if interactive {
		quietLogging(cfg)
	}
	logger := newLogger(cmd, cfg.Logging, os.Stderr)
	slog.SetDefault(logger)
	if path != "" {
		logger.Debug("config loaded", "path", path)
	}

	a, err := assistant.New(cfg, assistant.Options{Version: version}, logger)
	if err != nil {
		return nil, "", nil, fmt.Errorf("building assistant: %w", err)
	}
	return a, path, logger, nil
}
