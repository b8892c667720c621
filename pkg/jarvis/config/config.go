// Package config – config.go defines the configuration structures of the
// Jarvis assistant and their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/bridge"
	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
	"github.com/jholhewres/jarvis/pkg/jarvis/reasoning"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name used in replies and the CLI prompt.
	Name string `yaml:"name"`

	Logging   LoggingConfig   `yaml:"logging"`
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Intent extends the built-in routing table. Entries are appended to
	// the defaults of the named domain.
	Intent IntentConfig `yaml:"intent"`

	Bridge    BridgeConfig    `yaml:"bridge"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Memory    MemoryConfig    `yaml:"memory"`
	Chat      ChatConfig      `yaml:"chat"`
	Voice     VoiceConfig     `yaml:"voice"`
	System    SystemConfig    `yaml:"system"`
	Internet  InternetConfig  `yaml:"internet"`
	Security  SecurityConfig  `yaml:"security"`
	Updater   UpdaterConfig   `yaml:"updater"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Discord   DiscordConfig   `yaml:"discord"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// ReasoningConfig tunes the orchestrator.
type ReasoningConfig struct {
	// HistorySize is the per-session command window (default 20).
	HistorySize int `yaml:"history_size"`
	// SpeakReplies vocalizes every reply through the speaker.
	SpeakReplies bool `yaml:"speak_replies"`
	// SessionTTL prunes sessions idle for longer. Zero keeps them forever.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// IntentConfig maps domain names to extra keywords and regex patterns.
type IntentConfig struct {
	Keywords map[string][]string `yaml:"keywords"`
	Patterns map[string][]string `yaml:"patterns"`
}

// BridgeConfig sizes the async executor and the web client.
type BridgeConfig struct {
	QueueSize     int                `yaml:"queue_size"`
	MaxConcurrent int                `yaml:"max_concurrent"`
	Timeout       time.Duration      `yaml:"timeout"`
	MaxBody       int64              `yaml:"max_body"`
	UserAgent     string             `yaml:"user_agent"`
	SSRF          bridge.GuardConfig `yaml:"ssrf"`
}

// SchedulerConfig configures the recurring scheduler.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	// Storage is sqlite (shares the memory database), file or none.
	Storage string `yaml:"storage"`
	// Path is the task file when Storage is file.
	Path string `yaml:"path"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	// Driver is sqlite or memory.
	Driver          string `yaml:"driver"`
	Path            string `yaml:"path"`
	MaxInteractions int    `yaml:"max_interactions"`
}

// ChatConfig configures the chat handler.
type ChatConfig struct {
	// Provider is canned or openai.
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
	DedupeWindow int           `yaml:"dedupe_window"`
	HistoryTurns int           `yaml:"history_turns"`
}

// VoiceConfig configures speech output and the wake loop.
type VoiceConfig struct {
	Enabled bool `yaml:"enabled"`
	// Engine is the TTS command (espeak, say, ...). Empty picks one per OS.
	Engine   string  `yaml:"engine"`
	Rate     int     `yaml:"rate"`
	Volume   float64 `yaml:"volume"`
	Voice    string  `yaml:"voice"`
	WakeWord string  `yaml:"wake_word"`
}

// SystemConfig gates local command execution.
type SystemConfig struct {
	// AllowExec enables real execution. When false commands are dry-run.
	AllowExec   bool     `yaml:"allow_exec"`
	AllowedApps []string `yaml:"allowed_apps"`
	WorkDir     string   `yaml:"work_dir"`
}

// InternetConfig points the internet handler at its sources.
type InternetConfig struct {
	SearchURL  string `yaml:"search_url"`
	WeatherURL string `yaml:"weather_url"`
	NewsURL    string `yaml:"news_url"`
}

// SecurityConfig configures PIN handling.
type SecurityConfig struct {
	PINMinLength int `yaml:"pin_min_length"`
}

// UpdaterConfig configures release checks.
type UpdaterConfig struct {
	ReleaseURL string `yaml:"release_url"`
}

// GatewayConfig configures the HTTP/WebSocket gateway.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	// AuthToken, when set, is required as a Bearer token on /api routes.
	AuthToken   string   `yaml:"auth_token"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	WebSocket bool    `yaml:"websocket"`
}

// DiscordConfig configures the optional Discord transport.
type DiscordConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Token           string   `yaml:"token"`
	AllowedChannels []string `yaml:"allowed_channels"`
	// RequireMention ignores guild messages that do not mention the bot.
	RequireMention bool `yaml:"require_mention"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "Jarvis",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Reasoning: ReasoningConfig{
			HistorySize: reasoning.DefaultHistorySize,
			SessionTTL:  time.Hour,
		},
		Bridge: BridgeConfig{
			QueueSize:     64,
			MaxConcurrent: 16,
			Timeout:       30 * time.Second,
			MaxBody:       2 << 20,
			UserAgent:     "Jarvis/1.0",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: time.Second,
			JobTimeout:   5 * time.Minute,
			Storage:      "sqlite",
			Path:         ResolveDataPath("tasks.json"),
		},
		Memory: MemoryConfig{
			Driver:          "sqlite",
			Path:            ResolveDataPath("jarvis.db"),
			MaxInteractions: 1000,
		},
		Chat: ChatConfig{
			Provider:     "canned",
			Model:        "gpt-4o-mini",
			BaseURL:      "https://api.openai.com/v1",
			SystemPrompt: "You are Jarvis, a helpful personal assistant. Be concise and practical.",
			MaxTokens:    512,
			Timeout:      30 * time.Second,
			DedupeWindow: 2,
			HistoryTurns: 10,
		},
		Voice: VoiceConfig{
			Rate:     175,
			Volume:   0.8,
			Voice:    "female",
			WakeWord: "jarvis",
		},
		Security: SecurityConfig{
			PINMinLength: 4,
		},
		Updater: UpdaterConfig{
			ReleaseURL: "https://api.github.com/repos/jholhewres/jarvis/releases/latest",
		},
		Gateway: GatewayConfig{
			Address:   "127.0.0.1:8085",
			RateLimit: 10,
			RateBurst: 20,
			WebSocket: true,
		},
		Discord: DiscordConfig{
			RequireMention: true,
		},
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: must be text or json, got %q", c.Logging.Format))
	}
	switch c.Memory.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("memory.driver: must be sqlite or memory, got %q", c.Memory.Driver))
	}
	if c.Memory.Driver == "sqlite" && c.Memory.Path == "" {
		errs = append(errs, errors.New("memory.path: required for the sqlite driver"))
	}
	switch c.Scheduler.Storage {
	case "sqlite", "file", "none":
	default:
		errs = append(errs, fmt.Errorf("scheduler.storage: must be sqlite, file or none, got %q", c.Scheduler.Storage))
	}
	if c.Scheduler.Storage == "sqlite" && c.Memory.Driver != "sqlite" {
		errs = append(errs, errors.New("scheduler.storage: sqlite requires memory.driver sqlite"))
	}
	if c.Scheduler.Storage == "file" && c.Scheduler.Path == "" {
		errs = append(errs, errors.New("scheduler.path: required for file storage"))
	}
	switch c.Chat.Provider {
	case "canned", "openai":
	default:
		errs = append(errs, fmt.Errorf("chat.provider: must be canned or openai, got %q", c.Chat.Provider))
	}
	switch c.Voice.Voice {
	case "", "female", "male":
	default:
		errs = append(errs, fmt.Errorf("voice.voice: must be female or male, got %q", c.Voice.Voice))
	}
	if c.Voice.Volume < 0 || c.Voice.Volume > 1 {
		errs = append(errs, fmt.Errorf("voice.volume: must be within 0..1, got %v", c.Voice.Volume))
	}
	if c.Security.PINMinLength < 4 {
		errs = append(errs, fmt.Errorf("security.pin_min_length: must be at least 4, got %d", c.Security.PINMinLength))
	}
	if c.Gateway.Enabled && c.Gateway.Address == "" {
		errs = append(errs, errors.New("gateway.address: required when the gateway is enabled"))
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token: required when discord is enabled"))
	}
	if rules, err := intent.MergeRules(intent.DefaultRules(), c.Intent.Keywords, c.Intent.Patterns); err != nil {
		errs = append(errs, fmt.Errorf("intent: %w", err))
	} else if _, err := intent.New(rules, nil); err != nil {
		errs = append(errs, fmt.Errorf("intent: %w", err))
	}

	return errors.Join(errs...)
}

// DataDir returns the directory for databases and task files:
// $JARVIS_HOME, or ~/.jarvis, or ./data when no home directory exists.
func DataDir() string {
	if dir := os.Getenv("JARVIS_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".jarvis")
}

// ResolveDataPath joins name onto DataDir.
func ResolveDataPath(name string) string {
	return filepath.Join(DataDir(), name)
}
