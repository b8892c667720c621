// Package config – loader.go reads configuration from YAML, with .env files
// and ${VAR} references for credentials, and writes it back safely.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/jarvis/pkg/jarvis/secrets"
)

// Environment variables consulted for credentials, in priority order.
const (
	EnvAPIKey       = "JARVIS_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvDiscordToken = "JARVIS_DISCORD_TOKEN"
)

// envRefPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
// Bare $VAR is not expanded because intent patterns use $ as an anchor.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// envFiles are loaded before parsing. Variables already set win.
var envFiles = []string{".env", ".env.local"}

// LoadConfigFromFile reads and parses a YAML configuration file. It loads
// .env files first and fails when a ${VAR:?msg} reference is unset.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveEnvSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)
	return cfg, nil
}

// ParseConfig overlays YAML bytes onto DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg as YAML to path with mode 0600. Secrets that
// came from the environment are written back as ${VAR} references, and an
// existing file is copied to path+".bak" first.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Chat.APIKey = sanitizeSecret(cfg.Chat.APIKey, EnvAPIKey, EnvOpenAIKey)
	sanitized.Discord.Token = sanitizeSecret(cfg.Discord.Token, EnvDiscordToken)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Refuse to replace a good file with something we can't read back.
	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first existing config file in the standard
// locations, or "" when there is none.
func FindConfigFile() string {
	candidates := []string{
		"jarvis.yaml",
		"jarvis.yml",
		"config.yaml",
		"configs/jarvis.yaml",
		filepath.Join(DataDir(), "config.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ResolveAPIKey returns the LLM API key from, in order: the secret store,
// JARVIS_API_KEY, OPENAI_API_KEY, then the config value. store may be nil.
func ResolveAPIKey(cfg *Config, store secrets.Store) string {
	if store != nil {
		if key, err := store.Get(secrets.KeyAPIKey); err == nil && key != "" {
			return key
		}
	}
	for _, env := range []string{EnvAPIKey, EnvOpenAIKey} {
		if key := os.Getenv(env); key != "" {
			return key
		}
	}
	if IsEnvReference(cfg.Chat.APIKey) {
		return ""
	}
	return cfg.Chat.APIKey
}

// Redacted returns a copy of cfg safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Chat.APIKey = mask(c.Chat.APIKey)
	out.Discord.Token = mask(c.Discord.Token)
	out.Gateway.AuthToken = mask(c.Gateway.AuthToken)
	return &out
}

// AuditSecrets warns about credentials hardcoded in the config file.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if looksLikeRealKey(cfg.Chat.APIKey) {
		logger.Warn("API key appears to be hardcoded in config; use the keyring or "+EnvAPIKey+" instead",
			"hint", "run 'jarvis keys set' or set 'api_key: ${"+EnvAPIKey+"}'")
	}
	if looksLikeRealKey(cfg.Discord.Token) {
		logger.Warn("discord token appears to be hardcoded in config",
			"hint", "set 'token: ${"+EnvDiscordToken+"}'")
	}
}

// ExpandEnv replaces ${VAR}, ${VAR:-default} and ${VAR:?message} references
// in input. An unset ${VAR} is left as-is; an unset ${VAR:?message} is an
// error.
func ExpandEnv(input string) (string, error) {
	var errs []error
	out := envRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envRefPattern.FindStringSubmatch(match)
		name, modifier, arg := m[1], m[2], m[3]

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch modifier {
		case "-":
			return arg
		case "?":
			if arg == "" {
				arg = "required environment variable not set"
			}
			errs = append(errs, fmt.Errorf("%s: %s", name, arg))
		}
		return match
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// IsEnvReference reports whether s is an unexpanded ${VAR} reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${")
}

// ReloadEnvFiles re-reads the .env files, overriding existing variables.
// .env.local is applied last so it takes precedence. Returns the number of
// variables set.
func ReloadEnvFiles() (int, error) {
	loaded := 0
	for _, f := range envFiles {
		env, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("reading %s: %w", f, err)
		}
		for k, v := range env {
			if err := os.Setenv(k, v); err != nil {
				return loaded, fmt.Errorf("setting %s: %w", k, err)
			}
			loaded++
		}
	}
	return loaded, nil
}

// ---------- Internal ----------

func loadEnvFiles() {
	for _, f := range envFiles {
		// godotenv.Load does not override variables that are already set.
		_ = godotenv.Load(f)
	}
}

func resolveEnvSecrets(cfg *Config) {
	if cfg.Chat.APIKey == "" || IsEnvReference(cfg.Chat.APIKey) {
		cfg.Chat.APIKey = firstEnv(EnvAPIKey, EnvOpenAIKey)
	}
	if cfg.Discord.Token == "" || IsEnvReference(cfg.Discord.Token) {
		cfg.Discord.Token = firstEnv(EnvDiscordToken, "DISCORD_TOKEN")
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// resolveRelativePaths anchors relative data paths at the config file's
// directory so the process can start from anywhere.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	cfg.Memory.Path = resolvePath(cfg.Memory.Path, dir)
	cfg.Scheduler.Path = resolvePath(cfg.Scheduler.Path, dir)
	cfg.System.WorkDir = resolvePath(cfg.System.WorkDir, dir)
}

func resolvePath(path, base string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// sanitizeSecret turns a value that matches one of envVars back into a
// reference to it. Anything else is kept; the user put it there.
func sanitizeSecret(value string, envVars ...string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	for _, env := range envVars {
		if os.Getenv(env) == value {
			return "${" + env + "}"
		}
	}
	return value
}

func looksLikeRealKey(s string) bool {
	if s == "" || IsEnvReference(s) {
		return false
	}
	return strings.HasPrefix(s, "sk-") || len(s) > 20
}

func mask(s string) string {
	switch {
	case s == "" || IsEnvReference(s):
		return s
	case len(s) <= 8:
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// checkFilePermissions warns when the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
