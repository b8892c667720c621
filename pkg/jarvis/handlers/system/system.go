// Package system implements the system domain: launching and closing
// applications, power actions and simple folder management. Anything that
// spawns a process is a dry run unless AllowExec is set.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
)

// ErrUnrecognized is returned for commands the handler cannot map to an
// action; the dispatcher turns it into a chat fallback.
var ErrUnrecognized = errors.New("unrecognized system command")

const dryRunPrefix = "Command execution is disabled. I would have run: "

var (
	powerRes = []struct {
		re     *regexp.Regexp
		action Action
		reply  string
	}{
		{powerRe(`shut ?down|power off`, `shut ?down|power off|turn off`), ActionShutdown, "Shutting down the system."},
		{powerRe(`restart|reboot`, `restart|reboot`), ActionRestart, "Restarting the system."},
		{regexp.MustCompile(`(?i)\block (the )?(screen|computer|system|workstation)\b`), ActionLock, "Locking the system."},
		{powerRe(`go to sleep|suspend`, `sleep|suspend`), ActionSleep, "Putting the system to sleep."},
	}

	listRe   = regexp.MustCompile(`(?i)^(?:list|show)\s+(?:the\s+)?(?:files|contents|directory|folder)(?:\s+(?:in|of))?\s*(.*)$`)
	createRe = regexp.MustCompile(`(?i)^(?:create|make)\s+(?:a\s+)?(?:new\s+)?(?:folder|directory)\s+(?:called\s+|named\s+)?(.+)$`)
	deleteRe = regexp.MustCompile(`(?i)^(?:delete|remove)\s+(?:the\s+)?(?:folder|directory)\s+(?:called\s+|named\s+)?(.+)$`)
	openRe   = regexp.MustCompile(`(?i)^(?:open|launch|start|run)\s+(?:the\s+)?(.+?)(?:\s+app(?:lication)?)?$`)
	closeRe  = regexp.MustCompile(`(?i)^(?:close|quit|exit|kill|stop)\s+(?:the\s+)?(.+?)(?:\s+app(?:lication)?)?$`)
)

// powerRe matches a power verb either as the whole utterance ("reboot now")
// or aimed at the machine itself ("restart the computer"), so "restart the
// browser" is left alone.
func powerRe(bare, aimed string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^(?:please\s+)?(?:` + bare + `)(?:\s+now)?$` +
		`|\b(?:` + aimed + `)\s+(?:the\s+|my\s+|this\s+)?(?:system|computer|pc|machine)\b`)
}

// Config tunes the system handler.
type Config struct {
	// AllowExec enables spawning processes and changing the filesystem.
	AllowExec bool
	// AllowedApps restricts open/close to these names when non-empty.
	AllowedApps []string
	// WorkDir resolves relative folder paths. Empty means the home dir.
	WorkDir string
}

// Handler answers the system domain.
type Handler struct {
	cfg      Config
	runner   Runner
	launcher Runner
	goos     string
	logger   *slog.Logger
}

// New creates a system handler. A nil runner uses os/exec.
func New(cfg Config, runner Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	launcher := runner
	if runner == nil {
		runner = ExecRunner{}
		launcher = ExecRunner{Detach: true}
	}
	if cfg.WorkDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.WorkDir = home
		} else {
			cfg.WorkDir = "."
		}
	}
	return &Handler{
		cfg:      cfg,
		runner:   runner,
		launcher: launcher,
		goos:     runtime.GOOS,
		logger:   logger.With("component", "system"),
	}
}

// Operations implements dispatch.Operator.
func (h *Handler) Operations() []string {
	return []string{dispatch.OpExecuteCommand}
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(ctx context.Context, command string) (string, error) {
	return h.ExecuteCommand(ctx, command)
}

// ExecuteCommand maps command to a system action and performs it.
func (h *Handler) ExecuteCommand(ctx context.Context, command string) (string, error) {
	text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(command), ".!"))

	for _, p := range powerRes {
		if p.re.MatchString(text) {
			return h.run(ctx, h.runner, p.action, "", p.reply)
		}
	}

	if m := listRe.FindStringSubmatch(text); m != nil {
		return h.list(m[1])
	}
	if m := createRe.FindStringSubmatch(text); m != nil {
		return h.createFolder(m[1])
	}
	if m := deleteRe.FindStringSubmatch(text); m != nil {
		return h.deleteFolder(m[1])
	}
	if m := openRe.FindStringSubmatch(text); m != nil {
		app := strings.TrimSpace(m[1])
		if !h.appAllowed(app) {
			return fmt.Sprintf("I'm not allowed to open %s.", app), nil
		}
		return h.run(ctx, h.launcher, ActionOpen, app, fmt.Sprintf("Opening %s.", app))
	}
	if m := closeRe.FindStringSubmatch(text); m != nil {
		app := strings.TrimSpace(m[1])
		if !h.appAllowed(app) {
			return fmt.Sprintf("I'm not allowed to close %s.", app), nil
		}
		return h.run(ctx, h.runner, ActionClose, app, fmt.Sprintf("Closing %s.", app))
	}

	return "", fmt.Errorf("%w: %q", ErrUnrecognized, command)
}

// RunScript executes the script at path with the platform shell.
func (h *Handler) RunScript(ctx context.Context, path string) (string, error) {
	path = h.resolve(path)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("script %s: %w", path, err)
	}
	argv, err := commandLine(h.goos, ActionScript, path)
	if err != nil {
		return "", err
	}
	if !h.cfg.AllowExec {
		return dryRunPrefix + strings.Join(argv, " "), nil
	}

	h.logger.Info("running script", "path", path)
	out, err := h.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "Script finished with no output.", nil
	}
	return "Script finished: " + out, nil
}

func (h *Handler) run(ctx context.Context, r Runner, action Action, target, reply string) (string, error) {
	argv, err := commandLine(h.goos, action, target)
	if err != nil {
		return "", err
	}
	if !h.cfg.AllowExec {
		h.logger.Info("dry run", "action", action, "argv", argv)
		return dryRunPrefix + strings.Join(argv, " "), nil
	}

	h.logger.Info("executing", "action", action, "argv", argv)
	if _, err := r.Run(ctx, argv[0], argv[1:]...); err != nil {
		return "", fmt.Errorf("%s: %w", action, err)
	}
	return reply, nil
}

func (h *Handler) list(dir string) (string, error) {
	dir = h.resolve(strings.TrimSpace(dir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", dir, err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("%s is empty.", dir), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("Contents of %s: %s", dir, strings.Join(names, ", ")), nil
}

func (h *Handler) createFolder(name string) (string, error) {
	path := h.resolve(name)
	if !h.cfg.AllowExec {
		return fmt.Sprintf("Command execution is disabled. I would have created folder %s.", path), nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	h.logger.Info("folder created", "path", path)
	return fmt.Sprintf("Created folder %s.", path), nil
}

// deleteFolder removes only empty folders.
func (h *Handler) deleteFolder(name string) (string, error) {
	path := h.resolve(name)
	if !h.cfg.AllowExec {
		return fmt.Sprintf("Command execution is disabled. I would have deleted folder %s.", path), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("deleting %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Sprintf("%s is not a folder.", path), nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Sprintf("I couldn't delete %s. Is it empty?", path), nil
	}
	h.logger.Info("folder deleted", "path", path)
	return fmt.Sprintf("Deleted folder %s.", path), nil
}

func (h *Handler) resolve(p string) string {
	p = strings.Trim(strings.TrimSpace(p), `"'`)
	if p == "" || p == "." {
		return h.cfg.WorkDir
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(h.cfg.WorkDir, p)
}

func (h *Handler) appAllowed(app string) bool {
	if len(h.cfg.AllowedApps) == 0 {
		return true
	}
	for _, a := range h.cfg.AllowedApps {
		if strings.EqualFold(a, app) {
			return true
		}
	}
	return false
}
