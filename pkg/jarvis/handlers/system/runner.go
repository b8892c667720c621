// Package system – runner.go runs OS commands for the system domain and
// maps abstract actions to per-platform command lines.
package system

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a command line and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds each command. Zero means 30s.
	Timeout time.Duration
	// Detach starts the process without waiting for it, for GUI apps.
	Detach bool
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.Detach {
		cmd := exec.Command(name, args...)
		if err := cmd.Start(); err != nil {
			return "", fmt.Errorf("starting %s: %w", name, err)
		}
		go func() { _ = cmd.Wait() }()
		return "", nil
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return out.String(), fmt.Errorf("%s timed out after %s", name, timeout)
		}
		return out.String(), fmt.Errorf("executing %s: %w", name, err)
	}
	return strings.TrimSpace(out.String()), nil
}

// Action is an abstract system action.
type Action string

const (
	ActionOpen     Action = "open"
	ActionClose    Action = "close"
	ActionShutdown Action = "shutdown"
	ActionRestart  Action = "restart"
	ActionLock     Action = "lock"
	ActionSleep    Action = "sleep"
	ActionScript   Action = "script"
)

// commandLine returns the argv for action on goos. target is the app name
// or script path where relevant.
func commandLine(goos string, action Action, target string) ([]string, error) {
	switch goos {
	case "windows":
		switch action {
		case ActionOpen:
			return []string{"cmd", "/c", "start", "", target}, nil
		case ActionClose:
			return []string{"taskkill", "/IM", target + ".exe", "/F"}, nil
		case ActionShutdown:
			return []string{"shutdown", "/s", "/t", "0"}, nil
		case ActionRestart:
			return []string{"shutdown", "/r", "/t", "0"}, nil
		case ActionLock:
			return []string{"rundll32.exe", "user32.dll,LockWorkStation"}, nil
		case ActionSleep:
			return []string{"rundll32.exe", "powrprof.dll,SetSuspendState", "0,1,0"}, nil
		case ActionScript:
			return []string{"cmd", "/c", target}, nil
		}
	case "darwin":
		switch action {
		case ActionOpen:
			return []string{"open", "-a", target}, nil
		case ActionClose:
			return []string{"osascript", "-e", fmt.Sprintf("quit app %q", target)}, nil
		case ActionShutdown:
			return []string{"osascript", "-e", `tell app "System Events" to shut down`}, nil
		case ActionRestart:
			return []string{"osascript", "-e", `tell app "System Events" to restart`}, nil
		case ActionLock:
			return []string{"pmset", "displaysleepnow"}, nil
		case ActionSleep:
			return []string{"pmset", "sleepnow"}, nil
		case ActionScript:
			return []string{"/bin/sh", target}, nil
		}
	default:
		switch action {
		case ActionOpen:
			return []string{target}, nil
		case ActionClose:
			return []string{"pkill", "-f", target}, nil
		case ActionShutdown:
			return []string{"systemctl", "poweroff"}, nil
		case ActionRestart:
			return []string{"systemctl", "reboot"}, nil
		case ActionLock:
			return []string{"loginctl", "lock-session"}, nil
		case ActionSleep:
			return []string{"systemctl", "suspend"}, nil
		case ActionScript:
			return []string{"/bin/sh", target}, nil
		}
	}
	return nil, fmt.Errorf("action %q not supported on %s", action, goos)
}
