package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/config"
)

// cliSession is the reasoning session used by chat and schedule commands.
const cliSession = "cli"

// newChatCmd creates `jarvis chat` for single commands or an interactive
// session.
func newChatCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant",
		Long: `Send one command, or start an interactive session when no message
is given. Type "exit" or press Ctrl+D to leave.

Examples:
  jarvis chat "what time is it"
  jarvis chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, args, version)
		},
	}
}

func runChat(cmd *cobra.Command, args []string, version string) error {
	a, _, _, err := buildAssistant(cmd, version, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(5 * time.Second)

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		fmt.Fprintln(out, a.Process(ctx, cliSession, args[0]))
		return nil
	}

	historyFile := ""
	if dir := config.DataDir(); os.MkdirAll(dir, 0o700) == nil {
		historyFile = filepath.Join(dir, "chat_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting prompt: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(out, "%s is listening. Type \"exit\" to quit.\n", a.Config().Name)
	return chatLoop(ctx, rl, out, func(ctx context.Context, line string) string {
		return a.Process(ctx, cliSession, line)
	})
}

// lineReader is the part of readline.Instance the loop needs.
type lineReader interface {
	Readline() (string, error)
}

// chatLoop reads lines until exit, EOF or an interrupt on an empty line.
func chatLoop(ctx context.Context, r lineReader, out io.Writer, process func(context.Context, string) string) error {
	for {
		line, err := r.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		fmt.Fprintf(out, "jarvis> %s\n", process(ctx, line))
		if ctx.Err() != nil {
			return nil
		}
	}
}
