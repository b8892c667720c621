package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newListenCmd creates `jarvis listen`, the wake-word loop over stdin.
func newListenCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Run the wake-word loop on stdin",
		Long: `Read utterances line by line from stdin, typically piped from a
speech recognizer, and answer those that start with the wake word.

Examples:
  jarvis listen
  my-stt-tool | jarvis listen`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, _, err := buildAssistant(cmd, version, true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.Start(ctx); err != nil {
				return err
			}
			defer a.Stop(5 * time.Second)

			out := cmd.OutOrStdout()
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintf(out, "Say %q followed by a command. Ctrl+D to stop.\n", a.Config().Voice.WakeWord)
			}
			l := a.NewListener(cmd.InOrStdin(), func(command, reply string) {
				fmt.Fprintf(out, "> %s\n%s\n", command, reply)
			})
			return l.Run(ctx)
		},
	}
}
