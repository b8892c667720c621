package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
)

// newScheduleCmd creates `jarvis schedule` for managing recurring tasks.
func newScheduleCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled tasks",
		Long: `List, add and cancel tasks in the persisted schedule. A running
"jarvis serve" picks up changes on its next start.

Schedule types and time formats:
  once     "2006-01-02 15:04"
  daily    "HH:MM"
  weekly   "<weekday> HH:MM"
  monthly  "<day> HH:MM"
  cron     standard 5-field cron expression

Examples:
  jarvis schedule list
  jarvis schedule add daily 09:00 "what's the news"
  jarvis schedule add weekly "monday 08:30" "open calendar" --name standup
  jarvis schedule cancel standup_1773131400000`,
	}

	cmd.AddCommand(
		newScheduleListCmd(version),
		newScheduleAddCmd(version),
		newScheduleCancelCmd(version),
	)
	return cmd
}

// withSchedule builds an assistant, loads the persisted schedule and runs
// fn against it. The scheduler loop is never started.
func withSchedule(cmd *cobra.Command, version string, fn func(*scheduler.Scheduler) error) error {
	a, _, _, err := buildAssistant(cmd, version, true)
	if err != nil {
		return err
	}
	defer a.Stop(5 * time.Second)

	if a.Config().Scheduler.Storage == "none" {
		return fmt.Errorf("scheduler.storage is \"none\"; tasks are not persisted outside \"jarvis serve\"")
	}
	if err := a.Scheduler().Load(); err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}
	return fn(a.Scheduler())
}

func newScheduleListCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			return withSchedule(cmd, version, func(s *scheduler.Scheduler) error {
				return printTasks(cmd.OutOrStdout(), s.List(), output)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "table", "output format: table or yaml")
	return cmd
}

func newScheduleAddCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <type> <time> <command>",
		Short: "Add a scheduled task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = args[2]
			}
			typ := scheduler.ScheduleType(strings.ToLower(args[0]))
			repeat := typ != scheduler.Once
			if cmd.Flags().Changed("repeat") {
				repeat, _ = cmd.Flags().GetBool("repeat")
			}
			return withSchedule(cmd, version, func(s *scheduler.Scheduler) error {
				t, err := s.ScheduleTask(name, args[2], typ, args[1], repeat)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s (next run %s)\n", t.ID, t.NextRun.Format("2006-01-02 15:04"))
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "task name (defaults to the command)")
	cmd.Flags().Bool("repeat", true, "keep the task after it runs (ignored for once)")
	return cmd
}

func newScheduleCancelCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:     "cancel <id>",
		Aliases: []string{"remove", "rm"},
		Short:   "Cancel a scheduled task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchedule(cmd, version, func(s *scheduler.Scheduler) error {
				if err := s.Cancel(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
				return nil
			})
		},
	}
}

func printTasks(w io.Writer, list []*scheduler.Task, format string) error {
	switch format {
	case "yaml":
		if list == nil {
			list = []*scheduler.Task{}
		}
		return writeYAML(w, map[string]any{"tasks": list})
	case "table", "":
		if len(list) == 0 {
			fmt.Fprintln(w, "No scheduled tasks.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSCHEDULE\tNEXT RUN\tSTATUS\tCOMMAND")
		for _, t := range list {
			fmt.Fprintf(tw, "%s\t%s %s\t%s\t%s\t%s\n",
				t.ID, t.Type, t.Time, t.NextRun.Format("2006-01-02 15:04"), t.Status, t.Command)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
