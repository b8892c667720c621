package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newHealthCmd creates `jarvis health`. It asks a running gateway first
// and falls back to assembling the assistant locally.
func newHealthCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check assistant health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			local, _ := cmd.Flags().GetBool("local")
			out := cmd.OutOrStdout()

			if !local {
				cfg, _, err := resolveConfig(cmd)
				if err != nil {
					return err
				}
				if cfg.Gateway.Enabled {
					report, err := remoteHealth(cmd.Context(), "http://"+cfg.Gateway.Address+"/health")
					if err == nil {
						fmt.Fprintf(out, "# gateway %s\n", cfg.Gateway.Address)
						return writeYAML(out, report)
					}
					fmt.Fprintf(out, "# gateway unreachable (%v), checking locally\n", err)
				}
			}

			a, _, _, err := buildAssistant(cmd, version, true)
			if err != nil {
				return err
			}
			defer a.Stop(5 * time.Second)
			h := a.Health(cmd.Context())
			if err := writeYAML(out, h); err != nil {
				return err
			}
			if h.Status != "ok" {
				return fmt.Errorf("assistant is %s", h.Status)
			}
			return nil
		},
	}
	cmd.Flags().Bool("local", false, "skip the gateway and check a local instance")
	return cmd
}

func remoteHealth(ctx context.Context, url string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var report map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding health: %w", err)
	}
	return report, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

// newVersionCmd creates `jarvis version`.
func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jarvis %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
