package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/secrets"
)

// newKeysCmd creates `jarvis keys` for managing credentials in the OS keyring.
func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage credentials in the OS keyring",
		Long: `Store or remove credentials in the operating system keyring. The
keyring takes priority over environment variables and the config file.

Examples:
  jarvis keys set            # prompts for the LLM API key
  jarvis keys delete api_key`,
	}
	cmd.AddCommand(newKeysSetCmd(), newKeysDeleteCmd())
	return cmd
}

func newKeysSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [name]",
		Short: "Store a secret (default: api_key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := keyName(args)
			kr, err := openKeyring()
			if err != nil {
				return err
			}
			value, err := secrets.ReadPassword(fmt.Sprintf("Value for %s (hidden): ", name))
			if err != nil {
				return err
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return errors.New("empty value, nothing stored")
			}
			if err := kr.Set(name, value); err != nil {
				return fmt.Errorf("storing %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored in the OS keyring.\n", name)
			return nil
		},
	}
}

func newKeysDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Remove a secret (default: api_key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := keyName(args)
			kr, err := openKeyring()
			if err != nil {
				return err
			}
			if err := kr.Delete(name); err != nil {
				return fmt.Errorf("deleting %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed.\n", name)
			return nil
		},
	}
}

func keyName(args []string) string {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return secrets.KeyAPIKey
	}
	return strings.TrimSpace(args[0])
}

func openKeyring() (*secrets.Keyring, error) {
	kr := secrets.NewKeyring(secrets.Service)
	if !kr.Available() {
		return nil, errors.New("no OS keyring available on this host; use the " +
			"JARVIS_API_KEY environment variable instead")
	}
	return kr, nil
}
