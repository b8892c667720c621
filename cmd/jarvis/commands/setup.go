package commands

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/config"
	"github.com/jholhewres/jarvis/pkg/jarvis/secrets"
)

// newSetupCmd creates `jarvis setup`, the interactive configuration wizard.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Walk through the essentials (assistant name, chat backend, voice and
gateway) and write a configuration file. An API key entered here goes to
the OS keyring, never to the file.

Examples:
  jarvis setup
  jarvis setup --output ~/.jarvis/config.yaml`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", defaultConfigFile, "where to write the configuration")
	return cmd
}

// setupAnswers holds what the wizard collects.
type setupAnswers struct {
	Name           string
	Provider       string
	Model          string
	APIKey         string
	VoiceEnabled   bool
	WakeWord       string
	GatewayEnabled bool
	GatewayAddress string
	AuthToken      string
}

func defaultAnswers(cfg *config.Config) setupAnswers {
	return setupAnswers{
		Name:           cfg.Name,
		Provider:       cfg.Chat.Provider,
		Model:          cfg.Chat.Model,
		VoiceEnabled:   cfg.Voice.Enabled,
		WakeWord:       cfg.Voice.WakeWord,
		GatewayEnabled: cfg.Gateway.Enabled,
		GatewayAddress: cfg.Gateway.Address,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("output")
	cfg := config.DefaultConfig()
	ans := defaultAnswers(cfg)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Jarvis setup").
				Description("Answers are written to "+path+". Press Enter to keep a default."),
			huh.NewInput().
				Title("Assistant name").
				Value(&ans.Name).
				Validate(required("name")),
			huh.NewSelect[string]().
				Title("Chat backend").
				Description("Used when no other domain matches a command.").
				Options(
					huh.NewOption("Built-in canned replies", "canned"),
					huh.NewOption("OpenAI-compatible API", "openai"),
				).
				Value(&ans.Provider),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Model").
				Value(&ans.Model).
				Validate(required("model")),
			huh.NewInput().
				Title("API key").
				Description("Stored in the OS keyring. Leave empty to use $"+config.EnvAPIKey+".").
				EchoMode(huh.EchoModePassword).
				Value(&ans.APIKey),
		).WithHideFunc(func() bool { return ans.Provider != "openai" }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Speak replies out loud?").
				Value(&ans.VoiceEnabled),
			huh.NewInput().
				Title("Wake word").
				Value(&ans.WakeWord).
				Validate(required("wake word")),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the HTTP/WebSocket gateway?").
				Value(&ans.GatewayEnabled),
			huh.NewInput().
				Title("Gateway address").
				Value(&ans.GatewayAddress).
				Validate(validAddress),
			huh.NewInput().
				Title("Gateway auth token").
				Description("Required when listening beyond localhost. Leave empty for none.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.AuthToken),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled.")
			return nil
		}
		return err
	}

	applySetup(cfg, ans)
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ans.APIKey != "" {
		if err := storeAPIKey(ans.APIKey); err != nil {
			fmt.Fprintf(out, "Could not store the API key (%v). Set $%s instead.\n", err, config.EnvAPIKey)
		} else {
			fmt.Fprintln(out, "API key stored in the OS keyring.")
		}
	}

	if err := config.SaveConfigToFile(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Configuration written to %s. Start with: jarvis serve -c %s\n", path, path)
	return nil
}

// applySetup copies wizard answers into cfg. The API key never goes into
// the file.
func applySetup(cfg *config.Config, ans setupAnswers) {
	cfg.Name = strings.TrimSpace(ans.Name)
	cfg.Chat.Provider = ans.Provider
	cfg.Chat.Model = strings.TrimSpace(ans.Model)
	cfg.Chat.APIKey = "${" + config.EnvAPIKey + "}"
	cfg.Voice.Enabled = ans.VoiceEnabled
	cfg.Reasoning.SpeakReplies = ans.VoiceEnabled
	cfg.Voice.WakeWord = strings.ToLower(strings.TrimSpace(ans.WakeWord))
	cfg.Gateway.Enabled = ans.GatewayEnabled
	cfg.Gateway.Address = strings.TrimSpace(ans.GatewayAddress)
	cfg.Gateway.AuthToken = ans.AuthToken
}

func storeAPIKey(key string) error {
	kr := secrets.NewKeyring(secrets.Service)
	if !kr.Available() {
		return errors.New("no OS keyring available")
	}
	return kr.Set(secrets.KeyAPIKey, key)
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validAddress(s string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("expected host:port: %w", err)
	}
	return nil
}
