package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/voicekey"
	"github.com/loykin/voicekey/internal/auth"
)

func createConfigCommand(globalFlags *GlobalFlags, setFlags *ConfigSetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the stored configuration",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration with the API key masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdConfigShow(os.Stdout, globalFlags.ConfigPath)
		},
	}
	set := &cobra.Command{
		Use:   "set",
		Short: "Update the API key, hotkey or project ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdConfigSet(os.Stdout, globalFlags.ConfigPath, *setFlags)
		},
	}
	set.Flags().StringVar(&setFlags.APIKey, "api-key", "", "Deepgram API key")
	set.Flags().StringVar(&setFlags.Hotkey, "hotkey", "", "hotkey name, e.g. F13")
	set.Flags().StringVar(&setFlags.ProjectID, "project-id", "", "Deepgram project ID")
	token := &cobra.Command{
		Use:   "token",
		Short: "Generate a control API token and store its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdConfigToken(os.Stdout, globalFlags.ConfigPath)
		},
	}
	cmd.AddCommand(show, set, token)
	return cmd
}

func cmdConfigShow(w io.Writer, configPath string) error {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	cfg, err := voicekey.LoadConfig(path)
	if err != nil {
		return err
	}
	shown := *cfg
	shown.APIKey = maskKey(shown.APIKey)
	if shown.APITokenHash != "" {
		shown.APITokenHash = "****"
	}
	_, _ = fmt.Fprintf(w, "# %s\n", path)
	return writeJSON(w, shown)
}

func cmdConfigSet(w io.Writer, configPath string, flags ConfigSetFlags) error {
	if flags.APIKey == "" && flags.Hotkey == "" && flags.ProjectID == "" {
		return fmt.Errorf("nothing to set: use --api-key, --hotkey or --project-id")
	}
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	cfg, err := voicekey.LoadConfig(path)
	if err != nil {
		return err
	}
	if flags.APIKey != "" {
		cfg.APIKey = flags.APIKey
	}
	if flags.Hotkey != "" {
		cfg.HotkeyCode = flags.Hotkey
	}
	if flags.ProjectID != "" {
		cfg.ProjectID = flags.ProjectID
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "Configuration saved!")
	return nil
}

// cmdConfigToken prints a fresh token once; only its bcrypt hash is kept.
func cmdConfigToken(w io.Writer, configPath string) error {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	cfg, err := voicekey.LoadConfig(path)
	if err != nil {
		return err
	}
	tok, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(tok, 0)
	if err != nil {
		return err
	}
	cfg.APITokenHash = hash
	if err := cfg.Save(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s\n\nStore this token now; it is not shown again. Pass it with --api-token or VOICEKEY_API_TOKEN.\n", tok)
	return nil
}

func maskKey(k string) string {
	switch {
	case k == "":
		return ""
	case len(k) <= 4:
		return "****"
	default:
		return "****" + k[len(k)-4:]
	}
}
