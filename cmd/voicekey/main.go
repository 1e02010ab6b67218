package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}
	configFlags := &ConfigSetFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createToggleCommand(apiFlags),
		createStartCommand(apiFlags),
		createStopCommand(apiFlags),
		createStatusCommand(apiFlags),
		createHistoryCommand(apiFlags),
		createConfigCommand(globalFlags, configFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "voicekey",
		Short: "Hotkey-driven dictation controller",
		Long: `voicekey starts and stops the voice-keyboard speech worker on a global
hotkey press or a request to its local control surface.

Examples:
  voicekey run                         # listen for the hotkey and serve the API
  voicekey toggle                      # flip dictation on a running instance
  voicekey config set --api-key=KEY    # store the Deepgram API key`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to JSON config file (default: user config dir)")
	return root
}
