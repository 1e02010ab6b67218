package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/voicekey"
	"github.com/loykin/voicekey/internal/logger"
)

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dictation controller",
		Long: `Run the dictation controller in the foreground. The configured hotkey
toggles dictation; the HTTP control surface accepts the same requests.
SIGINT or SIGTERM stops any running worker before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *runFlags)
		},
	}
	cmd.Flags().BoolVar(&runFlags.NoHotkey, "no-hotkey", false, "disable the global hotkey listener")
	cmd.Flags().StringVar(&runFlags.Listen, "listen", "", "override the control surface address (empty keeps config)")
	return cmd
}

func runServe(ctx context.Context, flags RunFlags) error {
	path, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := voicekey.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}

	closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	if err := voicekey.RegisterMetricsDefault(); err != nil {
		fmt.Printf("Warning: failed to register metrics: %v\n", err)
	}

	app, err := voicekey.NewApp(cfg, voicekey.Options{
		ConfigPath:    path,
		DisableHotkey: flags.NoHotkey,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Starting voicekey (config %s)\n", path)
	err = app.Run(ctx)
	fmt.Println("Shut down.")
	return err
}

func resolveConfigPath(p string) (string, error) {
	if p != "" {
		return p, nil
	}
	return voicekey.DefaultConfigPath()
}
