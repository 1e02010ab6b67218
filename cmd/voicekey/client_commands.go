package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	tlsx "github.com/loykin/voicekey/internal/tls"
	"github.com/loykin/voicekey/pkg/client"
)

type actionFunc func(*client.Client, context.Context) (client.ActionResult, error)

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "control surface URL of a running instance")
	cmd.Flags().StringVar(&flags.APIToken, "api-token", os.Getenv("VOICEKEY_API_TOKEN"), "bearer token for a protected instance")
	cmd.Flags().StringVar(&flags.APICA, "api-ca", "", "PEM file with the certificate of an https instance")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print raw JSON")
}

func newClient(flags APIFlags) (*client.Client, error) {
	cfg := client.Config{BaseURL: flags.APIUrl, Token: flags.APIToken, Timeout: flags.APITimeout}
	if flags.APICA != "" {
		tc, err := tlsx.ClientConfig(flags.APICA)
		if err != nil {
			return nil, err
		}
		cfg.TLS = tc
	}
	return client.New(cfg), nil
}

func createActionCommand(use, short string, fn actionFunc, flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdAction(cmd.Context(), os.Stdout, *flags, fn)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createToggleCommand(flags *APIFlags) *cobra.Command {
	return createActionCommand("toggle", "Toggle dictation on a running instance", (*client.Client).Toggle, flags)
}

func createStartCommand(flags *APIFlags) *cobra.Command {
	return createActionCommand("start", "Start dictation if idle", (*client.Client).Start, flags)
}

func createStopCommand(flags *APIFlags) *cobra.Command {
	return createActionCommand("stop", "Stop dictation if recording", (*client.Client).Stop, flags)
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the dictation status of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdStatus(cmd.Context(), os.Stdout, *flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createHistoryCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent dictation transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdHistory(cmd.Context(), os.Stdout, *flags)
		},
	}
	addAPIFlags(cmd, flags)
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "number of events")
	return cmd
}

func cmdAction(ctx context.Context, w io.Writer, flags APIFlags, fn actionFunc) error {
	c, err := newClient(flags)
	if err != nil {
		return err
	}
	res, err := fn(c, ctxOrBackground(ctx))
	if err != nil {
		return fmt.Errorf("is voicekey running? %w", err)
	}
	if flags.JSON {
		return writeJSON(w, res)
	}
	_, _ = fmt.Fprintf(w, "%s (%s)\n", res.Status, res.State)
	if !res.OK {
		return fmt.Errorf("%s", res.Status)
	}
	return nil
}

func cmdStatus(ctx context.Context, w io.Writer, flags APIFlags) error {
	c, err := newClient(flags)
	if err != nil {
		return err
	}
	st, err := c.Status(ctxOrBackground(ctx))
	if err != nil {
		return fmt.Errorf("is voicekey running? %w", err)
	}
	if flags.JSON {
		return writeJSON(w, st)
	}
	_, _ = fmt.Fprintf(w, "Status: %s\nState:  %s\n", st.Status, st.State)
	if st.PID != 0 {
		_, _ = fmt.Fprintf(w, "PID:    %d\n", st.PID)
	}
	if !st.APIKeySet {
		_, _ = fmt.Fprintln(w, "API key: not set")
	}
	return nil
}

func cmdHistory(ctx context.Context, w io.Writer, flags APIFlags) error {
	c, err := newClient(flags)
	if err != nil {
		return err
	}
	events, err := c.History(ctxOrBackground(ctx), flags.Limit)
	if err != nil {
		return fmt.Errorf("is voicekey running? %w", err)
	}
	if flags.JSON {
		return writeJSON(w, events)
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-12s %-8s", e.OccurredAt.Local().Format(time.DateTime), e.Type, e.Source)
		if e.PID != 0 {
			line += fmt.Sprintf(" pid=%d", e.PID)
		}
		if e.Outcome != "" {
			line += " outcome=" + e.Outcome + " after=" + e.Duration
		}
		if e.Error != "" {
			line += " error=" + e.Error
		}
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
