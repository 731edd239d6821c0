package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/warden"
	"github.com/aretw0/warden/internal/presentation/tui"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/timeline"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk one operation through the governed lifecycle in the terminal",
	Long: `Creates a span from the operation catalog, shows its predicted diff, asks for the
contract and approvals it needs, executes it and prints the resulting timeline.

Example:
  warden demo --op kv.put --arg key=feature --arg value=on`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		op, _ := cmd.Flags().GetString("op")
		pairs, _ := cmd.Flags().GetStringArray("arg")
		user, _ := cmd.Flags().GetString("user")
		headless, _ := cmd.Flags().GetBool("headless")
		rollback, _ := cmd.Flags().GetBool("rollback")

		opArgs := make(map[string]any, len(pairs))
		for _, p := range pairs {
			k, v, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("--arg %q: expected key=value", p)
			}
			opArgs[k] = v
		}

		ctx := cmd.Context()
		st, err := build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close(ctx) }()
		w := st.warden

		ctx = domain.WithActor(ctx, domain.Actor{ID: user, Roles: []string{"operator"}})
		out := cmd.OutOrStdout()
		if tui.IsTerminal(os.Stdout) {
			tui.PrintBanner(out)
		}

		span, err := w.Create(ctx, warden.SpanRequest{Operation: op, Args: opArgs})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Span %s (%s)\n", span.ID, span.Type)

		runner := warden.Runner{
			Input:    cmd.InOrStdin(),
			Output:   out,
			Headless: headless,
			Renderer: tui.NewRenderer(os.Stdout),
		}
		_, runErr := runner.Run(ctx, w, span.ID)
		if runErr == nil && rollback {
			if err := w.Rollback(ctx, span.ID); err != nil {
				fmt.Fprintf(out, "Rollback: %v\n", err)
			} else {
				fmt.Fprintln(out, "Rolled back.")
			}
		}

		fmt.Fprintln(out)
		events := w.Timeline().QueryEvents(timeline.EventFilter{SpanID: span.ID})
		if err := tui.EventTable(out, events); err != nil {
			return err
		}
		if errors.Is(runErr, warden.ErrAborted) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().String("op", "kv.put", "Operation to run (see 'warden health' for the catalog)")
	demoCmd.Flags().StringArray("arg", []string{"key=feature", "value=on"}, "Operation argument as key=value (repeatable)")
	demoCmd.Flags().String("user", currentUser(), "Acting identity")
	demoCmd.Flags().Bool("headless", false, "Never prompt; stop when approval is required")
	demoCmd.Flags().Bool("rollback", false, "Roll the span back after it completes")
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}
