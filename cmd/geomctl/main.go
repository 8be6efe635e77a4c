package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/geomsync/geomsync/internal/config"
	"github.com/geomsync/geomsync/internal/control/client"
	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/synth"
	"github.com/geomsync/geomsync/internal/ui/tui"
)

type options struct {
	socket     string
	timeout    time.Duration
	jsonOutput bool
	noColor    bool
}

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	keyColor     = color.New(color.FgYellow)
)

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		errorColor.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "geomctl",
		Short:         "Inspect and drive the geomsync daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor || !isTerminal(stdout) {
				color.NoColor = true
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	flags := root.PersistentFlags()
	flags.StringVar(&opts.socket, "socket", "", "path to geomsync control socket")
	flags.DurationVar(&opts.timeout, "timeout", 6*time.Second, "control request timeout")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print raw JSON payloads")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		statusCmd(opts),
		syncCmd(opts),
		flushCmd(opts),
		inspectCmd(opts),
		metricsCmd(opts),
		reloadCmd(opts),
		watchCmd(opts),
		checkCmd(),
	)
	return root
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w, or 0 when it is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func (o *options) client() (*client.Client, context.Context, context.CancelFunc, error) {
	cli, err := client.New(o.socket)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	return cli, ctx, cancel, nil
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler state and the last cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := opts.client()
			if err != nil {
				return err
			}
			defer cancel()
			status, err := cli.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, status)
			}
			printKV(out, "State", status.State)
			printKV(out, "Dirty", fmt.Sprint(status.Dirty))
			printKV(out, "Debounce", status.Debounce)
			printKV(out, "Windows", fmt.Sprint(status.Windows))
			printKV(out, "Displays", fmt.Sprint(status.Displays))
			printKV(out, "Secure surfaces", fmt.Sprint(status.Secure))
			if status.LastCycle != nil {
				keyColor.Fprintln(out, "Last cycle:")
				printCycle(out, *status.LastCycle)
			}
			return nil
		},
	}
}

func syncCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a synchronization cycle now",
		Long: `Runs a cycle immediately. An unchanged record set is skipped unless
--force is given, in which case the full set is redelivered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := opts.client()
			if err != nil {
				return err
			}
			defer cancel()
			rec, err := cli.Sync(ctx, force)
			if err != nil {
				return err
			}
			return reportCycle(cmd.OutOrStdout(), opts, rec)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "redeliver even when nothing changed")
	return cmd
}

func flushCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver an empty window set to the input service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := opts.client()
			if err != nil {
				return err
			}
			defer cancel()
			rec, err := cli.FlushEmpty(ctx)
			if err != nil {
				return err
			}
			return reportCycle(cmd.OutOrStdout(), opts, rec)
		},
	}
}

func inspectCmd(opts *options) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the last synthesized records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := opts.client()
			if err != nil {
				return err
			}
			defer cancel()
			snap, err := cli.Inspect(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, snap)
			}
			width := terminalWidth(out)
			for _, d := range snap.Displays {
				infoColor.Fprintf(out, "display %d %dx%d+%d+%d rot=%d density=%.2f\n",
					d.ID, d.Width, d.Height, d.X, d.Y, d.Rotation, d.Density)
			}
			if len(snap.Windows) == 0 {
				fmt.Fprintln(out, "No window records")
			}
			for _, r := range snap.Windows {
				fmt.Fprintln(out, truncate(formatRecord(r), width))
				for _, e := range r.EmbeddedRecords {
					fmt.Fprintln(out, truncate("  └ "+formatRecord(e), width))
				}
			}
			if history {
				keyColor.Fprintln(out, "History:")
				for _, rec := range snap.History {
					printCycle(out, rec)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "include the recent cycle history")
	return cmd
}

func metricsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show telemetry counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := opts.client()
			if err != nil {
				return err
			}
			defer cancel()
			snap, err := cli.Metrics(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, snap)
			}
			if !snap.Enabled {
				fmt.Fprintln(out, "Telemetry disabled (set telemetry.enabled in the config)")
				return nil
			}
			for _, c := range snap.Counters {
				printKV(out, string(c.Name), fmt.Sprint(c.Value))
			}
			for _, d := range snap.Displays {
				fmt.Fprintf(out, "display %d: %d deliveries, %d records\n", d.DisplayID, d.Deliveries, d.Records)
			}
			return nil
		},
	}
}

func reloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Trigger a live config reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := opts.client()
			if err != nil {
				return err
			}
			defer cancel()
			if err := cli.Reload(ctx); err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "Reload applied")
			return nil
		},
	}
}

func watchCmd(opts *options) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously render scheduler state, records and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := client.New(opts.socket)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}
			out := cmd.OutOrStdout()
			renderer := tui.New(cli, out)
			renderer.Refresh = interval
			renderer.Width = terminalWidth(out)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := renderer.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "refresh interval")
	return cmd
}

func checkCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runCheck(configPath string, stdout, stderr io.Writer) error {
	lintErrs, err := config.LintFile(configPath)
	if err != nil {
		return err
	}
	if len(lintErrs) == 0 {
		successColor.Fprintln(stdout, "Configuration OK")
		return nil
	}
	fmt.Fprintf(stderr, "Configuration has %d issue(s):\n", len(lintErrs))
	for _, lintErr := range lintErrs {
		fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
	}
	return fmt.Errorf("configuration validation failed")
}

func reportCycle(out io.Writer, opts *options, rec client.CycleRecord) error {
	if opts.jsonOutput {
		return printJSON(out, rec)
	}
	printCycle(out, rec)
	return nil
}

func printCycle(out io.Writer, rec client.CycleRecord) {
	c := infoColor
	switch rec.Outcome {
	case engine.CycleOutcomeDelivered:
		c = successColor
	case engine.CycleOutcomeFailed:
		c = errorColor
	}
	c.Fprintf(out, "  %-9s", rec.Outcome)
	fmt.Fprintf(out, " %s %s windows=%d batches=%d %s", rec.Mode, shortID(rec.ID), rec.Windows, rec.Batches, rec.Duration)
	if rec.Error != "" {
		fmt.Fprintf(out, " error=%s", rec.Error)
	}
	fmt.Fprintln(out)
}

func formatRecord(r synth.WindowRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "window %d pid=%d display=%d z=%.3f rect=%dx%d+%d+%d hot=%d",
		r.ID, r.OwnerPID, r.DisplayID, r.ZOrder,
		r.ScreenRect.Width, r.ScreenRect.Height, r.ScreenRect.X, r.ScreenRect.Y, r.HotAreaCount())
	if r.RoutingTargetID != r.ID || r.RoutingTargetPID != r.OwnerPID {
		fmt.Fprintf(&b, " -> %d/%d", r.RoutingTargetID, r.RoutingTargetPID)
	}
	if r.Flags != 0 {
		fmt.Fprintf(&b, " [%s]", r.Flags)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}
	if width <= 1 {
		return s[:width]
	}
	return s[:width-1] + "…"
}

func printKV(out io.Writer, key, value string) {
	keyColor.Fprintf(out, "%s: ", key)
	fmt.Fprintln(out, value)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
