// Command reconcile asks the payment provider for the current state of pending orders
// and applies whatever the webhook or return redirect missed.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/gitshopapp/checkout/app"
	"github.com/gitshopapp/checkout/internal/services"
)

func main() {
	fallbackLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cliApp := &cli.App{
		Name:  "reconcile",
		Usage: "sync pending orders with the payment provider",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "order", Usage: "reconcile a single order number, ignoring --hours"},
			&cli.IntFlag{Name: "hours", Value: 24, Usage: "look back this many hours for pending orders"},
			&cli.BoolFlag{Name: "dry-run", Usage: "report what would change without writing"},
			&cli.StringFlag{Name: "format", Value: "text", Usage: "output format: text, json or yaml"},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fallbackLogger.Error("reconcile failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	format := c.String("format")
	switch format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("--format must be one of text, json or yaml")
	}
	hours := c.Int("hours")
	if hours <= 0 {
		return fmt.Errorf("--hours must be positive")
	}

	application, err := app.New()
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := application.Reconciler.Run(ctx, services.ReconcileOptions{
		OrderNumber: c.String("order"),
		Window:      time.Duration(hours) * time.Hour,
		DryRun:      c.Bool("dry-run"),
		Trigger:     services.TriggerCLI,
	})
	if err != nil {
		return err
	}

	if err := writeReport(c.App.Writer, format, report); err != nil {
		return err
	}
	if report.Errors > 0 {
		return cli.Exit(fmt.Sprintf("%d orders could not be reconciled", report.Errors), 2)
	}
	return nil
}

func writeReport(w io.Writer, format string, report *services.ReconcileReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tTRANSACTION\tPROVIDER STATUS\tACTION\tERROR")
	for _, item := range report.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", item.OrderNumber, item.TransactionID, item.ProviderStatus, item.Action, item.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}
	_, err := fmt.Fprintf(w, "\nupdated=%d skipped=%d errors=%d%s\n", report.Updated, report.Skipped, report.Errors, mode)
	return err
}
