package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

type reportStore interface {
	StoreReconcileReport(ctx context.Context, runID string, at time.Time, report []byte) (string, error)
}

type sweepFlags struct {
	olderThan time.Duration
	limit     int
	dryRun    bool
	asJSON    bool
}

func sweepCmd() *cobra.Command {
	var flags sweepFlags
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply the provider outcome of card orders still awaiting payment",
		Long: `Lists card orders that are still pending payment and older than --older-than,
looks up their payment intent at the provider and applies final outcomes through the same
path as webhooks. Orders whose intent is still open are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := sess.Close(); err == nil {
					err = closeErr
				}
			}()
			var reports reportStore
			if sess.container.Reports != nil {
				reports = sess.container.Reports
			}
			return runSweep(cmd.Context(), sess.container.Services.Reconcile, reports, flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&flags.olderThan, "older-than", 0, "only orders last updated before now minus this age (default from API_RECONCILE_OLDER_THAN)")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 0, "maximum orders per sweep (default from API_RECONCILE_BATCH_SIZE)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "report what would be applied without changing orders")
	cmd.Flags().BoolVarP(&flags.asJSON, "json", "j", false, "output as JSON")
	return cmd
}

type sweepOutput struct {
	RunID     string               `json:"runId"`
	DryRun    bool                 `json:"dryRun"`
	Scanned   int                  `json:"scanned"`
	Applied   int                  `json:"applied"`
	Pending   int                  `json:"pending"`
	Errors    int                  `json:"errors"`
	Items     []services.SweepItem `json:"items"`
	ReportURI string               `json:"reportUri,omitempty"`
}

func runSweep(ctx context.Context, svc services.ReconcileService, reports reportStore, flags sweepFlags, out io.Writer) error {
	started := time.Now().UTC()
	report, sweepErr := svc.Sweep(ctx, services.SweepOptions{
		OlderThan: flags.olderThan,
		Limit:     flags.limit,
		DryRun:    flags.dryRun,
	})

	output := sweepOutput{
		RunID:   ulid.Make().String(),
		DryRun:  flags.dryRun,
		Scanned: report.Scanned,
		Applied: report.Applied,
		Pending: report.Pending,
		Errors:  report.Errors,
		Items:   report.Items,
	}
	if output.Items == nil {
		output.Items = []services.SweepItem{}
	}

	if reports != nil && !flags.dryRun {
		data, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("encode sweep report: %w", err)
		}
		uri, err := reports.StoreReconcileReport(context.WithoutCancel(ctx), output.RunID, started, data)
		if err != nil {
			fmt.Fprintf(out, "warning: sweep report not archived: %v\n", err)
		}
		output.ReportURI = uri
	}

	if flags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(output); err != nil {
			return err
		}
	} else {
		renderSweep(out, output)
	}

	if sweepErr != nil {
		return fmt.Errorf("sweep interrupted: %w", sweepErr)
	}
	if output.Errors > 0 {
		return fmt.Errorf("sweep finished with %d errors", output.Errors)
	}
	return nil
}

func renderSweep(out io.Writer, output sweepOutput) {
	mode := "apply"
	if output.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(out, "Sweep %s (%s)\n", output.RunID, mode)
	fmt.Fprintf(out, "  scanned %d, applied %d, pending %d, errors %d\n", output.Scanned, output.Applied, output.Pending, output.Errors)
	if output.ReportURI != "" {
		fmt.Fprintf(out, "  report  %s\n", output.ReportURI)
	}
	if len(output.Items) == 0 {
		return
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tINTENT\tPROVIDER STATUS\tOUTCOME\tERROR")
	for _, item := range output.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", orderLabel(item), dash(item.IntentID), dash(item.IntentStatus), item.Outcome, dash(item.Error))
	}
	_ = tw.Flush()
}

func orderLabel(item services.SweepItem) string {
	if item.OrderNumber != "" {
		return item.OrderNumber
	}
	return item.OrderID
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
