package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

func showCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <order-id|order-number>",
		Short: "Show an order with its status history and notification markers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			key, err := domain.ParseOrderKey(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := sess.Close(); err == nil {
					err = closeErr
				}
			}()
			return runShow(cmd.Context(), sess.container.Services.Orders, sess.container.Store.Notifications(), key, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

type showOutput struct {
	Order         domain.Order                `json:"order"`
	Notifications []domain.NotificationRecord `json:"notifications"`
}

func runShow(ctx context.Context, orders services.OrderService, outbox repositories.NotificationOutbox, key domain.OrderKey, asJSON bool, out io.Writer) error {
	order, err := orders.GetOrder(ctx, key)
	if err != nil {
		return fmt.Errorf("load order %s: %w", key.Value, err)
	}
	records, err := outbox.ListNotifications(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	if records == nil {
		records = []domain.NotificationRecord{}
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(showOutput{Order: order, Notifications: records})
	}
	renderOrder(out, order, records)
	return nil
}

func renderOrder(out io.Writer, order domain.Order, records []domain.NotificationRecord) {
	fmt.Fprintf(out, "Order %s (%s)\n", order.Number, order.ID)
	fmt.Fprintf(out, "  status   %s / payment %s\n", order.Status, order.PaymentStatus)
	fmt.Fprintf(out, "  method   %s\n", order.PaymentMethod)
	if order.PaymentIntentID != "" {
		fmt.Fprintf(out, "  intent   %s\n", order.PaymentIntentID)
	}
	fmt.Fprintf(out, "  total    %s %s\n", order.Totals.Total, order.Currency)
	fmt.Fprintf(out, "  version  %d, updated %s\n", order.Version, order.UpdatedAt.UTC().Format(time.RFC3339))

	fmt.Fprintln(out, "\nHistory:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, entry := range order.StatusHistory {
		fmt.Fprintf(tw, "  %s\t%s/%s\t%s\t%s\n", entry.At.UTC().Format(time.RFC3339), entry.Status, entry.PaymentStatus, dash(entry.EventID), entry.Note)
	}
	_ = tw.Flush()

	fmt.Fprintln(out, "\nNotifications:")
	if len(records) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, record := range records {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", record.Kind, record.State, dash(record.MessageID), dash(record.Error))
	}
	_ = tw.Flush()
}
