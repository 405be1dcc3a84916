package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"AGEPayments/internal/app"
	"AGEPayments/internal/models"

	"github.com/spf13/cobra"
)

func reconcileCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [orderId]",
		Short: "Ask the order's gateway for its status and apply it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				order, err := a.Reconciler.Reconcile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", order.ID, order.Status)
				return nil
			})
		},
	}
}

func ordersCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and settle orders",
	}

	var note string
	settle := &cobra.Command{
		Use:   "settle [orderId]",
		Short: "Mark a manual-transfer order paid and run its settlement effects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if note == "" {
				return errors.New("--note is required")
			}
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				order, err := a.Reconciler.SettleManually(ctx, args[0], note)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", order.ID, order.Status)
				return nil
			})
		},
	}
	settle.Flags().StringVarP(&note, "note", "n", "", "what the transfer was checked against")

	replay := &cobra.Command{
		Use:   "replay [orderId]",
		Short: "Re-run settlement effects for a paid order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				results, err := a.Reconciler.ReplayEffects(ctx, args[0])
				if err != nil {
					return err
				}
				failed := 0
				for _, r := range results {
					status := "ok"
					if r.Err != nil {
						status = r.Err.Error()
						failed++
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", r.Name, status)
				}
				if failed > 0 {
					return fmt.Errorf("%d effects failed", failed)
				}
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show [orderId]",
		Short: "Print an order with its history, license and commission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				return showOrder(ctx, cmd.OutOrStdout(), a, args[0])
			})
		},
	}

	var expiry time.Duration
	proofsCmd := &cobra.Command{
		Use:   "proofs [orderId]",
		Short: "List uploaded transfer proofs with download links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				if a.Proofs == nil {
					return errors.New("proof storage is not configured")
				}
				links, err := a.Proofs.Links(ctx, args[0], expiry)
				if err != nil {
					return err
				}
				if len(links) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no proofs uploaded")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "UPLOADED\tTYPE\tSIZE\tURL")
				for _, l := range links {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", l.Proof.CreatedAt.Format(time.RFC3339), l.Proof.ContentType, l.Proof.Size, l.URL)
				}
				return w.Flush()
			})
		},
	}
	proofsCmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "lifetime of the presigned links")

	cmd.AddCommand(settle, replay, show, proofsCmd)
	return cmd
}

func showOrder(ctx context.Context, out io.Writer, a *app.App, orderID string) error {
	order, err := a.Store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "order\t%s\n", order.ID)
	fmt.Fprintf(w, "status\t%s\n", order.Status)
	fmt.Fprintf(w, "purchasable\t%s/%s\n", order.Purchasable.Kind, order.Purchasable.ID)
	fmt.Fprintf(w, "owner\t%s\n", order.OwnerID)
	fmt.Fprintf(w, "amount\t%s (%s %s at %s)\n", order.Amount, order.SettlementAmount, order.SettlementCurrency, order.ExchangeRate)
	fmt.Fprintf(w, "provider\t%s\n", order.PaymentProvider)
	if order.ProviderTransactionID != nil {
		fmt.Fprintf(w, "transaction\t%s\n", *order.ProviderTransactionID)
	}
	fmt.Fprintf(w, "attempts\t%d\n", order.Attempts)
	if order.PaidAt != nil {
		fmt.Fprintf(w, "paid at\t%s\n", order.PaidAt.Format(time.RFC3339))
	}
	if lic, err := a.Store.GetLicenseByOrder(ctx, order.ID); err == nil {
		fmt.Fprintf(w, "license\t%s (%s, %d/%d)\n", lic.Key, lic.Status, lic.CurrentActivations, lic.MaxActivations)
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if c, err := a.Store.GetCommissionByOrder(ctx, order.ID); err == nil {
		fmt.Fprintf(w, "commission\t%s to %s (%s)\n", c.Amount, c.AffiliateID, c.Status)
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	events, err := a.Store.ListEvents(ctx, order.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tEVENT\tCHANGE")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n", ev.CreatedAt.Format(time.RFC3339), ev.Kind, describe(ev))
	}
	return w.Flush()
}

func describe(ev models.OrderEvent) string {
	switch {
	case ev.FromStatus != nil && ev.ToStatus != nil:
		return fmt.Sprintf("%s -> %s", *ev.FromStatus, *ev.ToStatus)
	case ev.OldAmount != nil && ev.NewAmount != nil:
		return fmt.Sprintf("%s -> %s", ev.OldAmount, ev.NewAmount)
	case len(ev.Detail) > 0:
		return string(ev.Detail)
	}
	return ""
}
