package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"AGEPayments/internal/app"
	"AGEPayments/internal/fx"

	"github.com/spf13/cobra"
)

func licensesCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "licenses",
		Short: "Manage issued licenses",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "regenerate [orderId]",
		Short: "Replace an order's license key and reset its activations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				lic, err := a.Licenses.Regenerate(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), lic.Key)
				return nil
			})
		},
	})
	return cmd
}

func ratesCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Inspect and refresh exchange rates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch new rates from the configured provider and persist them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				a.Rates.Warm(ctx)
				snap, err := a.Rates.ForceRefresh(ctx)
				if err != nil {
					return err
				}
				return printSnapshot(cmd, snap)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last persisted snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) error {
				if !a.Rates.Warm(ctx) {
					fmt.Fprintln(cmd.OutOrStdout(), "no rates stored")
					return nil
				}
				snap, _ := a.Rates.Snapshot()
				return printSnapshot(cmd, snap)
			})
		},
	})
	return cmd
}

func printSnapshot(cmd *cobra.Command, snap fx.Snapshot) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "base\t%s\n", snap.Base)
	fmt.Fprintf(w, "source\t%s\n", snap.Source)
	fmt.Fprintf(w, "as of\t%s (%s ago)\n", snap.LastUpdated.Format(time.RFC3339), time.Since(snap.LastUpdated).Round(time.Second))
	codes := make([]string, 0, len(snap.Rates))
	for code := range snap.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "%s\t%s\n", code, snap.Rates[code])
	}
	return w.Flush()
}
