package main

import (
	"context"
	"fmt"
	"os"

	"AGEPayments/internal/app"
	"AGEPayments/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "settlectl",
		Short:        "Operate payment orders, licenses and exchange rates",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	env := &cliEnv{configPath: &configPath}
	rootCmd.AddCommand(reconcileCmd(env))
	rootCmd.AddCommand(ordersCmd(env))
	rootCmd.AddCommand(licensesCmd(env))
	rootCmd.AddCommand(ratesCmd(env))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cliEnv struct {
	configPath *string
}

// run builds the application for one command and tears it down after.
func (e *cliEnv) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(*e.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, app.NewLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
