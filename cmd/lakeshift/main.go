// Command lakeshift manages schema migrations and table rebuilds for
// append-only analytic tables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lakeshift/lakeshift/cmd/migrate"
	"github.com/lakeshift/lakeshift/cmd/rebuild"
)

var rootCmd = &cobra.Command{
	Use:           "lakeshift",
	Short:         "Schema evolution for catalog-backed analytic tables",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(migrate.NewMigrateCommand())
	rootCmd.AddCommand(rebuild.NewRebuildCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
