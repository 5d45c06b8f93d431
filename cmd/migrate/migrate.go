// Package migrate implements the `lakeshift migrate` command.
package migrate

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/lakeshift/lakeshift/cmd/connect"
	"github.com/lakeshift/lakeshift/config"
	"github.com/lakeshift/lakeshift/migration/migrator"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the table store to a target schema version",
	Long: `Migrate the table store to a target schema version.

Reads the current version from the store's version table, then applies
the upgrade script of every version between the current and the target
in ascending order (or, with --allow-downgrade, the downgrade scripts in
descending order). The whole run holds the version lock; a failed step
leaves the lock set so the store can be inspected before anything else
runs against it.

Migration scripts live in one directory per version:

  migrations/v1/upgrade.sql
  migrations/v1/downgrade.sql
  migrations/v2/upgrade.sql
  ...

Scripts are rendered as templates before execution; {{.database_location}}
expands to the configured database_location.`,
	RunE: migrateCommand,
}

const (
	configFlag         = "config"
	targetFlag         = "target"
	migrationsDirFlag  = "migrations-dir"
	allowDowngradeFlag = "allow-downgrade"
)

var migrateFlags = map[string]cobraflags.Flag{
	configFlag: &cobraflags.StringFlag{
		Name:  configFlag,
		Value: "",
		Usage: "Path to the lakeshift configuration file",
	},
	targetFlag: &cobraflags.IntFlag{
		Name:  targetFlag,
		Value: 0,
		Usage: "Target schema version (required)",
	},
	migrationsDirFlag: &cobraflags.StringFlag{
		Name:  migrationsDirFlag,
		Value: "./migrations",
		Usage: "Directory containing the per-version migration scripts",
	},
	allowDowngradeFlag: &cobraflags.BoolFlag{
		Name:  allowDowngradeFlag,
		Value: false,
		Usage: "Allow downgrading when the current version is above the target",
	},
}

func NewMigrateCommand() *cobra.Command {
	cobraflags.RegisterMap(migrateCmd, migrateFlags)
	_ = migrateCmd.MarkFlagRequired(targetFlag)
	return migrateCmd
}

func migrateCommand(cmd *cobra.Command, _ []string) error {
	target := migrateFlags[targetFlag].GetInt()
	if target < 0 {
		return fmt.Errorf("target version must be >= 0, got %d", target)
	}

	cfg, err := config.Load(migrateFlags[configFlag].GetString())
	if err != nil {
		return err
	}

	logger := slog.Default()
	ctx := cmd.Context()

	store, closeStore, err := connect.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	provider, err := migrator.NewFSProvider(os.DirFS(migrateFlags[migrationsDirFlag].GetString()))
	if err != nil {
		return err
	}

	gate := migrator.NewGate(store, migrator.GateOptions{
		Table:       cfg.VersionTable,
		MaxAttempts: cfg.Lock.MaxAttempts,
		Delay:       cfg.Lock.Delay,
		Logger:      logger,
	})

	args := map[string]string{"database_location": cfg.DatabaseLocation}
	runner, err := migrator.NewRunner(store, provider, gate, args)
	if err != nil {
		return err
	}
	return runner.WithLogger(logger).Migrate(ctx, target, migrateFlags[allowDowngradeFlag].GetBool())
}
