// Package rebuild implements the `lakeshift rebuild` command.
package rebuild

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/lakeshift/lakeshift/cmd/connect"
	"github.com/lakeshift/lakeshift/config"
	"github.com/lakeshift/lakeshift/migration/rebuild"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Restructure a table via backup/drop/rebuild",
	Long: `Restructure a table via backup/drop/rebuild.

Emulates ALTER TABLE ... AS SELECT on engines that support neither
UPDATE nor ALTER: the table is copied to a backup twin, dropped,
recreated from the --create-sql script and repopulated from the backup
through the --insert-sql script, in partition chunks of --chunk-size.

The insert script must contain exactly one {{.chunk}} marker in its
where clause:

  insert into events
  select *
  from events__backup
  where {{.chunk}}

When the rebuild changes the partition keys so one old partition maps to
many new ones, lower --chunk-size so each statement stays under the
engine's partition limit; chunks are always computed against the old
partition structure.`,
	RunE: rebuildCommand,
}

const (
	configFlag    = "config"
	tableFlag     = "table"
	createSQLFlag = "create-sql"
	insertSQLFlag = "insert-sql"
	chunkSizeFlag = "chunk-size"
)

var rebuildFlags = map[string]cobraflags.Flag{
	configFlag: &cobraflags.StringFlag{
		Name:  configFlag,
		Value: "",
		Usage: "Path to the lakeshift configuration file",
	},
	tableFlag: &cobraflags.StringFlag{
		Name:  tableFlag,
		Value: "",
		Usage: "Name of the table to restructure (required)",
	},
	createSQLFlag: &cobraflags.StringFlag{
		Name:  createSQLFlag,
		Value: "",
		Usage: "Path of the SQL script defining the new table (required)",
	},
	insertSQLFlag: &cobraflags.StringFlag{
		Name:  insertSQLFlag,
		Value: "",
		Usage: "Path of the SQL script repopulating the table from its backup (required)",
	},
	chunkSizeFlag: &cobraflags.IntFlag{
		Name:  chunkSizeFlag,
		Value: 0,
		Usage: "Maximum partitions per insert statement (defaults to the configured chunk_size)",
	},
}

func NewRebuildCommand() *cobra.Command {
	cobraflags.RegisterMap(rebuildCmd, rebuildFlags)
	return rebuildCmd
}

func rebuildCommand(cmd *cobra.Command, _ []string) error {
	table := rebuildFlags[tableFlag].GetString()
	if table == "" {
		return fmt.Errorf("--%s is required", tableFlag)
	}

	createSQL, err := readScript(rebuildFlags[createSQLFlag].GetString(), createSQLFlag)
	if err != nil {
		return err
	}
	insertSQL, err := readScript(rebuildFlags[insertSQLFlag].GetString(), insertSQLFlag)
	if err != nil {
		return err
	}

	cfg, err := config.Load(rebuildFlags[configFlag].GetString())
	if err != nil {
		return err
	}
	chunkSize := rebuildFlags[chunkSizeFlag].GetInt()
	if chunkSize == 0 {
		chunkSize = cfg.ChunkSize
	}

	logger := slog.Default()
	ctx := cmd.Context()

	store, closeStore, err := connect.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	r, err := rebuild.New(store, rebuild.Options{ChunkSize: chunkSize, Logger: logger})
	if err != nil {
		return err
	}
	templateContext := map[string]any{"database_location": cfg.DatabaseLocation}
	return r.Rebuild(ctx, table, createSQL, insertSQL, templateContext)
}

func readScript(path, flag string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("--%s is required", flag)
	}
	script, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s script: %w", flag, err)
	}
	return string(script), nil
}
