package migrator

import (
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// upgradeScript and downgradeScript are the per-version resource names
// an FS provider looks for.
const (
	upgradeScript   = "upgrade.sql"
	downgradeScript = "downgrade.sql"
)

// FSProvider loads migrations from a filesystem laid out as one
// directory per version:
//
//	v1/upgrade.sql
//	v1/downgrade.sql
//	v2/upgrade.sql
//	...
//
// upgrade.sql is required; a version without downgrade.sql gets a no-op
// Down procedure. Scripts are executed through StepFromSQL, so they are
// rendered with the run's arguments and may batch statements with the
// `-- !break` separator.
type FSProvider struct {
	migrations []*Migration
}

// NewFSProvider scans fsys and builds the migration list. It fails on
// version directories without an upgrade script and on non-contiguous
// version numbers.
func NewFSProvider(fsys fs.FS) (*FSProvider, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations directory: %w", err)
	}

	var migrations []*Migration
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		version, ok := parseVersionDir(entry.Name())
		if !ok {
			continue
		}

		resources, err := fs.Sub(fsys, entry.Name())
		if err != nil {
			return nil, err
		}
		if _, err := fs.Stat(resources, upgradeScript); err != nil {
			return nil, fmt.Errorf("migration %s is missing %s", entry.Name(), upgradeScript)
		}

		migration := &Migration{
			Version:     version,
			Description: entry.Name(),
			Up:          StepFromSQL(upgradeScript),
			Down:        NoopStep,
			Resources:   resources,
		}
		if _, err := fs.Stat(resources, downgradeScript); err == nil {
			migration.Down = StepFromSQL(downgradeScript)
		}
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	for i, migration := range migrations {
		if migration.Version != i+1 {
			return nil, fmt.Errorf("migration versions must be contiguous from 1: found v%d where v%d was expected", migration.Version, i+1)
		}
	}

	return &FSProvider{migrations: migrations}, nil
}

// Migrations returns the loaded migrations sorted by version.
func (p *FSProvider) Migrations() []*Migration {
	return p.migrations
}

func parseVersionDir(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "v")
	if !ok {
		return 0, false
	}
	version, err := strconv.Atoi(rest)
	if err != nil || version < 1 {
		return 0, false
	}
	return version, true
}
