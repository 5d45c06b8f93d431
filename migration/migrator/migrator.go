// Package migrator advances a table store through an ordered sequence of
// schema versions, bracketed by an advisory version lock.
//
// The migrated stores are append-only analytic engines without
// transactional DDL, so there is no per-step rollback: a failed step
// leaves the lock held and the store in whatever state the step reached,
// and recovery is an operator's job.
package migrator

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/lakeshift/lakeshift/dbschema"
)

// StepFunc is one direction of a migration step. It receives the shared
// store handle, the step's resource filesystem (SQL scripts and
// templates), and caller-supplied arguments.
type StepFunc func(ctx context.Context, store dbschema.Store, resources fs.FS, args map[string]string) error

// Migration is a single registered schema change. Version numbers start
// at 1 and are densely populated.
type Migration struct {
	Version     int
	Description string
	Up          StepFunc
	Down        StepFunc

	// Resources holds the step's SQL scripts. May be nil for steps that
	// build their statements in code.
	Resources fs.FS
}

// Runner applies or reverts migrations to reach a target version.
type Runner struct {
	store    dbschema.VersionStore
	provider Provider
	gate     *Gate
	args     map[string]string
	logger   *slog.Logger
}

// NewRunner creates a Runner. args are passed through to every step
// procedure. The provider is validated eagerly so registration mistakes
// surface at construction, not mid-run.
func NewRunner(store dbschema.VersionStore, provider Provider, gate *Gate, args map[string]string) (*Runner, error) {
	if v, ok := provider.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &Runner{
		store:    store,
		provider: provider,
		gate:     gate,
		args:     args,
		logger:   slog.Default(),
	}, nil
}

// WithLogger sets the logger for the runner.
func (r *Runner) WithLogger(l *slog.Logger) *Runner {
	tmp := *r
	tmp.logger = l
	return &tmp
}

// Migrate brings the store to targetVersion. Upgrades run the Up
// procedure of every version in (current, target] ascending; downgrades
// run Down for (target, current] descending, and only when
// allowDowngrade is set. The whole run holds the version lock; if a step
// fails the lock stays held and the error propagates with its cause.
func (r *Runner) Migrate(ctx context.Context, targetVersion int, allowDowngrade bool) error {
	r.logger.Info("checking if migrations are needed", "targetVersion", targetVersion)

	currentVersion, err := r.gate.Acquire(ctx, targetVersion)
	if err != nil {
		return err
	}

	needed := currentVersion < targetVersion ||
		(currentVersion > targetVersion && allowDowngrade)
	if !needed {
		r.logger.Info("store is up-to-date", "currentVersion", currentVersion)
		return r.gate.Release(ctx, currentVersion)
	}

	if err := r.apply(ctx, currentVersion, targetVersion); err != nil {
		// The lock stays held: the store may be mid-migration and must
		// be inspected before anything else runs.
		return err
	}

	return r.gate.Release(ctx, targetVersion)
}

func (r *Runner) apply(ctx context.Context, currentVersion, targetVersion int) error {
	byVersion := make(map[int]*Migration)
	for _, migration := range r.provider.Migrations() {
		byVersion[migration.Version] = migration
	}

	upgrade := currentVersion < targetVersion
	var versions []int
	if upgrade {
		for v := currentVersion + 1; v <= targetVersion; v++ {
			versions = append(versions, v)
		}
	} else {
		for v := currentVersion; v > targetVersion; v-- {
			versions = append(versions, v)
		}
	}

	for _, v := range versions {
		migration, ok := byVersion[v]
		if !ok {
			return fmt.Errorf("no migration registered for version %d", v)
		}

		from, to, step := v-1, v, migration.Up
		if !upgrade {
			from, to, step = v, v-1, migration.Down
		}

		r.logger.Info("migrating store", "from", from, "to", to, "description", migration.Description)
		if err := step(ctx, r.store, migration.Resources, r.args); err != nil {
			return fmt.Errorf("migration from version %d to %d failed: %w", from, to, err)
		}
		r.logger.Info("migrated store", "from", from, "to", to)
	}
	return nil
}
