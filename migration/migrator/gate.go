package migrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakeshift/lakeshift/dbschema"
)

// ErrLockTimeout reports that the version record stayed locked for the
// gate's whole poll budget.
var ErrLockTimeout = errors.New("timed out waiting for the version lock")

// DefaultVersionTable is the name of the metadata table holding the
// singleton version record.
const DefaultVersionTable = "version"

// GateOptions configures the acquire poll loop.
type GateOptions struct {
	// Table is the version table name. Defaults to DefaultVersionTable.
	Table string

	// MaxAttempts is how many times the record is polled before giving
	// up. Defaults to 20.
	MaxAttempts int

	// Delay is the wait between polls. Defaults to 15s.
	Delay time.Duration

	Logger *slog.Logger
}

// Gate serializes migration runs through a singleton
// {version, locked} record in the store's metadata table.
//
// The record is advisory: acquisition is a check-then-set over two
// separate statements, because catalog-backed engines offer no
// conditional update. Two processes racing between "observe unlocked"
// and "set locked" can both proceed. There is also no owner token and no
// heartbeat: a process that crashes while holding the lock leaves it
// set, and an operator must clear it by rewriting the record.
type Gate struct {
	store       dbschema.VersionStore
	table       string
	maxAttempts int
	delay       time.Duration
	logger      *slog.Logger
}

// NewGate creates a Gate over the given store.
func NewGate(store dbschema.VersionStore, opts GateOptions) *Gate {
	if opts.Table == "" {
		opts.Table = DefaultVersionTable
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 20
	}
	if opts.Delay <= 0 {
		opts.Delay = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:       store,
		table:       opts.Table,
		maxAttempts: opts.MaxAttempts,
		delay:       opts.Delay,
		logger:      logger,
	}
}

// Current reads the version record, creating it at {0, false} when the
// metadata table does not exist yet.
func (g *Gate) Current(ctx context.Context) (version int, locked bool, err error) {
	rows, err := g.store.Select(ctx, fmt.Sprintf("select * from %s", g.table), nil)
	if errors.Is(err, dbschema.ErrTableNotFound) {
		g.logger.Debug("version table does not exist, creating it", "table", g.table)
		if err := g.store.CreateVersionTable(ctx, g.table); err != nil {
			return 0, false, fmt.Errorf("failed to create version table: %w", err)
		}
		rows, err = g.store.Select(ctx, fmt.Sprintf("select * from %s", g.table), nil)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read version record: %w", err)
	}
	if rows.Len() == 0 {
		return 0, false, fmt.Errorf("version table %s holds no record", g.table)
	}

	version, err = rows.Int(0, "version")
	if err != nil {
		return 0, false, err
	}
	lockedInt, err := rows.Int(0, "locked")
	if err != nil {
		return 0, false, err
	}
	return version, lockedInt != 0, nil
}

// Acquire polls the version record until it is unlocked, sets
// locked=true with the version unchanged, and returns the current
// version. After the poll budget is exhausted it fails with
// ErrLockTimeout and the store is left untouched.
func (g *Gate) Acquire(ctx context.Context, targetVersion int) (int, error) {
	for i := 0; i < g.maxAttempts; i++ {
		version, locked, err := g.Current(ctx)
		if err != nil {
			return 0, err
		}
		g.logger.Info("checked version record",
			"locked", locked, "currentVersion", version, "targetVersion", targetVersion)

		if !locked {
			if err := g.store.WriteVersionRecord(ctx, g.table, version, true); err != nil {
				return 0, fmt.Errorf("failed to set version lock: %w", err)
			}
			return version, nil
		}
		if i == g.maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(g.delay):
		}
	}
	return 0, ErrLockTimeout
}

// Release writes {newVersion, locked: false}.
func (g *Gate) Release(ctx context.Context, newVersion int) error {
	if err := g.store.WriteVersionRecord(ctx, g.table, newVersion, false); err != nil {
		return fmt.Errorf("failed to release version lock: %w", err)
	}
	return nil
}
