package migrator

import (
	"fmt"
	"sort"
)

// Provider supplies the ordered list of registered migrations.
type Provider interface {
	// Migrations returns all migrations sorted by version in ascending order.
	Migrations() []*Migration
}

// RegisteredProvider is an in-memory Provider populated at startup. It
// replaces runtime script resolution with an explicit registry: every
// step is a named Go function bound to its version number at compile
// time, so a missing or misnamed step is caught before anything runs.
type RegisteredProvider struct {
	migrations []*Migration
	sorted     bool
}

// NewRegisteredProvider creates a provider with the given migrations.
func NewRegisteredProvider(migrations ...*Migration) *RegisteredProvider {
	return &RegisteredProvider{
		migrations: migrations,
	}
}

// Register adds a migration to the provider.
func (p *RegisteredProvider) Register(migration *Migration) {
	p.migrations = append(p.migrations, migration)
	p.sorted = false
}

// Migrations returns the registered migrations sorted by version.
func (p *RegisteredProvider) Migrations() []*Migration {
	p.maybeSort()
	return p.migrations
}

// Validate checks that the registered versions form a contiguous,
// densely populated range starting at 1 and that every migration
// carries both step procedures.
func (p *RegisteredProvider) Validate() error {
	p.maybeSort()
	for i, migration := range p.migrations {
		want := i + 1
		if migration.Version != want {
			return fmt.Errorf("migration versions must be contiguous from 1: found version %d where %d was expected", migration.Version, want)
		}
		if migration.Up == nil || migration.Down == nil {
			return fmt.Errorf("migration %d is missing an up or down procedure", migration.Version)
		}
	}
	return nil
}

func (p *RegisteredProvider) maybeSort() {
	if p.sorted {
		return
	}
	sort.Slice(p.migrations, func(i, j int) bool {
		return p.migrations[i].Version < p.migrations[j].Version
	})
	p.sorted = true
}
