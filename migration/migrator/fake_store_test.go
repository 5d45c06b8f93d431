package migrator_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/lakeshift/lakeshift/dbschema"
	"github.com/lakeshift/lakeshift/dbschema/types"
)

// fakeVersionStore is an in-memory dbschema.VersionStore holding just
// the singleton version record, plus a log of executed statements.
type fakeVersionStore struct {
	mu sync.Mutex

	created bool
	version int
	locked  bool

	executed []string
	writes   []string
}

var _ dbschema.VersionStore = (*fakeVersionStore)(nil)

func (f *fakeVersionStore) Execute(_ context.Context, sql string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, sql)
	return nil
}

func (f *fakeVersionStore) Select(_ context.Context, sql string, _ map[string]any) (*types.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created {
		return nil, fmt.Errorf("%w: %s", dbschema.ErrTableNotFound, sql)
	}
	locked := 0
	if f.locked {
		locked = 1
	}
	return &types.Rows{
		Columns: []string{"version", "locked"},
		Records: [][]any{{f.version, locked}},
	}, nil
}

func (f *fakeVersionStore) Insert(context.Context, *types.Rows, string, types.InsertMode, []string) error {
	return nil
}

func (f *fakeVersionStore) CreateVersionTable(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = true
	f.version = 0
	f.locked = false
	return nil
}

func (f *fakeVersionStore) WriteVersionRecord(_ context.Context, _ string, version int, locked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = version
	f.locked = locked
	f.writes = append(f.writes, fmt.Sprintf("%d/%v", version, locked))
	return nil
}

func (f *fakeVersionStore) state() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, f.locked
}
