package migrator_test

import (
	"context"
	"testing"
	"testing/fstest"

	qt "github.com/frankban/quicktest"

	"github.com/lakeshift/lakeshift/migration/migrator"
)

func TestNewFSProvider_LoadsVersionDirectories(t *testing.T) {
	c := qt.New(t)

	fsys := fstest.MapFS{
		"v1/upgrade.sql":   &fstest.MapFile{Data: []byte("create table a (x int)")},
		"v1/downgrade.sql": &fstest.MapFile{Data: []byte("drop table a")},
		"v2/upgrade.sql":   &fstest.MapFile{Data: []byte("create table b (y int)")},
		"README.md":        &fstest.MapFile{Data: []byte("docs, not a migration")},
	}

	provider, err := migrator.NewFSProvider(fsys)
	c.Assert(err, qt.IsNil)

	migrations := provider.Migrations()
	c.Assert(migrations, qt.HasLen, 2)
	c.Assert(migrations[0].Version, qt.Equals, 1)
	c.Assert(migrations[0].Description, qt.Equals, "v1")
	c.Assert(migrations[1].Version, qt.Equals, 2)

	// v1's scripts execute through the store.
	store := &fakeVersionStore{}
	err = migrations[0].Up(context.Background(), store, migrations[0].Resources, nil)
	c.Assert(err, qt.IsNil)
	err = migrations[0].Down(context.Background(), store, migrations[0].Resources, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(store.executed, qt.DeepEquals, []string{"create table a (x int)", "drop table a"})

	// v2 has no downgrade script: Down is a no-op.
	err = migrations[1].Down(context.Background(), store, migrations[1].Resources, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(store.executed, qt.HasLen, 2)
}

func TestNewFSProvider_MissingUpgradeScript(t *testing.T) {
	c := qt.New(t)

	fsys := fstest.MapFS{
		"v1/downgrade.sql": &fstest.MapFile{Data: []byte("drop table a")},
	}
	_, err := migrator.NewFSProvider(fsys)
	c.Assert(err, qt.ErrorMatches, "migration v1 is missing upgrade.sql")
}

func TestNewFSProvider_RejectsVersionGaps(t *testing.T) {
	c := qt.New(t)

	fsys := fstest.MapFS{
		"v1/upgrade.sql": &fstest.MapFile{Data: []byte("select 1")},
		"v3/upgrade.sql": &fstest.MapFile{Data: []byte("select 1")},
	}
	_, err := migrator.NewFSProvider(fsys)
	c.Assert(err, qt.ErrorMatches, "migration versions must be contiguous from 1: found v3 where v2 was expected")
}
