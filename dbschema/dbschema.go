// Package dbschema defines the store interfaces lakeshift's migration and
// rebuild components depend on, plus the error sentinels shared by all
// backends.
//
// Backends come in two capability families, selected once at
// construction:
//
//   - catalog-backed columnar stores (dbschema/athena): tables are
//     partitioned files described by catalog metadata; no UPDATE, no
//     ALTER, object storage purged out-of-band.
//   - relational stores (dbschema/relational): ordinary database/sql
//     engines, used for local development and tests.
//
// Callers hold the interface matching the capabilities they need; there
// is no string-tag dispatch at call sites.
package dbschema

import (
	"context"
	"errors"

	"github.com/lakeshift/lakeshift/dbschema/types"
)

// ErrTableNotFound reports that a statement referenced a table missing
// from the catalog. Backends wrap their engine-specific "no such table"
// errors so callers can match with errors.Is.
var ErrTableNotFound = errors.New("table not found")

// Store executes SQL against one database. Execute and Select render the
// statement as a template with the supplied context before submission;
// Execute additionally splits batched scripts on the `-- !break`
// separator and runs each statement in order.
type Store interface {
	Execute(ctx context.Context, sql string, templateContext map[string]any) error
	Select(ctx context.Context, sql string, templateContext map[string]any) (*types.Rows, error)
	Insert(ctx context.Context, rows *types.Rows, table string, mode types.InsertMode, partitionColumns []string) error
}

// Catalog resolves table metadata (partition columns, storage location)
// from the backing catalog.
type Catalog interface {
	DescribeTable(ctx context.Context, name string) (*types.TableMeta, error)
}

// Purger deletes all objects under a storage prefix. Implementations
// must refuse prefixes that fail their safety checks before deleting
// anything.
type Purger interface {
	PurgeStorage(ctx context.Context, location string) error
}

// Rebuilder is what the backup/drop/rebuild algorithm needs from a
// backend: statement execution, catalog metadata, storage purging, and
// the backend-specific way of creating an empty structural copy of a
// table at the backup location.
type Rebuilder interface {
	Store
	Catalog
	Purger
	CreateEmptyCopy(ctx context.Context, table *types.TableMeta) error
}

// Connection is the full capability set: everything migrations and
// rebuilds need from one backend. Both store families implement it.
type Connection interface {
	Rebuilder
	VersionStore
}

// VersionStore is what the version gate needs from a backend. The
// version record write differs fundamentally per family: relational
// engines UPDATE the row in place, catalog-backed engines overwrite the
// single backing object (Athena has no UPDATE).
type VersionStore interface {
	Store
	CreateVersionTable(ctx context.Context, name string) error
	WriteVersionRecord(ctx context.Context, table string, version int, locked bool) error
}
