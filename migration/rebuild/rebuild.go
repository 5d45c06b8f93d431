// Package rebuild restructures a table in a store that supports neither
// UPDATE nor ALTER of column structure, by staging data through a backup
// copy:
//
//  1. describe the table (partition columns, storage location, distinct
//     partition values)
//  2. create an empty backup twin and copy all data into it
//  3. drop the original (storage purge, then catalog entry)
//  4. execute the caller's create script and re-insert from the backup
//     through the caller's insert script
//  5. drop the backup
//
// Copies in steps 2 and 4 run in partition chunks because the engine
// caps how many partitions one DML statement may touch. Each phase only
// starts after the previous one completed: original data is never
// deleted before the backup is fully populated, and the backup is never
// deleted before the new table is fully populated. A fatal error aborts
// the run and leaves the intermediate state behind for inspection; there
// is no automatic repair.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lakeshift/lakeshift/core/partition"
	"github.com/lakeshift/lakeshift/dbschema"
	"github.com/lakeshift/lakeshift/dbschema/types"
)

// DefaultChunkSize matches Athena's 100-partition limit for CTAS and
// INSERT INTO statements.
const DefaultChunkSize = 100

// Options configures a Rebuilder.
type Options struct {
	// ChunkSize bounds how many distinct partition tuples one insert
	// statement targets. Defaults to DefaultChunkSize. Chunks are always
	// computed against the table's current partition structure: when the
	// rebuild changes the partition keys so that one old partition maps
	// to many new ones, the caller must lower ChunkSize accordingly or
	// the engine's limit is violated mid-rebuild.
	ChunkSize int

	Logger *slog.Logger
}

// Rebuilder runs the backup/drop/rebuild sequence against one store.
type Rebuilder struct {
	store     dbschema.Rebuilder
	chunkSize int
	logger    *slog.Logger
}

// New creates a Rebuilder.
func New(store dbschema.Rebuilder, opts Options) (*Rebuilder, error) {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize < 0 {
		return nil, errors.New("rebuild: chunk size must be > 0")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		store:     store,
		chunkSize: opts.ChunkSize,
		logger:    logger,
	}, nil
}

// Rebuild restructures tableName. createSQL defines the new table;
// insertSQL copies (and transforms) records from the backup into it and
// must contain exactly one {{.chunk}} marker in its where clause, e.g.
//
//	insert into events
//	select *, substr(day, 1, 4) as year
//	from events__backup
//	where {{.chunk}}
//
// templateContext is merged into every rendered statement.
func (r *Rebuilder) Rebuild(ctx context.Context, tableName, createSQL, insertSQL string, templateContext map[string]any) error {
	table, values, err := r.describe(ctx, tableName, templateContext)
	if err != nil {
		return err
	}

	if err := r.backup(ctx, table, values); err != nil {
		return fmt.Errorf("backup of table %s failed: %w", table.Name, err)
	}
	if err := r.drop(ctx, table, false); err != nil {
		return fmt.Errorf("dropping original table %s failed: %w", table.Name, err)
	}
	if err := r.rebuild(ctx, table, values, createSQL, insertSQL); err != nil {
		return fmt.Errorf("rebuilding table %s failed: %w", table.Name, err)
	}
	if err := r.drop(ctx, table, true); err != nil {
		return fmt.Errorf("dropping backup table %s failed: %w", table.BackupName, err)
	}
	return nil
}

// describe resolves the table's metadata from the catalog and its
// distinct partition-value tuples from the table itself.
func (r *Rebuilder) describe(ctx context.Context, tableName string, templateContext map[string]any) (*types.TableMeta, []partition.Tuple, error) {
	table, err := r.store.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	table.TemplateContext = templateContext

	if len(table.PartitionColumns) == 0 {
		return table, nil, nil
	}

	columns := table.JoinedPartitionColumns()
	sql := fmt.Sprintf("select distinct %s\nfrom %s\norder by %s", columns, table.Name, columns)
	rows, err := r.store.Select(ctx, sql, table.TemplateContext)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read partition values of %s: %w", table.Name, err)
	}

	values := make([]partition.Tuple, rows.Len())
	for i, record := range rows.Records {
		tuple := make(partition.Tuple, len(record))
		for j, v := range record {
			if v != nil {
				tuple[j] = fmt.Sprintf("%v", v)
			}
		}
		values[i] = tuple
	}
	return table, values, nil
}

// backup creates the empty backup twin and copies all data into it.
func (r *Rebuilder) backup(ctx context.Context, table *types.TableMeta, values []partition.Tuple) error {
	if err := r.store.CreateEmptyCopy(ctx, table); err != nil {
		return err
	}
	copySQL := fmt.Sprintf("insert into %s\nselect *\nfrom %s\nwhere {{.chunk}}", table.BackupName, table.Name)
	return r.insertChunks(ctx, table, table.BackupName, copySQL, values)
}

// rebuild creates the new table from the caller's script and populates
// it from the backup.
func (r *Rebuilder) rebuild(ctx context.Context, table *types.TableMeta, values []partition.Tuple, createSQL, insertSQL string) error {
	if err := r.store.Execute(ctx, createSQL, table.TemplateContext); err != nil {
		return err
	}
	return r.insertChunks(ctx, table, table.Name, insertSQL, values)
}

// insertChunks renders and executes insertSQL once per partition chunk,
// sequentially and in ascending partition-value order. Unpartitioned
// tables get a single always-true chunk.
func (r *Rebuilder) insertChunks(ctx context.Context, table *types.TableMeta, target, insertSQL string, values []partition.Tuple) error {
	predicates := []string{partition.AlwaysTrue}
	if len(table.PartitionColumns) > 0 {
		chunks := partition.Chunks(values, r.chunkSize)
		predicates = make([]string, len(chunks))
		for i, chunk := range chunks {
			predicates[i] = partition.Predicate(chunk, table.PartitionColumns)
		}
	}

	for i, predicate := range predicates {
		templateContext := make(map[string]any, len(table.TemplateContext)+1)
		for k, v := range table.TemplateContext {
			templateContext[k] = v
		}
		templateContext["chunk"] = predicate

		if err := r.store.Execute(ctx, insertSQL, templateContext); err != nil {
			return err
		}
		r.logger.Debug("inserted chunk", "table", target, "chunk", i+1, "chunks", len(predicates))
	}
	return nil
}

// drop purges the storage under the table (or its backup) and drops the
// catalog entry, in that order.
func (r *Rebuilder) drop(ctx context.Context, table *types.TableMeta, backup bool) error {
	name, location := table.Name, table.Location
	if backup {
		name, location = table.BackupName, table.BackupLocation
	}

	if location != "" {
		// The purge prefix must end with a separator. Without it the
		// original's prefix also matches the backup twin's keys
		// (events vs events__backup) and both copies of the data are
		// deleted at once.
		if !strings.HasSuffix(location, "/") {
			location += "/"
		}
		r.logger.Debug("deleting storage data", "location", location)
		if err := r.store.PurgeStorage(ctx, location); err != nil {
			return err
		}
	}

	r.logger.Debug("dropping table", "table", name)
	return r.store.Execute(ctx, fmt.Sprintf("drop table %s", name), table.TemplateContext)
}
