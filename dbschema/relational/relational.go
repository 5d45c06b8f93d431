// Package relational implements the lakeshift store over ordinary
// database/sql engines. It exists so the same migrations and rebuild
// scripts run against local or conventional databases (a SQLite file in
// tests, a Postgres/Redshift/MySQL instance in smaller deployments)
// through the interface shaped by the catalog-backed store.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lakeshift/lakeshift/core/platform"
	"github.com/lakeshift/lakeshift/core/retry"
	"github.com/lakeshift/lakeshift/core/sqltext"
	"github.com/lakeshift/lakeshift/dbschema"
	"github.com/lakeshift/lakeshift/dbschema/types"
)

// Options configures a Connection.
type Options struct {
	// MaxAttempts and BaseDelay configure per-statement retries.
	// Relational engines have no transient failure classes by default,
	// so retries only trigger when IsTransient is set.
	MaxAttempts int
	BaseDelay   time.Duration

	// IsTransient optionally classifies retryable driver errors.
	IsTransient retry.Classifier

	Logger *slog.Logger
}

// Connection is a relational store. It implements dbschema.Store and
// dbschema.VersionStore.
type Connection struct {
	db      *sql.DB
	dialect string
	opts    Options
	logger  *slog.Logger
}

var (
	_ dbschema.VersionStore = (*Connection)(nil)
	_ dbschema.Rebuilder    = (*Connection)(nil)
)

// Open connects to the database identified by dialect and DSN. Supported
// dialects: postgres (pgx), redshift (lib/pq, since Redshift speaks the
// postgres wire protocol), mysql, sqlite.
func Open(dialect, dsn string, opts Options) (*Connection, error) {
	normalized := platform.NormalizeDialect(dialect)
	var driver string
	switch normalized {
	case platform.Postgres:
		driver = "pgx"
	case platform.Redshift:
		driver = "postgres"
	case platform.MySQL:
		driver = "mysql"
	case platform.SQLite:
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported relational dialect: %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", normalized, err)
	}
	return NewConnection(db, normalized, opts), nil
}

// NewConnection wraps an existing database handle.
func NewConnection(db *sql.DB, dialect string, opts Options) *Connection {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		db:      db,
		dialect: dialect,
		opts:    opts,
		logger:  logger,
	}
}

// Dialect returns the normalized dialect name.
func (c *Connection) Dialect() string {
	return c.dialect
}

// Close closes the underlying handle.
func (c *Connection) Close() error {
	return c.db.Close()
}

// Execute renders sql, splits it on the `-- !break` separator and runs
// each statement in order.
func (c *Connection) Execute(ctx context.Context, sql string, templateContext map[string]any) error {
	rendered, err := sqltext.Render(sql, templateContext)
	if err != nil {
		return err
	}
	for _, statement := range sqltext.Split(rendered) {
		c.logger.Debug("executing SQL", "dialect", c.dialect, "sql", statement)
		err := retry.Do(ctx, c.retryOptions(), func() error {
			_, err := c.db.ExecContext(ctx, statement)
			return err
		})
		if err != nil {
			return c.wrapNotFound(err)
		}
	}
	return nil
}

// Select renders and runs a single query, scanning the full result set.
func (c *Connection) Select(ctx context.Context, query string, templateContext map[string]any) (*types.Rows, error) {
	rendered, err := sqltext.Render(query, templateContext)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("executing SQL", "dialect", c.dialect, "sql", rendered)

	var result *types.Rows
	err = retry.Do(ctx, c.retryOptions(), func() error {
		rows, err := c.db.QueryContext(ctx, rendered)
		if err != nil {
			return err
		}
		defer rows.Close()
		result, err = scanAll(rows)
		return err
	})
	if err != nil {
		return nil, c.wrapNotFound(err)
	}
	return result, nil
}

// Insert writes rows into table. Overwrite deletes all existing records
// first; overwrite_partitions deletes only records matching the distinct
// partition values present in rows. Relational engines have no physical
// partitions, so partition columns are treated as plain filter columns,
// the same emulation the test backends have always used.
func (c *Connection) Insert(ctx context.Context, rows *types.Rows, table string, mode types.InsertMode, partitionColumns []string) error {
	switch mode {
	case types.Overwrite:
		if err := c.Execute(ctx, fmt.Sprintf("delete from %s", table), nil); err != nil {
			return err
		}
	case types.OverwritePartitions:
		clause, err := partitionFilter(rows, partitionColumns)
		if err != nil {
			return err
		}
		if err := c.Execute(ctx, fmt.Sprintf("delete from %s where %s", table, clause), nil); err != nil {
			return err
		}
	case types.Append:
		// nothing to clear
	default:
		return fmt.Errorf("relational: unsupported insert mode %q", mode)
	}

	c.logger.Debug("inserting records", "table", table, "records", rows.Len(), "mode", mode)
	columns := strings.Join(rows.Columns, ", ")
	placeholders := c.placeholders(len(rows.Columns))
	statement := fmt.Sprintf("insert into %s (%s) values (%s)", table, columns, placeholders)
	for _, record := range rows.Records {
		if _, err := c.db.ExecContext(ctx, statement, record...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

// DescribeTable returns bare metadata: relational engines have no
// partition catalog and no external storage location, so rebuilds run
// as single unchunked copies with no storage purging. This mirrors how
// a local engine stands in for the catalog-backed store in tests.
func (c *Connection) DescribeTable(_ context.Context, name string) (*types.TableMeta, error) {
	meta := &types.TableMeta{Name: name}
	meta.DeriveBackup()
	return meta, nil
}

// PurgeStorage is not available: relational tables carry their data, so
// dropping the table is sufficient. The rebuilder never purges a table
// without a storage location, making this unreachable in practice.
func (c *Connection) PurgeStorage(_ context.Context, location string) error {
	return fmt.Errorf("relational stores have no object storage to purge (location %q)", location)
}

// CreateEmptyCopy creates the backup twin with a zero-row CTAS.
func (c *Connection) CreateEmptyCopy(ctx context.Context, table *types.TableMeta) error {
	sql := fmt.Sprintf("create table %s\nas select *\nfrom %s\nwhere 1 = 0", table.BackupName, table.Name)
	return c.Execute(ctx, sql, table.TemplateContext)
}

// CreateVersionTable creates the version table and seeds it at
// {version: 0, locked: false}.
func (c *Connection) CreateVersionTable(ctx context.Context, name string) error {
	ddl := fmt.Sprintf("create table %s (version int, locked int)", name)
	if err := c.Execute(ctx, ddl, nil); err != nil {
		return err
	}
	return c.Execute(ctx, fmt.Sprintf("insert into %s values (0, 0)", name), nil)
}

// WriteVersionRecord updates the singleton version row in place.
func (c *Connection) WriteVersionRecord(ctx context.Context, table string, version int, locked bool) error {
	lockedInt := 0
	if locked {
		lockedInt = 1
	}
	return c.Execute(ctx, fmt.Sprintf("update %s set version = %d, locked = %d", table, version, lockedInt), nil)
}

func (c *Connection) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		switch c.dialect {
		case platform.Postgres, platform.Redshift:
			parts[i] = fmt.Sprintf("$%d", i+1)
		default:
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

func (c *Connection) retryOptions() retry.Options {
	return retry.Options{
		MaxAttempts: c.opts.MaxAttempts,
		BaseDelay:   c.opts.BaseDelay,
		IsTransient: c.opts.IsTransient,
		Logger:      c.logger,
	}
}

// wrapNotFound maps the engines' "missing table" phrasings onto the
// shared sentinel: sqlite says "no such table", postgres "does not
// exist", mysql "doesn't exist".
func (c *Connection) wrapNotFound(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "doesn't exist") {
		return fmt.Errorf("%w: %v", dbschema.ErrTableNotFound, err)
	}
	return err
}

func scanAll(rows *sql.Rows) (*types.Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	result := &types.Rows{Columns: columns}
	for rows.Next() {
		record := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range record {
			pointers[i] = &record[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range record {
			if b, ok := v.([]byte); ok {
				record[i] = string(b)
			}
		}
		result.Records = append(result.Records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}
	return result, nil
}

// partitionFilter builds the delete clause for overwrite_partitions:
// one IN list per partition column over the distinct values in rows.
func partitionFilter(rows *types.Rows, partitionColumns []string) (string, error) {
	if len(partitionColumns) == 0 {
		return "", errors.New("overwrite_partitions requires partition columns")
	}
	clauses := make([]string, 0, len(partitionColumns))
	for _, col := range partitionColumns {
		i, err := rows.Column(col)
		if err != nil {
			return "", err
		}
		seen := make(map[string]bool)
		var values []string
		for _, record := range rows.Records {
			v := fmt.Sprintf("%v", record[i])
			if !seen[v] {
				seen[v] = true
				values = append(values, "'"+strings.ReplaceAll(v, "'", "''")+"'")
			}
		}
		clauses = append(clauses, fmt.Sprintf("%s in (%s)", col, strings.Join(values, ", ")))
	}
	return strings.Join(clauses, " and "), nil
}
