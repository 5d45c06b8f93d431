// Package athena implements the catalog-backed columnar store over AWS
// Athena, with table metadata in the Glue catalog and data files in S3.
//
// The engine's constraints shape everything here: there is no UPDATE and
// no ALTER of column structure, DML statements touch at most 100
// partitions, and dropping a table leaves its data files behind. Writes
// that a relational engine would do in place are expressed as overwrite
// inserts of whole objects, and table drops are paired with explicit
// storage purges.
package athena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	athenasdk "github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/smithy-go"

	"github.com/lakeshift/lakeshift/core/retry"
	"github.com/lakeshift/lakeshift/core/sqltext"
	"github.com/lakeshift/lakeshift/dbschema"
	"github.com/lakeshift/lakeshift/dbschema/types"
	"github.com/lakeshift/lakeshift/objstore"
)

// pollInterval is how often a running query's state is checked.
const pollInterval = time.Second

// QueryAPI is the slice of the Athena client the connection uses.
type QueryAPI interface {
	StartQueryExecution(ctx context.Context, params *athenasdk.StartQueryExecutionInput, optFns ...func(*athenasdk.Options)) (*athenasdk.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athenasdk.GetQueryExecutionInput, optFns ...func(*athenasdk.Options)) (*athenasdk.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athenasdk.GetQueryResultsInput, optFns ...func(*athenasdk.Options)) (*athenasdk.GetQueryResultsOutput, error)
}

// CatalogAPI is the slice of the Glue client the connection uses.
type CatalogAPI interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

// Options configures a Connection.
type Options struct {
	// Database is the Glue database name queries run against.
	Database string

	// Workgroup is the Athena workgroup. Optional.
	Workgroup string

	// OutputLocation is the S3 prefix Athena writes query results to.
	OutputLocation string

	// DatabaseLocation is the S3 prefix the database's tables live under,
	// e.g. s3://bucket/warehouse. New table locations are derived from it.
	DatabaseLocation string

	// MaxAttempts and BaseDelay configure per-statement retries of
	// transient engine failures.
	MaxAttempts int
	BaseDelay   time.Duration

	Logger *slog.Logger
}

// Connection is a catalog-backed store. It implements
// dbschema.Rebuilder and dbschema.VersionStore.
type Connection struct {
	athena  QueryAPI
	catalog CatalogAPI
	bucket  *objstore.Bucket
	opts    Options
	logger  *slog.Logger
}

var (
	_ dbschema.Rebuilder    = (*Connection)(nil)
	_ dbschema.VersionStore = (*Connection)(nil)
)

// New creates a Connection. The bucket must be the one DatabaseLocation
// points into.
func New(queryClient QueryAPI, catalogClient CatalogAPI, bucket *objstore.Bucket, opts Options) (*Connection, error) {
	if opts.Database == "" {
		return nil, errors.New("athena: database name is required")
	}
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
		athena:  queryClient,
		catalog: catalogClient,
		bucket:  bucket,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Execute renders sql, splits it on the `-- !break` separator and runs
// each statement to completion, retrying transient failures.
func (c *Connection) Execute(ctx context.Context, sql string, templateContext map[string]any) error {
	rendered, err := sqltext.Render(sql, templateContext)
	if err != nil {
		return err
	}
	for _, statement := range sqltext.Split(rendered) {
		c.logger.Debug("executing SQL", "database", c.opts.Database, "sql", statement)
		err := retry.Do(ctx, c.retryOptions(), func() error {
			_, err := c.runQuery(ctx, statement)
			return err
		})
		if err != nil {
			return c.wrapNotFound(err)
		}
	}
	return nil
}

// Select renders and runs a single query, returning its result set.
func (c *Connection) Select(ctx context.Context, sql string, templateContext map[string]any) (*types.Rows, error) {
	rendered, err := sqltext.Render(sql, templateContext)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("executing SQL", "database", c.opts.Database, "sql", rendered)

	var rows *types.Rows
	err = retry.Do(ctx, c.retryOptions(), func() error {
		queryID, err := c.runQuery(ctx, rendered)
		if err != nil {
			return err
		}
		rows, err = c.fetchResults(ctx, queryID)
		return err
	})
	if err != nil {
		return nil, c.wrapNotFound(err)
	}
	return rows, nil
}

// Insert writes rows into table as CSV objects under the table's storage
// location. Overwrite purges the location first; overwrite_partitions
// purges only the partition prefixes present in rows.
func (c *Connection) Insert(ctx context.Context, rows *types.Rows, table string, mode types.InsertMode, partitionColumns []string) error {
	meta, err := c.DescribeTable(ctx, table)
	if err != nil {
		return err
	}
	location := strings.TrimSuffix(meta.Location, "/") + "/"
	_, prefix, err := objstore.ParseLocation(location)
	if err != nil {
		return err
	}

	switch mode {
	case types.Overwrite:
		if err := c.bucket.DeletePrefix(ctx, prefix); err != nil {
			return err
		}
	case types.OverwritePartitions:
		for _, suffix := range partitionSuffixes(rows, partitionColumns) {
			if err := c.bucket.DeletePrefix(ctx, prefix+suffix+"/"); err != nil {
				return err
			}
		}
	case types.Append:
		// nothing to clear
	default:
		return fmt.Errorf("athena: unsupported insert mode %q", mode)
	}

	c.logger.Debug("inserting records", "table", table, "records", rows.Len(), "mode", mode)
	for suffix, body := range encodeCSV(rows, partitionColumns) {
		key := prefix + suffix + objectName()
		if err := c.bucket.Put(ctx, key, body); err != nil {
			return err
		}
	}
	return nil
}

// DescribeTable resolves partition columns and storage location from the
// Glue catalog and derives the backup twin's name and location.
func (c *Connection) DescribeTable(ctx context.Context, name string) (*types.TableMeta, error) {
	out, err := c.catalog.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(c.opts.Database),
		Name:         aws.String(name),
	})
	if err != nil {
		var notFound *gluetypes.EntityNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s.%s", dbschema.ErrTableNotFound, c.opts.Database, name)
		}
		return nil, fmt.Errorf("failed to describe table %s: %w", name, err)
	}

	meta := &types.TableMeta{Name: name}
	for _, key := range out.Table.PartitionKeys {
		meta.PartitionColumns = append(meta.PartitionColumns, aws.ToString(key.Name))
	}
	if out.Table.StorageDescriptor != nil {
		meta.Location = aws.ToString(out.Table.StorageDescriptor.Location)
	}
	meta.DeriveBackup()
	return meta, nil
}

// PurgeStorage deletes all objects strictly under location. The
// location's own prefix doubles as the safe word for the delete.
func (c *Connection) PurgeStorage(ctx context.Context, location string) error {
	bucketName, prefix, err := objstore.ParseLocation(location)
	if err != nil {
		return err
	}
	if bucketName != c.bucket.Name() {
		return fmt.Errorf("location %q is outside bucket %q", location, c.bucket.Name())
	}
	return c.bucket.DeletePrefix(ctx, prefix)
}

// CreateEmptyCopy creates the backup twin of table: same partition
// structure, backup location, no data.
func (c *Connection) CreateEmptyCopy(ctx context.Context, table *types.TableMeta) error {
	var b strings.Builder
	fmt.Fprintf(&b, "create table %s\n", table.BackupName)
	fmt.Fprintf(&b, "with (\n    external_location = '%s'", table.BackupLocation)
	if len(table.PartitionColumns) > 0 {
		fmt.Fprintf(&b, ",\n    partitioned_by = array[%s]", table.QuotedPartitionColumns())
	}
	fmt.Fprintf(&b, "\n)\nas select *\nfrom %s\nwhere 1 = 0", table.Name)
	return c.Execute(ctx, b.String(), table.TemplateContext)
}

// CreateVersionTable declares the version table as a comma-delimited
// external text table and seeds it at {version: 0, locked: false}.
func (c *Connection) CreateVersionTable(ctx context.Context, name string) error {
	location := c.versionTableLocation(name)
	ddl := fmt.Sprintf(
		"create external table %s (version int, locked int)\n"+
			"row format delimited fields terminated by ','\n"+
			"location '%s'", name, location)
	if err := c.Execute(ctx, ddl, nil); err != nil {
		return err
	}
	return c.WriteVersionRecord(ctx, name, 0, false)
}

// WriteVersionRecord overwrites the single object backing the version
// table. Athena has no UPDATE, so the write replaces the whole record.
func (c *Connection) WriteVersionRecord(ctx context.Context, table string, version int, locked bool) error {
	_, prefix, err := objstore.ParseLocation(c.versionTableLocation(table))
	if err != nil {
		return err
	}
	if err := c.bucket.DeletePrefix(ctx, prefix); err != nil {
		return err
	}
	lockedInt := 0
	if locked {
		lockedInt = 1
	}
	body := fmt.Sprintf("%d,%d\n", version, lockedInt)
	return c.bucket.Put(ctx, prefix+objectName(), []byte(body))
}

func (c *Connection) versionTableLocation(name string) string {
	return strings.TrimSuffix(c.opts.DatabaseLocation, "/") + "/" + name + "/"
}

// runQuery starts a statement and polls until it settles, returning the
// query execution id.
func (c *Connection) runQuery(ctx context.Context, sql string) (string, error) {
	input := &athenasdk.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(c.opts.Database),
		},
	}
	if c.opts.OutputLocation != "" {
		input.ResultConfiguration = &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(c.opts.OutputLocation),
		}
	}
	if c.opts.Workgroup != "" {
		input.WorkGroup = aws.String(c.opts.Workgroup)
	}

	started, err := c.athena.StartQueryExecution(ctx, input)
	if err != nil {
		return "", err
	}
	queryID := aws.ToString(started.QueryExecutionId)

	for {
		out, err := c.athena.GetQueryExecution(ctx, &athenasdk.GetQueryExecutionInput{
			QueryExecutionId: aws.String(queryID),
		})
		if err != nil {
			return "", err
		}
		status := out.QueryExecution.Status
		switch status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			return queryID, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return "", &QueryFailedError{
				QueryID: queryID,
				State:   string(status.State),
				Reason:  aws.ToString(status.StateChangeReason),
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// fetchResults pages through a finished query's result set. Athena
// returns the column headers as the first data row, which is skipped.
func (c *Connection) fetchResults(ctx context.Context, queryID string) (*types.Rows, error) {
	rows := &types.Rows{}
	first := true
	paginator := athenasdk.NewGetQueryResultsPaginator(c.athena, &athenasdk.GetQueryResultsInput{
		QueryExecutionId: aws.String(queryID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if rows.Columns == nil && page.ResultSet.ResultSetMetadata != nil {
			for _, col := range page.ResultSet.ResultSetMetadata.ColumnInfo {
				rows.Columns = append(rows.Columns, aws.ToString(col.Name))
			}
		}
		for _, row := range page.ResultSet.Rows {
			if first {
				first = false
				continue
			}
			record := make([]any, len(row.Data))
			for i, datum := range row.Data {
				if datum.VarCharValue == nil {
					record[i] = nil
				} else {
					record[i] = aws.ToString(datum.VarCharValue)
				}
			}
			rows.Records = append(rows.Records, record)
		}
	}
	return rows, nil
}

func (c *Connection) retryOptions() retry.Options {
	return retry.Options{
		MaxAttempts: c.opts.MaxAttempts,
		BaseDelay:   c.opts.BaseDelay,
		IsTransient: IsTransient,
		Logger:      c.logger,
	}
}

func (c *Connection) wrapNotFound(err error) error {
	var failed *QueryFailedError
	if errors.As(err, &failed) && strings.Contains(failed.Reason, "does not exist") {
		return fmt.Errorf("%w: %s", dbschema.ErrTableNotFound, failed.Reason)
	}
	return err
}

// QueryFailedError reports a query that settled in FAILED or CANCELLED
// state, carrying the engine's state change reason.
type QueryFailedError struct {
	QueryID string
	State   string
	Reason  string
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("query %s %s: %s", e.QueryID, strings.ToLower(e.State), e.Reason)
}

// IsTransient classifies engine failures worth retrying: API throttling,
// internal query engine errors, and resource exhaustion at scale.
func IsTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return true
		}
	}
	var failed *QueryFailedError
	if errors.As(err, &failed) {
		if strings.Contains(failed.Reason, "INTERNAL_ERROR_QUERY_ENGINE") {
			return true
		}
		if strings.Contains(failed.Reason, "Query exhausted resources at this scale factor") {
			return true
		}
	}
	return false
}

// partitionSuffixes returns the distinct hive-style partition paths
// (col=value/...) present in rows, in first-seen order.
func partitionSuffixes(rows *types.Rows, partitionColumns []string) []string {
	if len(partitionColumns) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(partitionColumns))
	for _, col := range partitionColumns {
		i, err := rows.Column(col)
		if err != nil {
			continue
		}
		indexes = append(indexes, i)
	}

	seen := make(map[string]bool)
	var suffixes []string
	for _, record := range rows.Records {
		parts := make([]string, len(indexes))
		for j, i := range indexes {
			parts[j] = fmt.Sprintf("%s=%v", rows.Columns[i], record[i])
		}
		suffix := strings.Join(parts, "/")
		if !seen[suffix] {
			seen[suffix] = true
			suffixes = append(suffixes, suffix)
		}
	}
	return suffixes
}

// encodeCSV renders rows as CSV bodies keyed by partition path prefix
// ("" for unpartitioned data). Partition columns are carried in the path,
// not in the file, following the hive layout.
func encodeCSV(rows *types.Rows, partitionColumns []string) map[string][]byte {
	partIdx := make(map[int]bool)
	for _, col := range partitionColumns {
		if i, err := rows.Column(col); err == nil {
			partIdx[i] = true
		}
	}

	bodies := make(map[string]*strings.Builder)
	for _, record := range rows.Records {
		var pathParts []string
		var fields []string
		for i, v := range record {
			text := ""
			if v != nil {
				text = fmt.Sprintf("%v", v)
			}
			if partIdx[i] {
				pathParts = append(pathParts, fmt.Sprintf("%s=%s", rows.Columns[i], text))
				continue
			}
			fields = append(fields, csvEscape(text))
		}
		suffix := ""
		if len(pathParts) > 0 {
			suffix = strings.Join(pathParts, "/") + "/"
		}
		b, ok := bodies[suffix]
		if !ok {
			b = &strings.Builder{}
			bodies[suffix] = b
		}
		b.WriteString(strings.Join(fields, ","))
		b.WriteString("\n")
	}

	out := make(map[string][]byte, len(bodies))
	for suffix, b := range bodies {
		out[suffix] = []byte(b.String())
	}
	return out
}

func csvEscape(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// objectName builds a unique-enough object file name for a write.
func objectName() string {
	return fmt.Sprintf("%d.csv", time.Now().UnixNano())
}
