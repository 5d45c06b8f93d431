package athena_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	athenasdk "github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	qt "github.com/frankban/quicktest"

	"github.com/lakeshift/lakeshift/dbschema"
	"github.com/lakeshift/lakeshift/dbschema/athena"
	"github.com/lakeshift/lakeshift/objstore"
)

// fakeQueries runs every statement successfully and records the SQL.
type fakeQueries struct {
	executed []string
	failWith string // when set, queries settle FAILED with this reason
}

func (f *fakeQueries) StartQueryExecution(_ context.Context, params *athenasdk.StartQueryExecutionInput, _ ...func(*athenasdk.Options)) (*athenasdk.StartQueryExecutionOutput, error) {
	f.executed = append(f.executed, aws.ToString(params.QueryString))
	id := fmt.Sprintf("q-%d", len(f.executed))
	return &athenasdk.StartQueryExecutionOutput{QueryExecutionId: aws.String(id)}, nil
}

func (f *fakeQueries) GetQueryExecution(_ context.Context, params *athenasdk.GetQueryExecutionInput, _ ...func(*athenasdk.Options)) (*athenasdk.GetQueryExecutionOutput, error) {
	status := &athenatypes.QueryExecutionStatus{State: athenatypes.QueryExecutionStateSucceeded}
	if f.failWith != "" {
		status.State = athenatypes.QueryExecutionStateFailed
		status.StateChangeReason = aws.String(f.failWith)
	}
	return &athenasdk.GetQueryExecutionOutput{
		QueryExecution: &athenatypes.QueryExecution{
			QueryExecutionId: params.QueryExecutionId,
			Status:           status,
		},
	}, nil
}

func (f *fakeQueries) GetQueryResults(_ context.Context, _ *athenasdk.GetQueryResultsInput, _ ...func(*athenasdk.Options)) (*athenasdk.GetQueryResultsOutput, error) {
	return &athenasdk.GetQueryResultsOutput{
		ResultSet: &athenatypes.ResultSet{
			ResultSetMetadata: &athenatypes.ResultSetMetadata{
				ColumnInfo: []athenatypes.ColumnInfo{{Name: aws.String("region")}},
			},
			Rows: []athenatypes.Row{
				{Data: []athenatypes.Datum{{VarCharValue: aws.String("region")}}}, // header row
				{Data: []athenatypes.Datum{{VarCharValue: aws.String("A")}}},
				{Data: []athenatypes.Datum{{VarCharValue: nil}}},
			},
		},
	}, nil
}

// fakeCatalog serves a single table definition.
type fakeCatalog struct {
	table *gluetypes.Table
}

func (f *fakeCatalog) GetTable(_ context.Context, params *glue.GetTableInput, _ ...func(*glue.Options)) (*glue.GetTableOutput, error) {
	if f.table == nil || aws.ToString(params.Name) != aws.ToString(f.table.Name) {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("Entity Not Found")}
	}
	return &glue.GetTableOutput{Table: f.table}, nil
}

// fakeS3 is a minimal in-memory object store.
type fakeS3 struct {
	keys []string
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)
	var contents []s3types.Object
	for _, key := range f.keys {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			contents = append(contents, s3types.Object{Key: aws.String(key), Size: aws.Int64(1)})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	remove := make(map[string]bool)
	for _, obj := range params.Delete.Objects {
		remove[aws.ToString(obj.Key)] = true
	}
	var kept []string
	for _, key := range f.keys {
		if !remove[key] {
			kept = append(kept, key)
		}
	}
	f.keys = kept
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, aws.ToString(params.Key))
	return &s3.PutObjectOutput{}, nil
}

func newTestConnection(t *testing.T, queries *fakeQueries, catalog *fakeCatalog) (*athena.Connection, *fakeS3) {
	t.Helper()
	store := &fakeS3{}
	bucket := objstore.NewBucket(store, "data")
	conn, err := athena.New(queries, catalog, bucket, athena.Options{
		Database:         "warehouse",
		OutputLocation:   "s3://data/athena-results/",
		DatabaseLocation: "s3://data/warehouse",
		MaxAttempts:      1,
		BaseDelay:        time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return conn, store
}

func TestExecute_SplitsBatchedStatements(t *testing.T) {
	c := qt.New(t)

	queries := &fakeQueries{}
	conn, _ := newTestConnection(t, queries, &fakeCatalog{})

	err := conn.Execute(context.Background(), "create table a (x int)\n-- !break\ndrop table b", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(queries.executed, qt.DeepEquals, []string{
		"create table a (x int)",
		"drop table b",
	})
}

func TestSelect_SkipsHeaderRow(t *testing.T) {
	c := qt.New(t)

	conn, _ := newTestConnection(t, &fakeQueries{}, &fakeCatalog{})

	rows, err := conn.Select(context.Background(), "select distinct region from events", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(rows.Columns, qt.DeepEquals, []string{"region"})
	c.Assert(rows.Records, qt.DeepEquals, [][]any{{"A"}, {nil}})
}

func TestDescribeTable(t *testing.T) {
	c := qt.New(t)

	catalog := &fakeCatalog{table: &gluetypes.Table{
		Name: aws.String("events"),
		PartitionKeys: []gluetypes.Column{
			{Name: aws.String("region")},
		},
		StorageDescriptor: &gluetypes.StorageDescriptor{
			Location: aws.String("s3://data/warehouse/events"),
		},
	}}
	conn, _ := newTestConnection(t, &fakeQueries{}, catalog)

	meta, err := conn.DescribeTable(context.Background(), "events")
	c.Assert(err, qt.IsNil)
	c.Assert(meta.PartitionColumns, qt.DeepEquals, []string{"region"})
	c.Assert(meta.Location, qt.Equals, "s3://data/warehouse/events")
	c.Assert(meta.BackupName, qt.Equals, "events__backup")
	c.Assert(meta.BackupLocation, qt.Equals, "s3://data/warehouse/events__backup")
}

func TestDescribeTable_NotFound(t *testing.T) {
	c := qt.New(t)

	conn, _ := newTestConnection(t, &fakeQueries{}, &fakeCatalog{})

	_, err := conn.DescribeTable(context.Background(), "missing")
	c.Assert(errors.Is(err, dbschema.ErrTableNotFound), qt.IsTrue)
}

func TestSelect_TableNotFoundFromEngine(t *testing.T) {
	c := qt.New(t)

	queries := &fakeQueries{failWith: "Table awsdatacatalog.warehouse.version does not exist"}
	conn, _ := newTestConnection(t, queries, &fakeCatalog{})

	_, err := conn.Select(context.Background(), "select * from version", nil)
	c.Assert(errors.Is(err, dbschema.ErrTableNotFound), qt.IsTrue)
}

func TestWriteVersionRecord_OverwritesBackingObject(t *testing.T) {
	c := qt.New(t)

	conn, store := newTestConnection(t, &fakeQueries{}, &fakeCatalog{})
	store.keys = []string{"warehouse/version/old.csv"}

	err := conn.WriteVersionRecord(context.Background(), "version", 3, true)
	c.Assert(err, qt.IsNil)
	c.Assert(store.keys, qt.HasLen, 1)
	c.Assert(store.keys[0], qt.Not(qt.Equals), "warehouse/version/old.csv")
	c.Assert(store.keys[0], qt.Matches, `warehouse/version/\d+\.csv`)
}

func TestIsTransient(t *testing.T) {
	c := qt.New(t)

	c.Assert(athena.IsTransient(&athena.QueryFailedError{Reason: "INTERNAL_ERROR_QUERY_ENGINE"}), qt.IsTrue)
	c.Assert(athena.IsTransient(&athena.QueryFailedError{Reason: "Query exhausted resources at this scale factor"}), qt.IsTrue)
	c.Assert(athena.IsTransient(&athena.QueryFailedError{Reason: "SYNTAX_ERROR: line 1:8"}), qt.IsFalse)
	c.Assert(athena.IsTransient(errors.New("plain error")), qt.IsFalse)
}
