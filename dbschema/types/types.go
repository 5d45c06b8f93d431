// Package types holds the shared data model for lakeshift store backends.
package types

import (
	"fmt"
	"strings"
)

// InsertMode controls how an insert treats existing table data.
type InsertMode string

const (
	// Append adds records without touching existing data.
	Append InsertMode = "append"
	// Overwrite replaces the entire table content.
	Overwrite InsertMode = "overwrite"
	// OverwritePartitions replaces only the partitions present in the
	// inserted records.
	OverwritePartitions InsertMode = "overwrite_partitions"
)

// Rows is a tabular query result: column names plus typed records.
type Rows struct {
	Columns []string `json:"columns"`
	Records [][]any  `json:"records"`
}

// Len returns the number of records.
func (r *Rows) Len() int {
	return len(r.Records)
}

// Column returns the index of the named column, or an error if the
// result does not carry it.
func (r *Rows) Column(name string) (int, error) {
	for i, col := range r.Columns {
		if strings.EqualFold(col, name) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("result has no column %q", name)
}

// String returns the value at (row, column name) rendered as a string.
func (r *Rows) String(row int, name string) (string, error) {
	i, err := r.Column(name)
	if err != nil {
		return "", err
	}
	v := r.Records[row][i]
	if v == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", v), nil
}

// Int returns the value at (row, column name) as an integer. Engines
// disagree about numeric scan types, so anything integral is accepted.
func (r *Rows) Int(row int, name string) (int, error) {
	i, err := r.Column(name)
	if err != nil {
		return 0, err
	}
	switch v := r.Records[row][i].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err != nil {
			return 0, fmt.Errorf("column %q value %q is not an integer", name, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("column %q has non-integer type %T", name, v)
	}
}

// TableMeta describes a table at restructuring time. It is derived fresh
// from the catalog for each rebuild and discarded afterwards.
type TableMeta struct {
	// Name is the table's catalog name.
	Name string

	// PartitionColumns are the partition key column names, in declaration
	// order. Empty for unpartitioned tables.
	PartitionColumns []string

	// Location is the table's storage prefix (e.g. s3://bucket/db/table).
	Location string

	// BackupName is always Name + "__backup".
	BackupName string

	// BackupLocation is a sibling of Location, never a child; a nested
	// backup prefix would fall inside the original's deletion prefix.
	BackupLocation string

	// TemplateContext carries caller variables into every statement
	// template rendered during the rebuild.
	TemplateContext map[string]any
}

// BackupSuffix is appended to a table name to form its backup twin.
const BackupSuffix = "__backup"

// DeriveBackup fills BackupName and BackupLocation from Name and
// Location. The backup location is placed next to the original:
// s3://bucket/db/table becomes s3://bucket/db/table__backup.
func (t *TableMeta) DeriveBackup() {
	t.BackupName = t.Name + BackupSuffix
	if t.Location == "" {
		return
	}
	base := strings.TrimSuffix(t.Location, "/")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i]
	}
	t.BackupLocation = base + "/" + t.BackupName
}

// QuotedPartitionColumns renders the partition columns as a
// comma-separated list of SQL string literals ('a', 'b').
func (t *TableMeta) QuotedPartitionColumns() string {
	quoted := make([]string, len(t.PartitionColumns))
	for i, col := range t.PartitionColumns {
		quoted[i] = "'" + col + "'"
	}
	return strings.Join(quoted, ", ")
}

// JoinedPartitionColumns renders the partition columns as a plain
// comma-separated list (a, b).
func (t *TableMeta) JoinedPartitionColumns() string {
	return strings.Join(t.PartitionColumns, ", ")
}
