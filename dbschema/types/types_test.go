package types_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/lakeshift/lakeshift/dbschema/types"
)

func TestDeriveBackup(t *testing.T) {
	c := qt.New(t)

	meta := types.TableMeta{
		Name:     "events",
		Location: "s3://bucket/warehouse/events",
	}
	meta.DeriveBackup()

	c.Assert(meta.BackupName, qt.Equals, "events__backup")
	c.Assert(meta.BackupLocation, qt.Equals, "s3://bucket/warehouse/events__backup")
}

func TestDeriveBackup_TrailingSlashLocation(t *testing.T) {
	c := qt.New(t)

	meta := types.TableMeta{
		Name:     "events",
		Location: "s3://bucket/warehouse/events/",
	}
	meta.DeriveBackup()

	// The backup must be a sibling of the original, never a child:
	// a nested prefix would be wiped together with the original's data.
	c.Assert(meta.BackupLocation, qt.Equals, "s3://bucket/warehouse/events__backup")
}

func TestDeriveBackup_NoLocation(t *testing.T) {
	c := qt.New(t)

	meta := types.TableMeta{Name: "events"}
	meta.DeriveBackup()

	c.Assert(meta.BackupName, qt.Equals, "events__backup")
	c.Assert(meta.BackupLocation, qt.Equals, "")
}

func TestPartitionColumnRendering(t *testing.T) {
	c := qt.New(t)

	meta := types.TableMeta{PartitionColumns: []string{"year", "month"}}
	c.Assert(meta.QuotedPartitionColumns(), qt.Equals, "'year', 'month'")
	c.Assert(meta.JoinedPartitionColumns(), qt.Equals, "year, month")
}

func TestRows_Accessors(t *testing.T) {
	c := qt.New(t)

	rows := &types.Rows{
		Columns: []string{"version", "locked", "note"},
		Records: [][]any{{int64(3), "1", nil}},
	}

	c.Assert(rows.Len(), qt.Equals, 1)

	v, err := rows.Int(0, "version")
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, 3)

	locked, err := rows.Int(0, "locked")
	c.Assert(err, qt.IsNil)
	c.Assert(locked, qt.Equals, 1)

	note, err := rows.String(0, "note")
	c.Assert(err, qt.IsNil)
	c.Assert(note, qt.Equals, "")

	_, err = rows.Int(0, "absent")
	c.Assert(err, qt.ErrorMatches, `result has no column "absent"`)
}
