package migrate_test

import (
	"io"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/lakeshift/lakeshift/cmd/migrate"
)

func TestMigrateCommand_RequiresTarget(t *testing.T) {
	c := qt.New(t)

	cmd := migrate.NewMigrateCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	c.Assert(err, qt.ErrorMatches, `required flag\(s\) "target" not set`)
}
