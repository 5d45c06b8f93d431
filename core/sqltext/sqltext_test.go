package sqltext_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/lakeshift/lakeshift/core/sqltext"
)

func TestRender_SubstitutesContext(t *testing.T) {
	c := qt.New(t)

	got, err := sqltext.Render("insert into t select * from t__backup where {{.chunk}}", map[string]any{
		"chunk": "region = 'A'",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "insert into t select * from t__backup where region = 'A'")
}

func TestRender_MissingKeyFails(t *testing.T) {
	c := qt.New(t)

	_, err := sqltext.Render("select {{.missing}}", map[string]any{})
	c.Assert(err, qt.IsNotNil)
}

func TestRender_InvalidTemplateFails(t *testing.T) {
	c := qt.New(t)

	_, err := sqltext.Render("select {{.oops", nil)
	c.Assert(err, qt.ErrorMatches, "failed to parse SQL template: .*")
}

func TestSplit_BatchedStatements(t *testing.T) {
	c := qt.New(t)

	sql := "create table a (x int);\n-- !break\n\ninsert into a values (1);\n-- !break\n"
	got := sqltext.Split(sql)
	c.Assert(got, qt.DeepEquals, []string{
		"create table a (x int);",
		"insert into a values (1);",
	})
}

func TestSplit_SingleStatement(t *testing.T) {
	c := qt.New(t)

	got := sqltext.Split("  select 1  ")
	c.Assert(got, qt.DeepEquals, []string{"select 1"})
}
