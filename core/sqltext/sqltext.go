// Package sqltext renders SQL templates and splits batched statements.
//
// Migration scripts are plain SQL files with Go template placeholders
// (the chunked insert contract uses exactly one {{.chunk}} marker).
// Multiple statements can be batched in one file, separated by the
// literal `-- !break` line, because some engines execute only one
// statement per submission.
package sqltext

import (
	"fmt"
	"strings"
	"text/template"
)

// BreakSeparator splits a batched script into individual statements.
const BreakSeparator = "-- !break"

// Render substitutes context values into a SQL template.
func Render(sql string, context map[string]any) (string, error) {
	tpl, err := template.New("sql").Option("missingkey=error").Parse(sql)
	if err != nil {
		return "", fmt.Errorf("failed to parse SQL template: %w", err)
	}
	var b strings.Builder
	if err := tpl.Execute(&b, context); err != nil {
		return "", fmt.Errorf("failed to render SQL template: %w", err)
	}
	return b.String(), nil
}

// Split breaks a batched script on BreakSeparator, trimming whitespace
// and dropping empty statements.
func Split(sql string) []string {
	parts := strings.Split(sql, BreakSeparator)
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			statements = append(statements, part)
		}
	}
	return statements
}
