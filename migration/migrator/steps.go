package migrator

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/lakeshift/lakeshift/dbschema"
)

// NoopStep is a StepFunc that does nothing. Useful for versions whose
// change only applies in one direction.
func NoopStep(context.Context, dbschema.Store, fs.FS, map[string]string) error {
	return nil
}

// StepFromSQL returns a StepFunc that reads the named script from the
// step's resource filesystem and executes it. The script is rendered as
// a template with the caller-supplied args, and may batch multiple
// statements with the `-- !break` separator.
func StepFromSQL(filename string) StepFunc {
	return func(ctx context.Context, store dbschema.Store, resources fs.FS, args map[string]string) error {
		if resources == nil {
			return fmt.Errorf("step script %s requires a resource filesystem", filename)
		}
		script, err := fs.ReadFile(resources, filename)
		if err != nil {
			return fmt.Errorf("failed to read step script: %w", err)
		}
		return store.Execute(ctx, string(script), TemplateArgs(args))
	}
}

// TemplateArgs converts step arguments into a template context.
func TemplateArgs(args map[string]string) map[string]any {
	context := make(map[string]any, len(args))
	for k, v := range args {
		context[k] = v
	}
	return context
}
