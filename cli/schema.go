package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/dagrun/dagrun/engine/catalog"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/config"
)

type schemaDefinition struct {
	name   string
	title  string
	source any
}

// schemaDefinitions lists the document shapes exported for editor
// completion and CI validation.
var schemaDefinitions = []schemaDefinition{
	{name: "document", title: "Definition document envelope", source: &catalog.Document{}},
	{name: "workflow", title: "Workflow definition", source: &workflow.Config{}},
	{name: "task", title: "Task definition", source: &task.Config{}},
}

// SchemaCmd builds the JSON schema export command.
func SchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Export JSON schemas for definition files",
		Long: "Generate JSON schemas describing the definition document envelope and\n" +
			"the workflow and task shapes, for editor completion and CI validation.",
		Example: `  dagrun schema
  dagrun schema --dir ./schemas`,
		RunE: runSchema,
	}
	cmd.Flags().String("dir", "", "Write one <name>.schema.json per shape into this directory instead of stdout")
	return cmd
}

func runSchema(cmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(cmd.Context())
	outDir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}

	if outDir != "" {
		return writeSchemaFiles(cmd, cfg, outDir)
	}

	combined := map[string]*jsonschema.Schema{}
	for _, def := range schemaDefinitions {
		combined[def.name] = buildSchema(def)
	}
	return printDoc(cmd, cfg, combined)
}

func writeSchemaFiles(cmd *cobra.Command, cfg *config.Config, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, def := range schemaDefinitions {
		data, err := json.MarshalIndent(buildSchema(def), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s schema: %w", def.name, err)
		}
		path := filepath.Join(outDir, def.name+".schema.json")
		if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		statusLine(cmd, cfg, mutedStyle, "wrote %s", path)
	}
	return nil
}

func buildSchema(def schemaDefinition) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  false,
	}
	schema := reflector.Reflect(def.source)
	schema.ID = jsonschema.ID("https://dagrun.dev/schemas/" + def.name + ".schema.json")
	schema.Title = def.title
	schema.Version = "http://json-schema.org/draft-07/schema#"
	return schema
}
