package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// parseInputs merges --input key=value pairs over the contents of
// --input-file. Flag values parse as JSON literals when they form one, so
// numbers, booleans, arrays and objects keep their types; anything else
// stays a string. Returns nil when no inputs were given.
func parseInputs(cmd *cobra.Command) (map[string]any, error) {
	inputs := map[string]any{}

	pairs, err := cmd.Flags().GetStringArray("input")
	if err != nil {
		return nil, err
	}
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid input %q (expected key=value)", pair)
		}
		inputs[key] = parseInputValue(strings.TrimSpace(raw))
	}

	file, err := cmd.Flags().GetString("input-file")
	if err != nil {
		return nil, err
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		fromFile := map[string]any{}
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("parse input file %s: %w", file, err)
		}
		// Flag values win over file values.
		for k, v := range fromFile {
			if _, ok := inputs[k]; !ok {
				inputs[k] = v
			}
		}
	}

	if len(inputs) == 0 {
		return nil, nil
	}
	return inputs, nil
}

func parseInputValue(raw string) any {
	if !gjson.Valid(raw) {
		return raw
	}
	parsed := gjson.Parse(raw)
	switch parsed.Type {
	case gjson.Number, gjson.True, gjson.False, gjson.String, gjson.JSON:
		return parsed.Value()
	default:
		return raw
	}
}

// registerInputFlags adds the shared input flags to a command.
func registerInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("input", nil, "Workflow input as key=value (repeatable, values parse as JSON literals)")
	cmd.Flags().String("input-file", "", "Path to a JSON file with workflow inputs")
}
