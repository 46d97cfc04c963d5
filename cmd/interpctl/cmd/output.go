package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// render writes v as JSON or YAML, or calls table for the default format
func render(w io.Writer, v interface{}, table func(t *tablewriter.Table)) error {
	switch outputFormat {
	case "json":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(out))
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Fprint(w, string(out))
	case "table", "":
		t := tablewriter.NewWriter(w)
		table(t)
		t.Render()
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
	return nil
}
