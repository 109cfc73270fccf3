package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// writeOutput renders v as indented JSON or YAML.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	}
	return eris.Errorf("unsupported output format %q (json or yaml)", format)
}
