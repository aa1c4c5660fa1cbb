package utils

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// WriteStructured writes data to w as JSON or YAML.
// Returns an error for any other format.
func WriteStructured(w io.Writer, format string, data interface{}) error {
	var out []byte
	var err error
	switch format {
	case FormatJSON:
		out, err = MarshalJSON(data)
		if err == nil {
			out = append(out, '\n')
		}
	case FormatYAML:
		out, err = MarshalYAML(data)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// MarshalJSON marshals the provided data as indented JSON.
func MarshalJSON(data interface{}) ([]byte, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return jsonData, nil
}

// MarshalYAML marshals the provided data as YAML.
func MarshalYAML(data interface{}) ([]byte, error) {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return yamlData, nil
}
