// Package output renders machine records for the CLI as a table, YAML or
// JSON. Every format shows the phase derived from the record, so a record
// whose location was cleared never reads as Ready. Lists in YAML and JSON are
// MachineList objects.
package output

import (
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML uses the field names of the stored record.
	FormatYAML Format = "yaml"
	// FormatJSON uses the camelCase API field names.
	FormatJSON Format = "json"
)

// Formatter formats machine records for output.
type Formatter interface {
	// FormatMachine formats a single machine record.
	FormatMachine(spec *v1alpha1.MachineSpec) (string, error)

	// FormatMachineList formats a list of machine records.
	FormatMachineList(specs []*v1alpha1.MachineSpec) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
