package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// JSONFormatter writes records as indented JSON.
type JSONFormatter struct{}

// FormatMachine writes one record with its derived phase.
func (f *JSONFormatter) FormatMachine(spec *v1alpha1.MachineSpec) (string, error) {
	return marshalJSON(view(spec), "machine "+spec.Name)
}

// FormatMachineList writes a MachineList. An empty list still carries
// apiVersion, kind and an empty items array.
func (f *JSONFormatter) FormatMachineList(specs []*v1alpha1.MachineSpec) (string, error) {
	return marshalJSON(newMachineList(specs), "machine list")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
