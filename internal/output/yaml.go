package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// YAMLFormatter writes records in the layout they are stored in.
type YAMLFormatter struct{}

// FormatMachine writes one record with its derived phase.
func (f *YAMLFormatter) FormatMachine(spec *v1alpha1.MachineSpec) (string, error) {
	data, err := yaml.Marshal(view(spec))
	if err != nil {
		return "", fmt.Errorf("failed to marshal machine %s to YAML: %w", spec.Name, err)
	}
	return string(data), nil
}

// FormatMachineList writes a MachineList, the same object -o json writes.
func (f *YAMLFormatter) FormatMachineList(specs []*v1alpha1.MachineSpec) (string, error) {
	data, err := yaml.Marshal(newMachineList(specs))
	if err != nil {
		return "", fmt.Errorf("failed to marshal machine list to YAML: %w", err)
	}
	return string(data), nil
}
