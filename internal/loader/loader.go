// Package loader reads Machine manifests from YAML files.
package loader

import (
	"fmt"
	"os"
	"regexp"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// namePattern matches libvirt domain name requirements after normalization.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$`)

// LoadFromFile loads a Machine manifest from a YAML file.
func LoadFromFile(path string) (*v1alpha1.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML loads a Machine manifest from YAML bytes. The YAML must be in
// the anvil.cofront.xyz/v1alpha1 format.
func LoadFromYAML(data []byte) (*v1alpha1.Manifest, error) {
	var m v1alpha1.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if m.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if m.Kind == "" {
		return nil, fmt.Errorf("missing required field: kind")
	}
	if m.APIVersion != v1alpha1.APIVersion() {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", m.APIVersion, v1alpha1.APIVersion())
	}
	if m.Kind != v1alpha1.MachineKind {
		return nil, fmt.Errorf("unsupported kind: %s (expected: %s)", m.Kind, v1alpha1.MachineKind)
	}

	m.Normalize()

	if err := validate(&m); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &m, nil
}

func validate(m *v1alpha1.Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("metadata.name must start and end with alphanumeric characters and contain only alphanumeric, hyphens, or underscores, got %q", m.Name)
	}

	opts := m.Spec.MachineOptions
	if opts.StartTimeout < 0 {
		return fmt.Errorf("spec.machineOptions.start_timeout must not be negative")
	}
	if opts.CreateTimeout < 0 {
		return fmt.Errorf("spec.machineOptions.create_timeout must not be negative")
	}
	if opts.StopTimeout < 0 {
		return fmt.Errorf("spec.machineOptions.stop_timeout must not be negative")
	}

	b := opts.BootstrapOptions
	if b == nil {
		return nil
	}
	switch b.OnNameConflict {
	case "", v1alpha1.NameConflictReuse, v1alpha1.NameConflictError:
	default:
		return fmt.Errorf("spec.machineOptions.bootstrap_options.on_name_conflict must be %q or %q, got %q",
			v1alpha1.NameConflictReuse, v1alpha1.NameConflictError, b.OnNameConflict)
	}
	if b.SSH != nil && (b.SSH.Port < 0 || b.SSH.Port > 65535) {
		return fmt.Errorf("spec.machineOptions.bootstrap_options.ssh.port out of range: %d", b.SSH.Port)
	}
	for i, key := range b.AuthorizedKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("spec.machineOptions.bootstrap_options.authorized_keys[%d] is not a valid SSH public key: %w", i, err)
		}
	}
	return nil
}
