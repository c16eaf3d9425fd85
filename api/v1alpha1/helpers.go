package v1alpha1

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for anvil resources.
	GroupName = "anvil.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// MachineKind is the kind string for Machine manifests and records.
	MachineKind = "Machine"
)

// APIVersion returns the group/version string written into records.
func APIVersion() string {
	return GroupName + "/" + Version
}

// NewMachineSpec creates an unallocated machine record with a fresh
// bootstrap ID.
func NewMachineSpec(name string) *MachineSpec {
	return &MachineSpec{
		TypeMeta: TypeMeta{
			APIVersion: APIVersion(),
			Kind:       MachineKind,
		},
		Name: name,
		ID:   uuid.New().String(),
		Status: MachineStatus{
			Phase: MachinePhaseUnallocated,
		},
	}
}

// SetDefaultAPIVersion ensures the record has apiVersion and kind set.
// Useful when loading records written by hand.
func SetDefaultAPIVersion(spec *MachineSpec) {
	if spec.APIVersion == "" {
		spec.APIVersion = APIVersion()
	}
	if spec.Kind == "" {
		spec.Kind = MachineKind
	}
}

// IsAllocated reports whether the record links to a platform resource.
func (m *MachineSpec) IsAllocated() bool {
	return m.Location != nil
}

// ServerID returns the persisted platform identifier, or "" when unallocated.
func (m *MachineSpec) ServerID() string {
	if m.Location == nil {
		return ""
	}
	return m.Location.ServerID
}

// DriverURL returns the persisted driver URL, or "" when unallocated.
func (m *MachineSpec) DriverURL() string {
	if m.Location == nil {
		return ""
	}
	return m.Location.DriverURL
}

// Family returns the guest family recorded at allocation time.
func (m *MachineSpec) Family() GuestFamily {
	if m.Location == nil {
		return GuestFamilyUnix
	}
	return FamilyFor(m.Location.IsWindows)
}

// SSHPort returns the configured SSH port, or 0 when SSH is not configured.
func (b *BootstrapOptions) SSHPort() int {
	if b == nil || b.SSH == nil {
		return 0
	}
	return b.SSH.Port
}

// NameConflictPolicy returns the normalized name-conflict policy.
func (b *BootstrapOptions) NameConflictPolicy() string {
	if b == nil {
		return NameConflictReuse
	}
	switch strings.ToLower(strings.TrimSpace(b.OnNameConflict)) {
	case NameConflictError:
		return NameConflictError
	default:
		return NameConflictReuse
	}
}

// Normalize sanitizes manifest input to consistent formats.
func (m *Manifest) Normalize() {
	m.Name = strings.ToLower(strings.TrimSpace(m.Name))
	if b := m.Spec.MachineOptions.BootstrapOptions; b != nil {
		b.Name = strings.TrimSpace(b.Name)
		b.OnNameConflict = strings.ToLower(strings.TrimSpace(b.OnNameConflict))
	}
}
