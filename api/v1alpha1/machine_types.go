package v1alpha1

import "time"

// MachineSpec is the persisted record for one logical machine.
//
// Location is non-nil exactly when a platform resource is believed to exist.
// Location.ServerID is the only key used to find that resource again; Name
// is not trusted to be unique across time.
type MachineSpec struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// Name is the stable identifier of the machine.
	Name string `json:"name" yaml:"name"`

	// ID is the bootstrap/session identifier, written into the BootstrapId tag.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Location links the record to a platform resource once allocated.
	// +optional
	Location *Location `json:"location,omitempty" yaml:"location,omitempty"`

	// Status is the last observed lifecycle state.
	// +optional
	Status MachineStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// Location records the platform linkage of an allocated machine.
type Location struct {
	// DriverURL is the canonical URL of the driver that created the resource.
	DriverURL string `json:"driverURL" yaml:"driver_url"`

	// DriverVersion is the anvil version that created the resource.
	DriverVersion string `json:"driverVersion" yaml:"driver_version"`

	// ServerID is the platform-assigned stable identifier (domain UUID).
	ServerID string `json:"serverID" yaml:"server_id"`

	// IsWindows is the guest family observed at allocation time.
	IsWindows bool `json:"isWindows" yaml:"is_windows"`

	// AllocatedAt is when the resource was created (UTC).
	AllocatedAt Time `json:"allocatedAt" yaml:"allocated_at"`

	// StartedAt is set by the automatic restart and re-bases the wait budget
	// onto the start timeout.
	// +optional
	StartedAt *Time `json:"startedAt,omitempty" yaml:"started_at,omitempty"`

	// +optional
	KeyName string `json:"keyName,omitempty" yaml:"key_name,omitempty"`
	// +optional
	SSHUsername string `json:"sshUsername,omitempty" yaml:"ssh_username,omitempty"`
	// +optional
	Sudo bool `json:"sudo,omitempty" yaml:"sudo,omitempty"`
	// +optional
	UsePrivateIPForSSH bool `json:"usePrivateIPForSSH,omitempty" yaml:"use_private_ip_for_ssh,omitempty"`
	// +optional
	SSHGateway string `json:"sshGateway,omitempty" yaml:"ssh_gateway,omitempty"`
}

// MachineStatus is the observed lifecycle state of a machine.
type MachineStatus struct {
	// +optional
	Phase MachinePhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// MachinePhase is the lifecycle phase of a machine.
type MachinePhase string

const (
	// MachinePhaseUnallocated means no platform resource exists yet.
	MachinePhaseUnallocated MachinePhase = "Unallocated"

	// MachinePhaseAllocated means the resource exists and may be powered off.
	MachinePhaseAllocated MachinePhase = "Allocated"

	// MachinePhaseReady means guest tools run, the guest has an address and
	// the remote transport answers.
	MachinePhaseReady MachinePhase = "Ready"

	// MachinePhaseStopped means the resource exists and is powered off.
	MachinePhaseStopped MachinePhase = "Stopped"

	// MachinePhaseDestroyed is terminal; the record's location is cleared.
	MachinePhaseDestroyed MachinePhase = "Destroyed"
)

// Standard condition types for machines.
const (
	ConditionAllocated          = "Allocated"
	ConditionReady              = "Ready"
	ConditionTransportAvailable = "TransportAvailable"
)

// GuestFamily is the operating system family of a guest.
type GuestFamily int

const (
	// GuestFamilyUnix covers Linux and other SSH-managed guests.
	GuestFamilyUnix GuestFamily = iota
	// GuestFamilyWindows covers Windows guests.
	GuestFamilyWindows
)

func (f GuestFamily) String() string {
	switch f {
	case GuestFamilyUnix:
		return "unix"
	case GuestFamilyWindows:
		return "windows"
	default:
		return "unknown"
	}
}

// FamilyFor maps the persisted IsWindows flag to a GuestFamily.
func FamilyFor(isWindows bool) GuestFamily {
	if isWindows {
		return GuestFamilyWindows
	}
	return GuestFamilyUnix
}

// MachineOptions are caller-supplied creation and readiness options. They are
// never persisted.
type MachineOptions struct {
	// BootstrapOptions are the creation parameters handed to the platform.
	// +optional
	BootstrapOptions *BootstrapOptions `json:"bootstrapOptions,omitempty" yaml:"bootstrap_options,omitempty"`

	// StartTimeout bounds readiness waits after an automatic restart.
	StartTimeout time.Duration `json:"startTimeout,omitempty" yaml:"start_timeout,omitempty"`

	// CreateTimeout bounds readiness waits measured from allocation.
	CreateTimeout time.Duration `json:"createTimeout,omitempty" yaml:"create_timeout,omitempty"`

	// StopTimeout bounds the wait for a graceful guest shutdown before the
	// machine is powered off hard.
	// +optional
	StopTimeout time.Duration `json:"stopTimeout,omitempty" yaml:"stop_timeout,omitempty"`

	// +optional
	ConvergenceOptions *ConvergenceOptions `json:"convergenceOptions,omitempty" yaml:"convergence_options,omitempty"`

	// Passthrough fields copied into the location at allocation.
	// +optional
	SSHUsername string `json:"sshUsername,omitempty" yaml:"ssh_username,omitempty"`
	// +optional
	Sudo bool `json:"sudo,omitempty" yaml:"sudo,omitempty"`
	// +optional
	UsePrivateIPForSSH bool `json:"usePrivateIPForSSH,omitempty" yaml:"use_private_ip_for_ssh,omitempty"`
	// +optional
	SSHGateway string `json:"sshGateway,omitempty" yaml:"ssh_gateway,omitempty"`
}

// Name-conflict policies for allocation.
const (
	// NameConflictReuse adopts a same-named resource found in the target folder.
	NameConflictReuse = "reuse"
	// NameConflictError fails allocation when a same-named resource exists.
	NameConflictError = "error"
)

// BootstrapOptions are the creation parameters for a machine. Placement
// fields are passed to the platform without interpretation.
type BootstrapOptions struct {
	// Name of the resource to create. Defaults to the machine name.
	// +optional
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// KeyName names the key pair used for bootstrap access.
	// +optional
	KeyName string `json:"keyName,omitempty" yaml:"key_name,omitempty"`

	// Tags are attached to the resource. Caller tags override the reserved
	// Name, BootstrapId, BootstrapHost and BootstrapUser tags.
	// +optional
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	Datacenter     string `json:"datacenter,omitempty" yaml:"datacenter,omitempty"`
	TemplateFolder string `json:"templateFolder,omitempty" yaml:"template_folder,omitempty"`
	TemplateName   string `json:"templateName,omitempty" yaml:"template_name,omitempty"`
	VMFolder       string `json:"vmFolder,omitempty" yaml:"vm_folder,omitempty"`
	Datastore      string `json:"datastore,omitempty" yaml:"datastore,omitempty"`
	ResourcePool   string `json:"resourcePool,omitempty" yaml:"resource_pool,omitempty"`
	Cluster        string `json:"cluster,omitempty" yaml:"cluster,omitempty"`

	// SSH configures the SSH transport. It is the only supported bootstrap
	// transport.
	// +optional
	SSH *SSHOptions `json:"ssh,omitempty" yaml:"ssh,omitempty"`

	// WinRM is accepted for completeness but rejected at allocation.
	// +optional
	WinRM *WinRMOptions `json:"winrm,omitempty" yaml:"winrm,omitempty"`

	// AuthorizedKeys are written into the clone's seed image.
	// +optional
	AuthorizedKeys []string `json:"authorizedKeys,omitempty" yaml:"authorized_keys,omitempty"`

	// OnNameConflict is "reuse" (default) or "error".
	// +optional
	OnNameConflict string `json:"onNameConflict,omitempty" yaml:"on_name_conflict,omitempty"`

	// Extra holds platform options anvil does not interpret.
	// +optional
	Extra map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// SSHOptions configure the SSH transport.
type SSHOptions struct {
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`
	User string `json:"user,omitempty" yaml:"user,omitempty"`
	// +optional
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	// +optional
	KeyFile string `json:"keyFile,omitempty" yaml:"key_file,omitempty"`
	// +optional
	PrivateKey string `json:"privateKey,omitempty" yaml:"private_key,omitempty"`
	// Timeout bounds a single connection attempt.
	// +optional
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WinRMOptions configure the WinRM transport.
type WinRMOptions struct {
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`
	User string `json:"user,omitempty" yaml:"user,omitempty"`
}

// ConvergenceOptions configure post-boot software convergence.
type ConvergenceOptions struct {
	// ServerURL is the configuration server the machine registers with.
	// +optional
	ServerURL string `json:"serverURL,omitempty" yaml:"server_url,omitempty"`

	// InstallerPath is a locally cached installer uploaded to the guest.
	// +optional
	InstallerPath string `json:"installerPath,omitempty" yaml:"installer_path,omitempty"`

	// RunCommand is executed on the guest after installation.
	// +optional
	RunCommand string `json:"runCommand,omitempty" yaml:"run_command,omitempty"`
}

// Manifest is the on-disk description of a machine handed to the CLI.
type Manifest struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec ManifestSpec `json:"spec" yaml:"spec"`
}

// ManifestSpec carries the machine options of a manifest.
type ManifestSpec struct {
	MachineOptions MachineOptions `json:"machineOptions" yaml:"machineOptions"`
}

// DeepCopy creates a deep copy of MachineSpec.
func (in *MachineSpec) DeepCopy() *MachineSpec {
	if in == nil {
		return nil
	}
	out := new(MachineSpec)
	*out = *in
	out.Location = in.Location.DeepCopy()
	if in.Status.Conditions != nil {
		out.Status.Conditions = make([]Condition, len(in.Status.Conditions))
		copy(out.Status.Conditions, in.Status.Conditions)
	}
	return out
}

// DeepCopy creates a deep copy of Location.
func (in *Location) DeepCopy() *Location {
	if in == nil {
		return nil
	}
	out := new(Location)
	*out = *in
	out.StartedAt = in.StartedAt.DeepCopy()
	return out
}

// DeepCopy creates a deep copy of MachineOptions.
func (in *MachineOptions) DeepCopy() *MachineOptions {
	if in == nil {
		return nil
	}
	out := new(MachineOptions)
	*out = *in
	out.BootstrapOptions = in.BootstrapOptions.DeepCopy()
	if in.ConvergenceOptions != nil {
		c := *in.ConvergenceOptions
		out.ConvergenceOptions = &c
	}
	return out
}

// DeepCopy creates a deep copy of BootstrapOptions.
func (in *BootstrapOptions) DeepCopy() *BootstrapOptions {
	if in == nil {
		return nil
	}
	out := new(BootstrapOptions)
	*out = *in
	out.Tags = copyStringMap(in.Tags)
	out.Extra = copyStringMap(in.Extra)
	if in.SSH != nil {
		ssh := *in.SSH
		out.SSH = &ssh
	}
	if in.WinRM != nil {
		winrm := *in.WinRM
		out.WinRM = &winrm
	}
	if in.AuthorizedKeys != nil {
		out.AuthorizedKeys = make([]string, len(in.AuthorizedKeys))
		copy(out.AuthorizedKeys, in.AuthorizedKeys)
	}
	return out
}
