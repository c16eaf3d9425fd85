package storage

import "fmt"

// PoolType represents the type of storage pool backend.
type PoolType string

const (
	PoolTypeDir     PoolType = "dir"     // Directory-based storage
	PoolTypeLVM     PoolType = "logical" // LVM volume group
	PoolTypeNFS     PoolType = "netfs"   // NFS mount
	PoolTypeCeph    PoolType = "rbd"     // Ceph RBD
	PoolTypeUnknown PoolType = "unknown"
)

// VolumeType represents the purpose of a storage volume.
type VolumeType string

const (
	VolumeTypeDisk VolumeType = "disk" // Overlay of a template disk
	VolumeTypeSeed VolumeType = "seed" // NoCloud seed ISO
)

// VolumeFormat represents the disk format.
type VolumeFormat string

const (
	VolumeFormatQCOW2 VolumeFormat = "qcow2" // QCOW2 format
	VolumeFormatRaw   VolumeFormat = "raw"   // Raw format
)

// BackingVolume identifies the volume an overlay is layered on.
type BackingVolume struct {
	Pool   string       // Pool holding the backing volume
	Volume string       // Backing volume name
	Format VolumeFormat // Format of the backing volume
}

// VolumeSpec specifies how to create a storage volume.
type VolumeSpec struct {
	Name          string         // Volume name (e.g., "web1_vda.qcow2")
	Type          VolumeType     // Volume type
	Format        VolumeFormat   // Disk format (qcow2, raw)
	Capacity      uint64         // Capacity in bytes
	BackingVolume *BackingVolume // Optional: backing volume for qcow2 overlays
}

// Validate checks if the volume spec is valid.
func (v *VolumeSpec) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("volume name is required")
	}
	if v.Type == "" {
		return fmt.Errorf("volume type is required")
	}
	if v.Format != VolumeFormatQCOW2 && v.Format != VolumeFormatRaw {
		return fmt.Errorf("invalid volume format: %q (must be qcow2 or raw)", v.Format)
	}
	if v.Capacity == 0 && v.BackingVolume == nil {
		return fmt.Errorf("volume capacity must be greater than 0")
	}
	if v.BackingVolume != nil {
		if v.Format != VolumeFormatQCOW2 {
			return fmt.Errorf("backing volumes are only supported for qcow2 format")
		}
		if v.BackingVolume.Pool == "" || v.BackingVolume.Volume == "" {
			return fmt.Errorf("backing volume requires pool and volume")
		}
	}
	return nil
}

// PoolInfo contains information about a storage pool.
type PoolInfo struct {
	Name       string   // Pool name
	Type       PoolType // Pool type
	Path       string   // Pool target path
	UUID       string   // Pool UUID
	State      string   // Pool state (running, inactive, etc.)
	Capacity   uint64   // Total capacity in bytes
	Allocation uint64   // Allocated space in bytes
	Available  uint64   // Available space in bytes
}

// CapacityGB returns the pool capacity in GB.
func (p *PoolInfo) CapacityGB() float64 {
	return float64(p.Capacity) / (1024 * 1024 * 1024)
}

// AllocationGB returns the pool allocation in GB.
func (p *PoolInfo) AllocationGB() float64 {
	return float64(p.Allocation) / (1024 * 1024 * 1024)
}

// AvailableGB returns the pool available space in GB.
func (p *PoolInfo) AvailableGB() float64 {
	return float64(p.Available) / (1024 * 1024 * 1024)
}

// VolumeInfo contains information about a storage volume.
type VolumeInfo struct {
	Name       string // Volume name
	Path       string // Full path to volume
	Pool       string // Pool name
	Capacity   uint64 // Capacity in bytes
	Allocation uint64 // Allocated space in bytes
}

// Default pool configuration.
const (
	// DefaultVMsPool is the datastore used when a machine names none.
	DefaultVMsPool = "anvil-vms"
	// DefaultVMsPath is the target directory of DefaultVMsPool.
	DefaultVMsPath = "/var/lib/libvirt/images/anvil/vms"
)
