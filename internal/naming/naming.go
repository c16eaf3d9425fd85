// Package naming holds the volume naming conventions for machines cloned
// by anvil. Every volume a machine owns starts with "{machine}_".
package naming

import (
	"fmt"
	"strings"
)

// VolumeNameDisk returns the overlay volume name for a cloned disk.
// Format: {vmName}_{device}.qcow2 (e.g., "web1_vda.qcow2")
func VolumeNameDisk(vmName, device string) string {
	return fmt.Sprintf("%s_%s.qcow2", vmName, device)
}

// VolumeNameSeed returns the volume name for a machine's NoCloud seed ISO.
// Format: {vmName}_seed.iso
func VolumeNameSeed(vmName string) string {
	return fmt.Sprintf("%s_seed.iso", vmName)
}

// OwnedVolume reports whether volume follows the naming pattern of vmName.
func OwnedVolume(vmName, volume string) bool {
	if vmName == "" {
		return false
	}
	return volume == VolumeNameSeed(vmName) ||
		(strings.HasPrefix(volume, vmName+"_") && strings.HasSuffix(volume, ".qcow2") &&
			!strings.Contains(strings.TrimSuffix(strings.TrimPrefix(volume, vmName+"_"), ".qcow2"), "_"))
}
