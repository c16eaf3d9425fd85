// Package storage manages the libvirt storage pools and volumes that back
// cloned machines.
//
// A machine's datastore is a libvirt storage pool. Cloning creates one qcow2
// overlay per template disk, backed by the template's volume, plus a small
// NoCloud seed ISO. Volume names follow internal/naming so Destroy can find
// everything a machine owns.
//
// The LibvirtClient interface lists only the calls this package makes;
// *libvirt.Libvirt satisfies it directly.
package storage
