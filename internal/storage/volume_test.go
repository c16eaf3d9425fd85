package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CreateVolume_Overlay(t *testing.T) {
	ctx := context.Background()
	client := newMockLibvirtClient()
	client.addPool("templates", "/srv/templates")
	client.addPool("anvil-vms", "/srv/vms")
	base := client.addVolume("templates", "centos-7.qcow2", 20<<30)
	mgr := NewManager(client)

	err := mgr.CreateVolume(ctx, "anvil-vms", VolumeSpec{
		Name:          "web1_vda.qcow2",
		Type:          VolumeTypeDisk,
		Format:        VolumeFormatQCOW2,
		BackingVolume: &BackingVolume{Pool: "templates", Volume: "centos-7.qcow2"},
	})
	require.NoError(t, err)

	assert.Contains(t, client.volumes["anvil-vms"], "web1_vda.qcow2")
	assert.Contains(t, client.lastVolumeXML, "<backingStore>")
	assert.Contains(t, client.lastVolumeXML, base.path)
	assert.NotContains(t, client.lastVolumeXML, "<capacity")
}

func TestManager_CreateVolume_Errors(t *testing.T) {
	ctx := context.Background()
	client := newMockLibvirtClient()
	client.addPool("anvil-vms", "/srv/vms")
	mgr := NewManager(client)

	err := mgr.CreateVolume(ctx, "anvil-vms", VolumeSpec{Name: "x", Type: VolumeTypeDisk, Format: "vmdk", Capacity: 1})
	assert.ErrorContains(t, err, "invalid volume spec")

	err = mgr.CreateVolume(ctx, "missing", VolumeSpec{Name: "x", Type: VolumeTypeSeed, Format: VolumeFormatRaw, Capacity: 1})
	assert.ErrorContains(t, err, "pool not found")

	err = mgr.CreateVolume(ctx, "anvil-vms", VolumeSpec{
		Name: "x", Type: VolumeTypeDisk, Format: VolumeFormatQCOW2,
		BackingVolume: &BackingVolume{Pool: "anvil-vms", Volume: "nope"},
	})
	assert.ErrorContains(t, err, "failed to get backing volume path")
}

func TestManager_SeedVolumeLifecycle(t *testing.T) {
	ctx := context.Background()
	client := newMockLibvirtClient()
	client.addPool("anvil-vms", "/srv/vms")
	mgr := NewManager(client)

	spec := VolumeSpec{Name: "web1_seed.iso", Type: VolumeTypeSeed, Format: VolumeFormatRaw, Capacity: 3}
	require.NoError(t, mgr.CreateVolume(ctx, "anvil-vms", spec))
	assert.Contains(t, client.lastVolumeXML, "<capacity")

	require.NoError(t, mgr.WriteVolumeData(ctx, "anvil-vms", "web1_seed.iso", []byte("iso")))
	assert.Equal(t, []byte("iso"), client.volumes["anvil-vms"]["web1_seed.iso"].data)

	path, err := mgr.GetVolumePath(ctx, "anvil-vms", "web1_seed.iso")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/libvirt/images/anvil/anvil-vms/web1_seed.iso", path)

	vols, err := mgr.ListVolumes(ctx, "anvil-vms")
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, "web1_seed.iso", vols[0].Name)

	require.NoError(t, mgr.DeleteVolume(ctx, "anvil-vms", "web1_seed.iso"))
	vols, err = mgr.ListVolumes(ctx, "anvil-vms")
	require.NoError(t, err)
	assert.Empty(t, vols)

	err = mgr.DeleteVolume(ctx, "anvil-vms", "web1_seed.iso")
	assert.ErrorContains(t, err, "volume not found")
}

func TestManager_LookupByPath(t *testing.T) {
	client := newMockLibvirtClient()
	client.addPool("templates", "/srv/templates")
	vol := client.addVolume("templates", "centos-7.qcow2", 10<<30)
	mgr := NewManager(client)

	info, err := mgr.LookupByPath(context.Background(), vol.path)
	require.NoError(t, err)
	assert.Equal(t, "templates", info.Pool)
	assert.Equal(t, "centos-7.qcow2", info.Name)
	assert.Equal(t, uint64(10<<30), info.Capacity)

	_, err = mgr.LookupByPath(context.Background(), "/nowhere.qcow2")
	assert.ErrorContains(t, err, "no volume at /nowhere.qcow2")
}
