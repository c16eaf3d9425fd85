package platform

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/internal/cloudinit"
	"github.com/jbweber/anvil/internal/log"
	"github.com/jbweber/anvil/internal/metadata"
	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/storage"
)

// CloneOptions place a clone. Datastore names the storage pool for the
// clone's volumes; Datacenter and Folder are recorded in anvil metadata.
type CloneOptions struct {
	Datacenter     string
	Folder         string
	Datastore      string
	Tags           map[string]string
	AuthorizedKeys []string
	BootstrapID    string
}

// Clone defines a new domain from template. Every template disk becomes a
// qcow2 overlay in the target datastore and a NoCloud seed ISO is attached.
// The clone is left powered off.
func (c *Client) Clone(ctx context.Context, template *Resource, name string, opts CloneOptions) (res *Resource, err error) {
	logger := log.WithComponent("platform").With().Str("template", template.Name).Str("machine", name).Logger()

	xmlDesc, err := c.lv.DomainGetXMLDesc(template.Domain, libvirt.DomainXMLInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to get template XML: %w", err)
	}

	dom := &libvirtxml.Domain{}
	if err := dom.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse template XML: %w", err)
	}
	if dom.Devices == nil {
		return nil, fmt.Errorf("template %s has no devices", template.Name)
	}

	pool, err := c.storage.EnsureDatastore(ctx, opts.Datastore)
	if err != nil {
		return nil, err
	}

	var created []string
	defer func() {
		if err == nil {
			return
		}
		for _, vol := range created {
			if delErr := c.storage.DeleteVolume(ctx, pool, vol); delErr != nil {
				logger.Warn().Err(delErr).Str("volume", vol).Msg("failed to remove volume after failed clone")
			}
		}
	}()

	var disks []libvirtxml.DomainDisk
	used := map[string]bool{}
	for _, disk := range dom.Devices.Disks {
		if disk.Device == "cdrom" || disk.Device == "floppy" {
			continue
		}
		if disk.Target == nil || disk.Target.Dev == "" {
			return nil, fmt.Errorf("template disk has no target device")
		}

		backing, err := c.backingOf(ctx, disk)
		if err != nil {
			return nil, fmt.Errorf("disk %s: %w", disk.Target.Dev, err)
		}

		volName := naming.VolumeNameDisk(name, disk.Target.Dev)
		logger.Debug().Str("volume", volName).Str("backing", backing.Volume).Msg("creating overlay")
		if err := c.storage.CreateVolume(ctx, pool, storage.VolumeSpec{
			Name:          volName,
			Type:          storage.VolumeTypeDisk,
			Format:        storage.VolumeFormatQCOW2,
			BackingVolume: backing,
		}); err != nil {
			return nil, fmt.Errorf("failed to create overlay for %s: %w", disk.Target.Dev, err)
		}
		created = append(created, volName)

		disk.Driver = &libvirtxml.DomainDiskDriver{Name: "qemu", Type: string(storage.VolumeFormatQCOW2)}
		disk.Source = &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{Pool: pool, Volume: volName},
		}
		disk.BackingStore = nil
		used[disk.Target.Dev] = true
		disks = append(disks, disk)
	}

	id := c.newUUID()
	seedISO, err := cloudinit.GenerateISO(&cloudinit.Seed{
		InstanceID:     id.String(),
		Hostname:       name,
		AuthorizedKeys: opts.AuthorizedKeys,
		Tags:           opts.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}

	seedName := naming.VolumeNameSeed(name)
	if err := c.storage.CreateVolume(ctx, pool, storage.VolumeSpec{
		Name:     seedName,
		Type:     storage.VolumeTypeSeed,
		Format:   storage.VolumeFormatRaw,
		Capacity: uint64(len(seedISO)),
	}); err != nil {
		return nil, fmt.Errorf("failed to create seed volume: %w", err)
	}
	created = append(created, seedName)

	if err := c.storage.WriteVolumeData(ctx, pool, seedName, seedISO); err != nil {
		return nil, fmt.Errorf("failed to write seed volume: %w", err)
	}

	disks = append(disks, libvirtxml.DomainDisk{
		Device: "cdrom",
		Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: string(storage.VolumeFormatRaw)},
		Source: &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{Pool: pool, Volume: seedName},
		},
		Target:   &libvirtxml.DomainDiskTarget{Dev: freeDevice(used), Bus: "sata"},
		ReadOnly: &libvirtxml.DomainDiskReadOnly{},
	})
	dom.Devices.Disks = disks

	dom.Name = name
	dom.UUID = id.String()
	dom.ID = nil
	for i := range dom.Devices.Interfaces {
		dom.Devices.Interfaces[i].MAC = nil
		dom.Devices.Interfaces[i].Target = nil
	}
	if dom.OS != nil && dom.OS.NVRam != nil {
		dom.OS.NVRam = &libvirtxml.DomainNVRam{Template: dom.OS.NVRam.Template}
	}

	cloneXML, err := dom.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal clone XML: %w", err)
	}

	defined, err := c.lv.DomainDefineXML(cloneXML)
	if err != nil {
		return nil, fmt.Errorf("failed to define %s: %w", name, err)
	}

	if err := metadata.Store(c.lv, defined, &metadata.MachineMetadata{
		Datacenter:  opts.Datacenter,
		Folder:      opts.Folder,
		Template:    template.Name,
		Tags:        opts.Tags,
		BootstrapID: opts.BootstrapID,
	}); err != nil {
		if undefErr := c.lv.DomainUndefineFlags(defined, libvirt.DomainUndefineNvram); undefErr != nil {
			logger.Warn().Err(undefErr).Msg("failed to undefine clone after metadata failure")
		}
		return nil, err
	}

	logger.Info().Str("server_id", id.String()).Str("datastore", pool).Msg("clone defined")
	return newResource(defined), nil
}

// backingOf resolves the volume behind a template disk.
func (c *Client) backingOf(ctx context.Context, disk libvirtxml.DomainDisk) (*storage.BackingVolume, error) {
	format := storage.VolumeFormatRaw
	if disk.Driver != nil && disk.Driver.Type == string(storage.VolumeFormatQCOW2) {
		format = storage.VolumeFormatQCOW2
	}

	switch {
	case disk.Source == nil:
		return nil, fmt.Errorf("disk has no source")
	case disk.Source.Volume != nil:
		return &storage.BackingVolume{
			Pool:   disk.Source.Volume.Pool,
			Volume: disk.Source.Volume.Volume,
			Format: format,
		}, nil
	case disk.Source.File != nil:
		vol, err := c.storage.LookupByPath(ctx, disk.Source.File.File)
		if err != nil {
			return nil, err
		}
		return &storage.BackingVolume{Pool: vol.Pool, Volume: vol.Name, Format: format}, nil
	default:
		return nil, fmt.Errorf("unsupported disk source: only file and volume disks can be cloned")
	}
}

// freeDevice picks the first sdX target not used by another disk.
func freeDevice(used map[string]bool) string {
	for ch := 'a'; ch <= 'z'; ch++ {
		dev := "sd" + string(ch)
		if !used[dev] {
			return dev
		}
	}
	return "sdz"
}
