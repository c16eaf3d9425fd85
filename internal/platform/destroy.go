package platform

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/internal/log"
	"github.com/jbweber/anvil/internal/naming"
)

type volumeRef struct {
	pool   string
	volume string
}

// Destroy powers the domain off if needed, undefines it with its NVRAM and
// deletes the volumes it owns. Volume cleanup is best-effort: failures are
// logged and do not fail the call.
func (c *Client) Destroy(ctx context.Context, r *Resource) error {
	logger := log.WithComponent("platform").With().Str("machine", r.Name).Str("server_id", r.ServerID).Logger()

	owned, err := c.ownedVolumes(ctx, r)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to resolve volumes, they will be left behind")
	}

	state, err := c.PowerState(ctx, r)
	if err != nil {
		return err
	}
	if state == PowerStateOn {
		if err := c.PowerOff(ctx, r, false); err != nil {
			return err
		}
	}

	if err := c.lv.DomainUndefineFlags(r.Domain, libvirt.DomainUndefineNvram); err != nil {
		return fmt.Errorf("failed to undefine %s: %w", r.Name, err)
	}

	deleted := 0
	for _, ref := range owned {
		if err := c.storage.DeleteVolume(ctx, ref.pool, ref.volume); err != nil {
			logger.Warn().Err(err).Str("pool", ref.pool).Str("volume", ref.volume).Msg("failed to delete volume")
			continue
		}
		deleted++
	}

	logger.Info().Int("volumes_deleted", deleted).Msg("domain destroyed")
	return nil
}

// ownedVolumes lists the volumes attached to r that follow its naming
// pattern. Template volumes backing the overlays are never included.
func (c *Client) ownedVolumes(ctx context.Context, r *Resource) ([]volumeRef, error) {
	xmlDesc, err := c.lv.DomainGetXMLDesc(r.Domain, libvirt.DomainXMLInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to get domain XML: %w", err)
	}

	var dom libvirtxml.Domain
	if err := dom.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	if dom.Devices == nil {
		return nil, nil
	}

	var refs []volumeRef
	for _, disk := range dom.Devices.Disks {
		if disk.Source == nil {
			continue
		}
		var ref volumeRef
		switch {
		case disk.Source.Volume != nil:
			ref = volumeRef{pool: disk.Source.Volume.Pool, volume: disk.Source.Volume.Volume}
		case disk.Source.File != nil:
			vol, err := c.storage.LookupByPath(ctx, disk.Source.File.File)
			if err != nil {
				continue
			}
			ref = volumeRef{pool: vol.Pool, volume: vol.Name}
		default:
			continue
		}
		if naming.OwnedVolume(r.Name, ref.volume) {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}
