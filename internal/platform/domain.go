package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/metadata"
)

// Domain states (from libvirt VIR_DOMAIN_* constants).
const (
	domainStateRunning = 1
	domainStateShutoff = 5
	domainStateCrashed = 6
)

// VIR_IP_ADDR_TYPE_IPV4
const ipAddrTypeIPv4 = 0

// agentTimeout is the guest agent command timeout in seconds.
const agentTimeout = 5

// Resource is a live domain handle. It is only valid for the operation that
// fetched it.
type Resource struct {
	Domain   libvirt.Domain
	Name     string
	ServerID string
}

func newResource(dom libvirt.Domain) *Resource {
	return &Resource{
		Domain:   dom,
		Name:     dom.Name,
		ServerID: uuid.UUID(dom.UUID).String(),
	}
}

// PowerState is the coarse power state of a domain.
type PowerState int

const (
	PowerStateUnknown PowerState = iota
	PowerStateOn
	PowerStateOff
)

func (p PowerState) String() string {
	switch p {
	case PowerStateOn:
		return "on"
	case PowerStateOff:
		return "off"
	default:
		return "unknown"
	}
}

// GuestInfo is what the guest agent reports about a running guest.
type GuestInfo struct {
	ToolsRunning bool
	IPAddress    string
	Family       v1alpha1.GuestFamily
}

// FindByInstanceID looks a domain up by UUID. A missing domain or a
// malformed id yields ErrNotFound.
func (c *Client) FindByInstanceID(ctx context.Context, id string) (*Resource, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid instance id %q", ErrNotFound, id)
	}

	dom, err := c.lv.DomainLookupByUUID(libvirt.UUID(parsed))
	if err != nil {
		if libvirt.IsNotFound(err) {
			return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to look up instance %s: %w", id, err)
	}
	return newResource(dom), nil
}

// FindByPath looks a domain up by name and requires its anvil metadata to
// place it in datacenter and folder. Domains without anvil metadata, such as
// hand-built templates, sit at the root folder of every datacenter. A domain
// with the name that is placed elsewhere yields ErrNameInUse.
func (c *Client) FindByPath(ctx context.Context, datacenter, folder, name string) (*Resource, error) {
	path := joinPath(datacenter, folder, name)
	dom, err := c.lv.DomainLookupByName(name)
	if err != nil {
		if libvirt.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to look up %s: %w", path, err)
	}

	md, err := metadata.Load(c.lv, dom)
	switch {
	case errors.Is(err, metadata.ErrNoMetadata):
		if folder != "" {
			return nil, fmt.Errorf("%w: %s is not in %s", ErrNameInUse, name, joinPath(datacenter, folder))
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read placement of %s: %w", name, err)
	case !md.Matches(datacenter, folder):
		return nil, fmt.Errorf("%w: %s is in %s", ErrNameInUse, name, joinPath(md.Datacenter, md.Folder))
	}
	return newResource(dom), nil
}

func joinPath(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, strings.Trim(p, "/"))
		}
	}
	return "/" + strings.Join(nonEmpty, "/")
}

// PowerState reports whether the domain is running.
func (c *Client) PowerState(ctx context.Context, r *Resource) (PowerState, error) {
	state, _, err := c.lv.DomainGetState(r.Domain, 0)
	if err != nil {
		return PowerStateUnknown, fmt.Errorf("failed to get state of %s: %w", r.Name, err)
	}
	switch state {
	case domainStateShutoff, domainStateCrashed:
		return PowerStateOff, nil
	default:
		return PowerStateOn, nil
	}
}

// PowerOn starts the domain.
func (c *Client) PowerOn(ctx context.Context, r *Resource) error {
	if err := c.lv.DomainCreate(r.Domain); err != nil {
		return fmt.Errorf("failed to start %s: %w", r.Name, err)
	}
	return nil
}

// PowerOff asks the guest to shut down when graceful is set and pulls the
// plug otherwise. Completion of a graceful shutdown is observed through
// PowerState.
func (c *Client) PowerOff(ctx context.Context, r *Resource, graceful bool) error {
	if graceful {
		if err := c.lv.DomainShutdown(r.Domain); err != nil {
			return fmt.Errorf("failed to shut down %s: %w", r.Name, err)
		}
		return nil
	}
	if err := c.lv.DomainDestroy(r.Domain); err != nil {
		return fmt.Errorf("failed to power off %s: %w", r.Name, err)
	}
	return nil
}

// GuestProbe reports guest agent status, the first routable IPv4 address
// and the guest family. An unresponsive agent is reported as not running,
// not as an error.
func (c *Client) GuestProbe(ctx context.Context, r *Resource) (*GuestInfo, error) {
	info := &GuestInfo{}

	family, err := c.declaredFamily(r)
	if err != nil {
		return nil, err
	}
	info.Family = family

	state, err := c.PowerState(ctx, r)
	if err != nil {
		return nil, err
	}
	if state != PowerStateOn {
		return info, nil
	}

	if _, err := c.lv.QEMUDomainAgentCommand(r.Domain, `{"execute":"guest-ping"}`, agentTimeout, 0); err != nil {
		return info, nil
	}
	info.ToolsRunning = true

	if out, err := c.lv.QEMUDomainAgentCommand(r.Domain, `{"execute":"guest-get-osinfo"}`, agentTimeout, 0); err == nil && len(out) > 0 {
		if id := agentOSID(out[0]); id != "" {
			info.Family = v1alpha1.FamilyFor(id == "mswindows")
		}
	}

	ifaces, err := c.lv.DomainInterfaceAddresses(r.Domain, uint32(libvirt.DomainInterfaceAddressesSrcAgent), 0)
	if err != nil {
		return info, nil
	}
	info.IPAddress = firstIPv4(ifaces)
	return info, nil
}

// declaredFamily derives the family from the libosinfo id in the domain
// definition, which is all that is known while the guest is off.
func (c *Client) declaredFamily(r *Resource) (v1alpha1.GuestFamily, error) {
	xmlDesc, err := c.lv.DomainGetXMLDesc(r.Domain, libvirt.DomainXMLInactive)
	if err != nil {
		return v1alpha1.GuestFamilyUnix, fmt.Errorf("failed to get domain XML for %s: %w", r.Name, err)
	}

	var dom libvirtxml.Domain
	if err := dom.Unmarshal(xmlDesc); err != nil {
		return v1alpha1.GuestFamilyUnix, fmt.Errorf("failed to parse domain XML for %s: %w", r.Name, err)
	}
	return familyOf(&dom), nil
}

func familyOf(dom *libvirtxml.Domain) v1alpha1.GuestFamily {
	if dom.Metadata != nil && strings.Contains(dom.Metadata.XML, "microsoft.com/win") {
		return v1alpha1.GuestFamilyWindows
	}
	return v1alpha1.GuestFamilyUnix
}

func agentOSID(raw string) string {
	var resp struct {
		Return struct {
			ID string `json:"id"`
		} `json:"return"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return ""
	}
	return resp.Return.ID
}

func firstIPv4(ifaces []libvirt.DomainInterface) string {
	for _, iface := range ifaces {
		if iface.Name == "lo" {
			continue
		}
		for _, addr := range iface.Addrs {
			if addr.Type != ipAddrTypeIPv4 {
				continue
			}
			ip := net.ParseIP(addr.Addr)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			return addr.Addr
		}
	}
	return ""
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
