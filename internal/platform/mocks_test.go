package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/internal/storage"
)

type fakeDomain struct {
	dom      libvirt.Domain
	xml      string
	state    int32
	metadata string

	agentUp bool
	osID    string
	ifaces  []libvirt.DomainInterface
}

// mockLibvirtClient is an in-memory LibvirtClient keyed by domain name.
type mockLibvirtClient struct {
	domains map[string]*fakeDomain

	defineErr      error
	getMetadataErr error

	createCalls   []string
	shutdownCalls []string
	destroyCalls  []string
	undefineCalls []string
	definedXML    []string
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{domains: make(map[string]*fakeDomain)}
}

func notFound(what string) error {
	return libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "Domain not found: " + what}
}

// addDomain defines a domain from its XML, which must carry name and uuid.
func (m *mockLibvirtClient) addDomain(xmlDesc string, state int32) *fakeDomain {
	var d libvirtxml.Domain
	if err := d.Unmarshal(xmlDesc); err != nil {
		panic(err)
	}
	fd := &fakeDomain{
		dom:   libvirt.Domain{Name: d.Name, UUID: libvirt.UUID(uuid.MustParse(d.UUID))},
		xml:   xmlDesc,
		state: state,
	}
	m.domains[d.Name] = fd
	return fd
}

func (m *mockLibvirtClient) get(dom libvirt.Domain) (*fakeDomain, error) {
	fd, ok := m.domains[dom.Name]
	if !ok {
		return nil, notFound(dom.Name)
	}
	return fd, nil
}

func (m *mockLibvirtClient) ConnectGetLibVersion() (uint64, error) {
	return 10000000, nil
}

func (m *mockLibvirtClient) DomainLookupByUUID(id libvirt.UUID) (libvirt.Domain, error) {
	for _, fd := range m.domains {
		if fd.dom.UUID == id {
			return fd.dom, nil
		}
	}
	return libvirt.Domain{}, notFound(uuid.UUID(id).String())
}

func (m *mockLibvirtClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	fd, ok := m.domains[name]
	if !ok {
		return libvirt.Domain{}, notFound(name)
	}
	return fd.dom, nil
}

func (m *mockLibvirtClient) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	fd, err := m.get(dom)
	if err != nil {
		return "", err
	}
	return fd.xml, nil
}

func (m *mockLibvirtClient) DomainDefineXML(xmlDesc string) (libvirt.Domain, error) {
	if m.defineErr != nil {
		return libvirt.Domain{}, m.defineErr
	}
	m.definedXML = append(m.definedXML, xmlDesc)
	return m.addDomain(xmlDesc, domainStateShutoff).dom, nil
}

func (m *mockLibvirtClient) DomainCreate(dom libvirt.Domain) error {
	fd, err := m.get(dom)
	if err != nil {
		return err
	}
	m.createCalls = append(m.createCalls, dom.Name)
	fd.state = domainStateRunning
	return nil
}

func (m *mockLibvirtClient) DomainShutdown(dom libvirt.Domain) error {
	fd, err := m.get(dom)
	if err != nil {
		return err
	}
	m.shutdownCalls = append(m.shutdownCalls, dom.Name)
	fd.state = domainStateShutoff
	return nil
}

func (m *mockLibvirtClient) DomainDestroy(dom libvirt.Domain) error {
	fd, err := m.get(dom)
	if err != nil {
		return err
	}
	m.destroyCalls = append(m.destroyCalls, dom.Name)
	fd.state = domainStateShutoff
	return nil
}

func (m *mockLibvirtClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	if _, err := m.get(dom); err != nil {
		return err
	}
	m.undefineCalls = append(m.undefineCalls, dom.Name)
	delete(m.domains, dom.Name)
	return nil
}

func (m *mockLibvirtClient) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	fd, err := m.get(dom)
	if err != nil {
		return 0, 0, err
	}
	return fd.state, 0, nil
}

func (m *mockLibvirtClient) DomainSetMetadata(dom libvirt.Domain, typ int32, md libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error {
	fd, err := m.get(dom)
	if err != nil {
		return err
	}
	fd.metadata = md[0]
	return nil
}

func (m *mockLibvirtClient) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	fd, err := m.get(dom)
	if err != nil {
		return "", err
	}
	if m.getMetadataErr != nil {
		return "", m.getMetadataErr
	}
	if fd.metadata == "" {
		return "", libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata), Message: "metadata not found"}
	}
	return fd.metadata, nil
}

func (m *mockLibvirtClient) QEMUDomainAgentCommand(dom libvirt.Domain, cmd string, timeout int32, flags uint32) (libvirt.OptString, error) {
	fd, err := m.get(dom)
	if err != nil {
		return nil, err
	}
	if !fd.agentUp {
		return nil, fmt.Errorf("guest agent is not connected")
	}
	if strings.Contains(cmd, "guest-get-osinfo") {
		return libvirt.OptString{fmt.Sprintf(`{"return":{"id":%q}}`, fd.osID)}, nil
	}
	return libvirt.OptString{`{"return":{}}`}, nil
}

func (m *mockLibvirtClient) DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error) {
	fd, err := m.get(dom)
	if err != nil {
		return nil, err
	}
	return fd.ifaces, nil
}

// mockStorage records volume operations by pool.
type mockStorage struct {
	pools   map[string]bool
	volumes map[string]map[string]storage.VolumeSpec
	paths   map[string]storage.VolumeInfo
	data    map[string][]byte

	createErr error
	deleted   []string
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		pools:   map[string]bool{storage.DefaultVMsPool: true},
		volumes: map[string]map[string]storage.VolumeSpec{},
		paths:   map[string]storage.VolumeInfo{},
		data:    map[string][]byte{},
	}
}

func (s *mockStorage) addPath(path, pool, name string) {
	s.paths[path] = storage.VolumeInfo{Name: name, Pool: pool, Path: path}
}

func (s *mockStorage) EnsureDatastore(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = storage.DefaultVMsPool
	}
	if !s.pools[name] {
		return "", fmt.Errorf("datastore %q not found", name)
	}
	return name, nil
}

func (s *mockStorage) CreateVolume(ctx context.Context, pool string, spec storage.VolumeSpec) error {
	if s.createErr != nil && spec.Type == storage.VolumeTypeSeed {
		return s.createErr
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if s.volumes[pool] == nil {
		s.volumes[pool] = map[string]storage.VolumeSpec{}
	}
	s.volumes[pool][spec.Name] = spec
	return nil
}

func (s *mockStorage) DeleteVolume(ctx context.Context, pool, name string) error {
	if _, ok := s.volumes[pool][name]; !ok {
		return fmt.Errorf("volume not found: %s", name)
	}
	delete(s.volumes[pool], name)
	s.deleted = append(s.deleted, pool+"/"+name)
	return nil
}

func (s *mockStorage) WriteVolumeData(ctx context.Context, pool, name string, data []byte) error {
	s.data[pool+"/"+name] = data
	return nil
}

func (s *mockStorage) LookupByPath(ctx context.Context, path string) (*storage.VolumeInfo, error) {
	info, ok := s.paths[path]
	if !ok {
		return nil, fmt.Errorf("no volume at %s", path)
	}
	return &info, nil
}

func (s *mockStorage) GetPoolInfo(ctx context.Context, name string) (*storage.PoolInfo, error) {
	if !s.pools[name] {
		return nil, fmt.Errorf("pool not found: %s", name)
	}
	return &storage.PoolInfo{Name: name, State: "running"}, nil
}

func (s *mockStorage) ListVolumes(ctx context.Context, pool string) ([]storage.VolumeInfo, error) {
	var out []storage.VolumeInfo
	for name := range s.volumes[pool] {
		out = append(out, storage.VolumeInfo{Name: name, Pool: pool})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *mockStorage) ListPools(ctx context.Context) ([]storage.PoolInfo, error) {
	var out []storage.PoolInfo
	for name := range s.pools {
		out = append(out, storage.PoolInfo{Name: name})
	}
	return out, nil
}

const templateXML = `<domain type="kvm">
  <name>ubuntu-24.04</name>
  <uuid>7d1d5a52-2f3c-4a8e-9a83-0d3f1f2b6c10</uuid>
  <metadata>
    <libosinfo:libosinfo xmlns:libosinfo="http://libosinfo.org/xmlns/libvirt/domain/1.0">
      <libosinfo:os id="http://ubuntu.com/ubuntu/24.04"/>
    </libosinfo:libosinfo>
  </metadata>
  <memory unit="GiB">2</memory>
  <vcpu>2</vcpu>
  <os firmware="efi">
    <type arch="x86_64">hvm</type>
    <nvram template="/usr/share/OVMF/OVMF_VARS.fd">/var/lib/libvirt/qemu/nvram/ubuntu-24.04_VARS.fd</nvram>
  </os>
  <devices>
    <disk type="file" device="disk">
      <driver name="qemu" type="qcow2"/>
      <source file="/var/lib/libvirt/images/templates/ubuntu-24.04.qcow2"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <disk type="volume" device="disk">
      <driver name="qemu" type="raw"/>
      <source pool="templates" volume="ubuntu-data.raw"/>
      <target dev="vdb" bus="virtio"/>
    </disk>
    <disk type="file" device="cdrom">
      <source file="/var/lib/libvirt/images/ubuntu.iso"/>
      <target dev="sda" bus="sata"/>
      <readonly/>
    </disk>
    <interface type="network">
      <mac address="52:54:00:aa:bb:cc"/>
      <source network="default"/>
      <model type="virtio"/>
    </interface>
  </devices>
</domain>`

const windowsXML = `<domain type="kvm">
  <name>win2022</name>
  <uuid>0b6f2e0e-7e9a-4a57-8e0d-9f3c1d2a4b55</uuid>
  <metadata>
    <libosinfo:libosinfo xmlns:libosinfo="http://libosinfo.org/xmlns/libvirt/domain/1.0">
      <libosinfo:os id="http://microsoft.com/win/2k22"/>
    </libosinfo:libosinfo>
  </metadata>
  <memory unit="GiB">4</memory>
  <devices/>
</domain>`
