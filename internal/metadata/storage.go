// Package metadata stores anvil placement data inside libvirt domain XML
// using libvirt's custom metadata element. libvirt has no folders,
// datacenters or tags, so they live here and travel with the domain.
package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"
)

const (
	// Namespace is the XML namespace for anvil metadata.
	Namespace = "http://anvil.cofront.xyz/v1alpha1"

	// Key is the element prefix libvirt uses for anvil metadata.
	Key = "anvil"
)

// ErrNoMetadata is returned by Load for a domain that carries no anvil
// metadata, such as a hand-built template.
var ErrNoMetadata = errors.New("domain has no anvil metadata")

// MachineMetadata is the anvil data attached to a domain.
type MachineMetadata struct {
	Datacenter  string            `yaml:"datacenter,omitempty"`
	Folder      string            `yaml:"folder,omitempty"`
	Template    string            `yaml:"template,omitempty"`
	Tags        map[string]string `yaml:"tags,omitempty"`
	BootstrapID string            `yaml:"bootstrap_id,omitempty"`
}

// Matches reports whether m was placed in datacenter and folder.
func (m *MachineMetadata) Matches(datacenter, folder string) bool {
	return m.Datacenter == datacenter && m.Folder == folder
}

// Client is the subset of the libvirt API used for metadata.
type Client interface {
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// element is the XML wrapper. The payload is YAML so the domain XML stays
// readable with virsh dumpxml.
type element struct {
	XMLName xml.Name `xml:"machine"`
	Xmlns   string   `xml:"xmlns,attr"`
	YAML    string   `xml:",chardata"`
}

// Marshal renders m as the XML element embedded in a domain definition.
func Marshal(m *MachineMetadata) (string, error) {
	yamlData, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal machine metadata to YAML: %w", err)
	}

	xmlData, err := xml.Marshal(element{Xmlns: Namespace, YAML: string(yamlData)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}
	return string(xmlData), nil
}

// Unmarshal parses the element produced by Marshal.
func Unmarshal(xmlStr string) (*MachineMetadata, error) {
	var el element
	if err := xml.Unmarshal([]byte(xmlStr), &el); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}

	var m MachineMetadata
	if err := yaml.Unmarshal([]byte(el.YAML), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal machine metadata from YAML: %w", err)
	}
	return &m, nil
}

// Store replaces the anvil metadata on domain.
func Store(c Client, domain libvirt.Domain, m *MachineMetadata) error {
	xmlStr, err := Marshal(m)
	if err != nil {
		return err
	}

	err = c.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{xmlStr},
		libvirt.OptString{Key},
		libvirt.OptString{Namespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}
	return nil
}

// Load reads the anvil metadata from domain.
func Load(c Client, domain libvirt.Domain) (*MachineMetadata, error) {
	xmlStr, err := c.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		var lerr libvirt.Error
		if errors.As(err, &lerr) && lerr.Code == uint32(libvirt.ErrNoDomainMetadata) {
			return nil, ErrNoMetadata
		}
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}
	return Unmarshal(xmlStr)
}
