// Package cloudinit builds the NoCloud seed image attached to cloned
// machines so the guest picks up its identity and access keys on first boot.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/kdomanski/iso9660"
	"gopkg.in/yaml.v3"
)

// VolumeLabel is the ISO volume identifier the NoCloud datasource looks for.
const VolumeLabel = "CIDATA"

// Seed is the per-clone identity written into the seed image.
type Seed struct {
	// InstanceID must change on every clone so cloud-init treats the first
	// boot of the clone as a new instance.
	InstanceID string
	Hostname   string

	// AuthorizedKeys are installed for the default user.
	AuthorizedKeys []string

	// Tags are exposed to the guest through meta-data.
	Tags map[string]string
}

// UserData represents the cloud-config user-data structure.
type UserData struct {
	Hostname          string   `yaml:"hostname"`
	PreserveHostname  bool     `yaml:"preserve_hostname"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
	SSHPasswordAuth   bool     `yaml:"ssh_pwauth"`
	Output            *Output  `yaml:"output,omitempty"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string            `yaml:"instance-id"`
	LocalHostname string            `yaml:"local-hostname"`
	Tags          map[string]string `yaml:"tags,omitempty"`
}

// Validate checks that the seed carries the fields cloud-init needs.
func (s *Seed) Validate() error {
	if s == nil {
		return fmt.Errorf("seed cannot be nil")
	}
	if s.InstanceID == "" {
		return fmt.Errorf("instance id is required")
	}
	if s.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	return nil
}

// GenerateUserData renders user-data including the "#cloud-config" header.
func GenerateUserData(s *Seed) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	keys := append([]string(nil), s.AuthorizedKeys...)
	sort.Strings(keys)

	userData := UserData{
		Hostname:          s.Hostname,
		SSHAuthorizedKeys: keys,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData renders meta-data.
func GenerateMetaData(s *Seed) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	yamlBytes, err := yaml.Marshal(&MetaData{
		InstanceID:    s.InstanceID,
		LocalHostname: s.Hostname,
		Tags:          s.Tags,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateISO builds the seed image holding user-data and meta-data.
func GenerateISO(s *Seed) ([]byte, error) {
	userData, err := GenerateUserData(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
