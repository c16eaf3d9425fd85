package metadata

import (
	"errors"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient records metadata calls.
type mockClient struct {
	setErr   error
	getErr   error
	stored   string
	lastKey  string
	lastURI  string
	setCalls int
}

func (m *mockClient) DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error {
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	if len(metadata) > 0 {
		m.stored = metadata[0]
	}
	if len(key) > 0 {
		m.lastKey = key[0]
	}
	if len(uri) > 0 {
		m.lastURI = uri[0]
	}
	return nil
}

func (m *mockClient) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	return m.stored, m.getErr
}

func TestMarshalUnmarshal(t *testing.T) {
	in := &MachineMetadata{
		Datacenter:  "dc1",
		Folder:      "web",
		Template:    "centos-7",
		Tags:        map[string]string{"Name": "web1", "note": "a<b & c"},
		BootstrapID: "abc-123",
	}

	xmlStr, err := Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, xmlStr, `xmlns="http://anvil.cofront.xyz/v1alpha1"`)
	assert.NotContains(t, xmlStr, "a<b")

	out, err := Unmarshal(xmlStr)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := Unmarshal("<machine")
	assert.ErrorContains(t, err, "failed to unmarshal metadata XML")

	_, err = Unmarshal(`<machine xmlns="x">tags: [</machine>`)
	assert.ErrorContains(t, err, "failed to unmarshal machine metadata from YAML")
}

func TestStoreLoad(t *testing.T) {
	client := &mockClient{}
	dom := libvirt.Domain{Name: "web1"}

	require.NoError(t, Store(client, dom, &MachineMetadata{Datacenter: "dc1", Folder: "web"}))
	assert.Equal(t, Key, client.lastKey)
	assert.Equal(t, Namespace, client.lastURI)

	got, err := Load(client, dom)
	require.NoError(t, err)
	assert.True(t, got.Matches("dc1", "web"))
	assert.False(t, got.Matches("dc1", "db"))
}

func TestStoreLoad_Errors(t *testing.T) {
	boom := errors.New("boom")

	err := Store(&mockClient{setErr: boom}, libvirt.Domain{}, &MachineMetadata{})
	assert.ErrorIs(t, err, boom)

	_, err = Load(&mockClient{getErr: boom}, libvirt.Domain{})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoMetadata)

	missing := libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata), Message: "metadata not found"}
	_, err = Load(&mockClient{getErr: missing}, libvirt.Domain{})
	assert.ErrorIs(t, err, ErrNoMetadata)
}
