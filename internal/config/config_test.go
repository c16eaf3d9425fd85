package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/anvil/api/v1alpha1"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anvil.yaml")
	configYAML := `connect:
  transport: tcp
  host: kvm1.example.com
  timeout: 5s
local_mode: true
state_dir: /tmp/anvil
machine_options:
  start_timeout: 5m
  bootstrap_options:
    datacenter: dc1
    template_name: centos-7
    ssh:
      port: 2222
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, TransportTCP, cfg.Connect.Transport)
	assert.Equal(t, "kvm1.example.com", cfg.Connect.Host)
	assert.Equal(t, 5*time.Second, cfg.Connect.Timeout)
	assert.True(t, cfg.LocalMode)
	assert.Equal(t, 5*time.Minute, cfg.MachineOptions.StartTimeout)
	require.NotNil(t, cfg.MachineOptions.BootstrapOptions)
	assert.Equal(t, "centos-7", cfg.MachineOptions.BootstrapOptions.TemplateName)
	assert.Equal(t, 2222, cfg.MachineOptions.BootstrapOptions.SSH.Port)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect: [unclosed"), 0644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestCanonicalize_Defaults(t *testing.T) {
	url, cfg, err := Canonicalize("", nil)
	require.NoError(t, err)

	assert.Equal(t, "libvirt:///system?socket=%2Fvar%2Frun%2Flibvirt%2Flibvirt-sock", url)
	assert.Equal(t, TransportUnix, cfg.Connect.Transport)
	assert.Equal(t, DefaultSocket, cfg.Connect.Socket)
	assert.Equal(t, DefaultStateDir, cfg.StateDir)

	opts := cfg.MachineOptions
	assert.Equal(t, 10*time.Minute, opts.StartTimeout)
	assert.Equal(t, 10*time.Minute, opts.CreateTimeout)
	assert.Equal(t, 2*time.Minute, opts.StopTimeout)
	require.NotNil(t, opts.BootstrapOptions.SSH)
	assert.Equal(t, 22, opts.BootstrapOptions.SSH.Port)
	assert.Equal(t, "root", opts.BootstrapOptions.SSH.User)
}

func TestCanonicalize_URL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		cfg      *DriverConfig
		expected string
	}{
		{
			name:     "tcp default port",
			url:      "libvirt://kvm1?transport=tcp",
			expected: "libvirt://kvm1:16509/system?insecure=false&transport=tcp",
		},
		{
			name:     "host implies tls",
			url:      "libvirt://kvm1",
			expected: "libvirt://kvm1:16514/system?insecure=false&transport=tls",
		},
		{
			name:     "explicit port and path",
			url:      "libvirt://kvm1:1234/session?transport=tcp&insecure=true",
			expected: "libvirt://kvm1:1234/session?insecure=true&transport=tcp",
		},
		{
			name:     "url overrides file",
			url:      "libvirt://kvm2?transport=tcp",
			cfg:      &DriverConfig{Connect: ConnectOptions{Transport: TransportTLS, Host: "kvm1", Port: 9999}},
			expected: "libvirt://kvm2:9999/system?insecure=false&transport=tcp",
		},
		{
			name:     "file only",
			cfg:      &DriverConfig{Connect: ConnectOptions{Transport: TransportTCP, Host: "kvm1"}},
			expected: "libvirt://kvm1:16509/system?insecure=false&transport=tcp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := Canonicalize(tt.url, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	first, _, err := Canonicalize("libvirt://kvm1?transport=tcp", nil)
	require.NoError(t, err)

	second, _, err := Canonicalize(first, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCanonicalize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		cfg     *DriverConfig
		wantErr string
	}{
		{name: "wrong scheme", url: "vsphere://host", wantErr: "scheme must be"},
		{name: "bad port", url: "libvirt://kvm1:abc", wantErr: "invalid driver URL"},
		{name: "bad insecure", url: "libvirt://kvm1?insecure=maybe", wantErr: "bad insecure flag"},
		{name: "unknown transport", url: "libvirt://kvm1?transport=ssh", wantErr: "unsupported transport"},
		{
			name:    "tcp without host",
			cfg:     &DriverConfig{Connect: ConnectOptions{Transport: TransportTCP}},
			wantErr: "missing required options: host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Canonicalize(tt.url, tt.cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCanonicalize_DoesNotMutateInput(t *testing.T) {
	cfg := &DriverConfig{}
	_, _, err := Canonicalize("", cfg)
	require.NoError(t, err)

	assert.Empty(t, cfg.Connect.Transport)
	assert.Nil(t, cfg.MachineOptions.BootstrapOptions)
}

func TestApplyMachineDefaults_WinRMOnly(t *testing.T) {
	opts := v1alpha1.MachineOptions{
		BootstrapOptions: &v1alpha1.BootstrapOptions{WinRM: &v1alpha1.WinRMOptions{Port: 5985}},
	}
	ApplyMachineDefaults(&opts)

	assert.Nil(t, opts.BootstrapOptions.SSH)
}

func TestMergeMachineOptions(t *testing.T) {
	base := v1alpha1.MachineOptions{
		StartTimeout: time.Minute,
		BootstrapOptions: &v1alpha1.BootstrapOptions{
			Datacenter: "dc1",
			Tags:       map[string]string{"env": "prod", "team": "web"},
			SSH:        &v1alpha1.SSHOptions{Port: 22, User: "root"},
		},
	}
	override := v1alpha1.MachineOptions{
		CreateTimeout: 3 * time.Minute,
		BootstrapOptions: &v1alpha1.BootstrapOptions{
			TemplateName: "centos-7",
			Tags:         map[string]string{"env": "dev"},
			SSH:          &v1alpha1.SSHOptions{User: "centos"},
		},
	}

	got := MergeMachineOptions(base, override)

	assert.Equal(t, time.Minute, got.StartTimeout)
	assert.Equal(t, 3*time.Minute, got.CreateTimeout)
	b := got.BootstrapOptions
	assert.Equal(t, "dc1", b.Datacenter)
	assert.Equal(t, "centos-7", b.TemplateName)
	assert.Equal(t, map[string]string{"env": "dev", "team": "web"}, b.Tags)
	assert.Equal(t, 22, b.SSH.Port)
	assert.Equal(t, "centos", b.SSH.User)

	// base is untouched
	assert.Equal(t, "prod", base.BootstrapOptions.Tags["env"])
	assert.Equal(t, "root", base.BootstrapOptions.SSH.User)
}
