// Package config loads driver configuration and canonicalizes driver URLs.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// Connection transports.
const (
	TransportUnix = "unix"
	TransportTCP  = "tcp"
	TransportTLS  = "tls"
)

// Scheme is the driver URL scheme.
const Scheme = "libvirt"

// Defaults applied by Canonicalize.
const (
	DefaultTCPPort       = 16509
	DefaultTLSPort       = 16514
	DefaultPath          = "/system"
	DefaultSocket        = "/var/run/libvirt/libvirt-sock"
	DefaultPKIPath       = "/etc/pki/libvirt"
	DefaultStartTimeout  = 10 * time.Minute
	DefaultCreateTimeout = 10 * time.Minute
	DefaultStopTimeout   = 2 * time.Minute
	DefaultSSHPort       = 22
	DefaultSSHUser       = "root"
	DefaultStateDir      = "/var/lib/anvil"
)

// ConnectOptions describe how to reach the libvirt daemon.
type ConnectOptions struct {
	Transport string        `yaml:"transport,omitempty"`
	Host      string        `yaml:"host,omitempty"`
	Port      int           `yaml:"port,omitempty"`
	Path      string        `yaml:"path,omitempty"`
	Socket    string        `yaml:"socket,omitempty"`
	Insecure  bool          `yaml:"insecure,omitempty"`
	PKIPath   string        `yaml:"pki_path,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// DriverConfig is the driver configuration file.
type DriverConfig struct {
	Connect ConnectOptions `yaml:"connect"`

	// LocalMode tolerates cleanup against a malformed configuration server
	// URL.
	LocalMode bool `yaml:"local_mode,omitempty"`

	// MachineOptions are defaults merged under every manifest's options.
	MachineOptions v1alpha1.MachineOptions `yaml:"machine_options,omitempty"`

	// StateDir holds the machine record database.
	StateDir string `yaml:"state_dir,omitempty"`
}

// LoadFromFile loads a driver configuration from a YAML file.
func LoadFromFile(path string) (*DriverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DriverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// Canonicalize merges options derived from driverURL over cfg over defaults,
// validates the result and returns the canonical driver URL together with
// the merged configuration. cfg is not modified.
func Canonicalize(driverURL string, cfg *DriverConfig) (string, *DriverConfig, error) {
	merged := &DriverConfig{}
	if cfg != nil {
		merged.Connect = cfg.Connect
		merged.LocalMode = cfg.LocalMode
		merged.MachineOptions = *cfg.MachineOptions.DeepCopy()
		merged.StateDir = cfg.StateDir
	}

	if driverURL != "" {
		fromURL, err := parseDriverURL(driverURL)
		if err != nil {
			return "", nil, err
		}
		overlayConnect(&merged.Connect, fromURL)
	}

	applyConnectDefaults(&merged.Connect)
	ApplyMachineDefaults(&merged.MachineOptions)
	if merged.StateDir == "" {
		merged.StateDir = DefaultStateDir
	}

	if err := merged.Connect.Validate(); err != nil {
		return "", nil, err
	}

	return merged.Connect.URL(), merged, nil
}

// Validate checks that the required connect options are present.
func (c *ConnectOptions) Validate() error {
	var missing []string
	switch c.Transport {
	case TransportUnix:
		if c.Socket == "" {
			missing = append(missing, "socket")
		}
	case TransportTCP, TransportTLS:
		if c.Host == "" {
			missing = append(missing, "host")
		}
		if c.Port == 0 {
			missing = append(missing, "port")
		}
	default:
		return fmt.Errorf("unsupported transport %q (expected unix, tcp or tls)", c.Transport)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required options: %s", strings.Join(missing, ", "))
	}
	return nil
}

// URL renders the canonical driver URL for c.
func (c *ConnectOptions) URL() string {
	u := url.URL{Scheme: Scheme, Path: c.Path}
	q := url.Values{}
	if c.Transport == TransportUnix {
		q.Set("socket", c.Socket)
	} else {
		u.Host = fmt.Sprintf("%s:%d", c.Host, c.Port)
		q.Set("transport", c.Transport)
		q.Set("insecure", strconv.FormatBool(c.Insecure))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Address returns the dial address for network transports.
func (c *ConnectOptions) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func parseDriverURL(driverURL string) (*ConnectOptions, error) {
	u, err := url.Parse(driverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid driver URL %q: %w", driverURL, err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("invalid driver URL %q: scheme must be %q", driverURL, Scheme)
	}

	opts := &ConnectOptions{
		Host: u.Hostname(),
		Path: u.Path,
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid driver URL %q: bad port: %w", driverURL, err)
		}
		opts.Port = port
	}

	q := u.Query()
	opts.Transport = q.Get("transport")
	opts.Socket = q.Get("socket")
	if v := q.Get("insecure"); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid driver URL %q: bad insecure flag: %w", driverURL, err)
		}
		opts.Insecure = insecure
	}
	if opts.Transport == "" && opts.Host != "" {
		opts.Transport = TransportTLS
	}
	return opts, nil
}

func overlayConnect(dst *ConnectOptions, src *ConnectOptions) {
	if src.Transport != "" {
		dst.Transport = src.Transport
	}
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.Socket != "" {
		dst.Socket = src.Socket
	}
	if src.Insecure {
		dst.Insecure = true
	}
}

func applyConnectDefaults(c *ConnectOptions) {
	if c.Transport == "" {
		if c.Host == "" {
			c.Transport = TransportUnix
		} else {
			c.Transport = TransportTLS
		}
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	switch c.Transport {
	case TransportUnix:
		if c.Socket == "" {
			c.Socket = DefaultSocket
		}
	case TransportTCP:
		if c.Port == 0 {
			c.Port = DefaultTCPPort
		}
	case TransportTLS:
		if c.Port == 0 {
			c.Port = DefaultTLSPort
		}
		if c.PKIPath == "" {
			c.PKIPath = DefaultPKIPath
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// ApplyMachineDefaults fills unset timeouts and SSH settings.
func ApplyMachineDefaults(opts *v1alpha1.MachineOptions) {
	if opts.StartTimeout == 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.CreateTimeout == 0 {
		opts.CreateTimeout = DefaultCreateTimeout
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.BootstrapOptions == nil {
		opts.BootstrapOptions = &v1alpha1.BootstrapOptions{}
	}
	b := opts.BootstrapOptions
	if b.WinRM != nil && b.SSH == nil {
		return
	}
	if b.SSH == nil {
		b.SSH = &v1alpha1.SSHOptions{}
	}
	if b.SSH.Port == 0 {
		b.SSH.Port = DefaultSSHPort
	}
	if b.SSH.User == "" {
		b.SSH.User = DefaultSSHUser
	}
}

// MergeMachineOptions returns override layered over base. Tags and Extra are
// merged key by key with override winning; other fields win when set.
func MergeMachineOptions(base, override v1alpha1.MachineOptions) v1alpha1.MachineOptions {
	out := *base.DeepCopy()
	o := override.DeepCopy()

	if o.StartTimeout != 0 {
		out.StartTimeout = o.StartTimeout
	}
	if o.CreateTimeout != 0 {
		out.CreateTimeout = o.CreateTimeout
	}
	if o.StopTimeout != 0 {
		out.StopTimeout = o.StopTimeout
	}
	if o.ConvergenceOptions != nil {
		out.ConvergenceOptions = o.ConvergenceOptions
	}
	if o.SSHUsername != "" {
		out.SSHUsername = o.SSHUsername
	}
	if o.SSHGateway != "" {
		out.SSHGateway = o.SSHGateway
	}
	out.Sudo = out.Sudo || o.Sudo
	out.UsePrivateIPForSSH = out.UsePrivateIPForSSH || o.UsePrivateIPForSSH

	switch {
	case o.BootstrapOptions == nil:
	case out.BootstrapOptions == nil:
		out.BootstrapOptions = o.BootstrapOptions
	default:
		out.BootstrapOptions = mergeBootstrap(out.BootstrapOptions, o.BootstrapOptions)
	}
	return out
}

func mergeBootstrap(base, o *v1alpha1.BootstrapOptions) *v1alpha1.BootstrapOptions {
	out := base
	setString(&out.Name, o.Name)
	setString(&out.KeyName, o.KeyName)
	setString(&out.Datacenter, o.Datacenter)
	setString(&out.TemplateFolder, o.TemplateFolder)
	setString(&out.TemplateName, o.TemplateName)
	setString(&out.VMFolder, o.VMFolder)
	setString(&out.Datastore, o.Datastore)
	setString(&out.ResourcePool, o.ResourcePool)
	setString(&out.Cluster, o.Cluster)
	setString(&out.OnNameConflict, o.OnNameConflict)
	out.Tags = mergeMap(out.Tags, o.Tags)
	out.Extra = mergeMap(out.Extra, o.Extra)
	if len(o.AuthorizedKeys) > 0 {
		out.AuthorizedKeys = o.AuthorizedKeys
	}
	if o.WinRM != nil {
		out.WinRM = o.WinRM
	}
	switch {
	case o.SSH == nil:
	case out.SSH == nil:
		out.SSH = o.SSH
	default:
		if o.SSH.Port != 0 {
			out.SSH.Port = o.SSH.Port
		}
		setString(&out.SSH.User, o.SSH.User)
		setString(&out.SSH.Password, o.SSH.Password)
		setString(&out.SSH.KeyFile, o.SSH.KeyFile)
		setString(&out.SSH.PrivateKey, o.SSH.PrivateKey)
		if o.SSH.Timeout != 0 {
			out.SSH.Timeout = o.SSH.Timeout
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeMap(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(override))
	}
	for k, v := range override {
		base[k] = v
	}
	return base
}
