package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/google/uuid"

	"github.com/jbweber/anvil/internal/config"
	"github.com/jbweber/anvil/internal/storage"
)

var (
	// ErrNotFound is returned when a domain does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrNameInUse is returned by FindByPath when a domain has the name but
	// is placed elsewhere. Domain names are global to a libvirt host.
	ErrNameInUse = errors.New("domain name is in use in another folder")
)

// ConnectionError reports a failure to reach the libvirt daemon.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to libvirt at %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// LibvirtClient is the subset of *libvirt.Libvirt used by Client.
type LibvirtClient interface {
	ConnectGetLibVersion() (uint64, error)
	DomainLookupByUUID(UUID libvirt.UUID) (libvirt.Domain, error)
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainCreate(Dom libvirt.Domain) error
	DomainShutdown(Dom libvirt.Domain) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainUndefineFlags(Dom libvirt.Domain, Flags libvirt.DomainUndefineFlagsValues) error
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
	QEMUDomainAgentCommand(Dom libvirt.Domain, Cmd string, Timeout int32, Flags uint32) (libvirt.OptString, error)
	DomainInterfaceAddresses(Dom libvirt.Domain, Source uint32, Flags uint32) ([]libvirt.DomainInterface, error)
}

// StorageManager is the subset of *storage.Manager used by Client.
type StorageManager interface {
	EnsureDatastore(ctx context.Context, name string) (string, error)
	CreateVolume(ctx context.Context, poolName string, spec storage.VolumeSpec) error
	DeleteVolume(ctx context.Context, poolName, volumeName string) error
	WriteVolumeData(ctx context.Context, poolName, volumeName string, data []byte) error
	LookupByPath(ctx context.Context, path string) (*storage.VolumeInfo, error)
	ListPools(ctx context.Context) ([]storage.PoolInfo, error)
	GetPoolInfo(ctx context.Context, name string) (*storage.PoolInfo, error)
	ListVolumes(ctx context.Context, poolName string) ([]storage.VolumeInfo, error)
}

// Client performs lifecycle operations against one libvirt daemon.
type Client struct {
	lv      LibvirtClient
	storage StorageManager
	conn    *libvirt.Libvirt
	newUUID func() uuid.UUID
}

// NewClient builds a Client over an existing connection.
func NewClient(lv LibvirtClient, sm StorageManager) *Client {
	return &Client{
		lv:      lv,
		storage: sm,
		newUUID: uuid.New,
	}
}

// Connect dials the daemon described by opts and returns a Client that must
// be closed via Close.
func Connect(ctx context.Context, opts config.ConnectOptions) (*Client, error) {
	dialer, err := dialerFor(opts)
	if err != nil {
		return nil, &ConnectionError{Address: opts.Address(), Err: err}
	}

	l := libvirt.NewWithDialer(dialer)
	uri := libvirt.QEMUSystem
	if opts.Path == "/session" {
		uri = libvirt.QEMUSession
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- l.ConnectToURI(uri)
	}()

	select {
	case <-ctx.Done():
		return nil, &ConnectionError{Address: opts.Address(), Err: fmt.Errorf("connection cancelled: %w", ctx.Err())}
	case err := <-resultCh:
		if err != nil {
			return nil, &ConnectionError{Address: opts.Address(), Err: err}
		}
	}

	c := NewClient(l, storage.NewManager(l))
	c.conn = l
	return c, nil
}

func dialerFor(opts config.ConnectOptions) (socket.Dialer, error) {
	switch opts.Transport {
	case config.TransportUnix, "":
		return dialers.NewLocal(
			dialers.WithSocket(opts.Socket),
			dialers.WithLocalTimeout(opts.Timeout),
		), nil
	case config.TransportTCP:
		return dialers.NewRemote(
			opts.Host,
			dialers.UsePort(strconv.Itoa(opts.Port)),
			dialers.WithRemoteTimeout(opts.Timeout),
		), nil
	case config.TransportTLS:
		tlsOpts := []dialers.TLSOption{
			dialers.UseTLSPort(strconv.Itoa(opts.Port)),
			dialers.UsePKIPath(opts.PKIPath),
		}
		if opts.Insecure {
			tlsOpts = append(tlsOpts, dialers.WithInsecureNoVerify())
		}
		return dialers.NewTLS(opts.Host, tlsOpts...), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", opts.Transport)
	}
}

// Close closes the libvirt connection. It is safe to call Close multiple
// times and on clients built with NewClient.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

// Ping verifies the connection is still alive.
func (c *Client) Ping() (string, error) {
	v, err := c.lv.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000), nil
}

// Pools lists the storage pools usable as datastores.
func (c *Client) Pools(ctx context.Context) ([]storage.PoolInfo, error) {
	return c.storage.ListPools(ctx)
}

// Pool returns one datastore and the volumes it holds.
func (c *Client) Pool(ctx context.Context, name string) (*storage.PoolInfo, []storage.VolumeInfo, error) {
	info, err := c.storage.GetPoolInfo(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	vols, err := c.storage.ListVolumes(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return info, vols, nil
}
