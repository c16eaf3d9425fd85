package vm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/config"
	"github.com/jbweber/anvil/internal/log"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/tracing"
	"github.com/jbweber/anvil/internal/transport"
	"github.com/jbweber/anvil/internal/wait"
)

// DefaultPollInterval is the delay between readiness probes.
const DefaultPollInterval = 5 * time.Second

// Identity names the host and user that bootstrap machines. It is written
// into the BootstrapHost and BootstrapUser tags.
type Identity struct {
	Host string
	User string
}

// Driver runs lifecycle operations for machines on one platform connection.
// It holds no per-machine state; callers serialize operations per machine.
type Driver struct {
	url      string
	version  string
	platform Platform
	identity Identity

	localMode    bool
	clock        wait.Clock
	pollInterval time.Duration

	newTransport    TransportFactory
	newConvergence  ConvergenceFactory
	transportConfig transport.Config

	logger zerolog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the time source used for budgets and polling.
func WithClock(c wait.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithPollInterval sets the delay between readiness probes. Non-positive
// values keep DefaultPollInterval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithLocalMode tolerates a malformed configuration server URL during
// Destroy cleanup.
func WithLocalMode(local bool) Option {
	return func(d *Driver) { d.localMode = local }
}

// WithVersion sets the driver version recorded at allocation.
func WithVersion(version string) Option {
	return func(d *Driver) { d.version = version }
}

// WithTransportFactory replaces the SSH transport constructor.
func WithTransportFactory(f TransportFactory) Option {
	return func(d *Driver) { d.newTransport = f }
}

// WithConvergenceFactory replaces the convergence strategy constructor.
func WithConvergenceFactory(f ConvergenceFactory) Option {
	return func(d *Driver) { d.newConvergence = f }
}

// WithTransportConfig sets the connection settings handed to transports.
func WithTransportConfig(cfg transport.Config) Option {
	return func(d *Driver) { d.transportConfig = cfg }
}

// NewDriver creates a driver for the canonical driverURL.
func NewDriver(driverURL string, p Platform, identity Identity, opts ...Option) *Driver {
	d := &Driver{
		url:            driverURL,
		version:        "dev",
		platform:       p,
		identity:       identity,
		clock:          wait.RealClock{},
		pollInterval:   DefaultPollInterval,
		newTransport:   newSSHTransport,
		newConvergence: newConvergence,
		logger:         log.WithComponent("vm"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// URL returns the canonical driver URL.
func (d *Driver) URL() string {
	return d.url
}

// locate returns the resource linked by the record's server ID. A record
// without a location, or one whose resource is gone, yields (nil, nil).
func (d *Driver) locate(ctx context.Context, spec *v1alpha1.MachineSpec) (*platform.Resource, error) {
	if !spec.IsAllocated() {
		return nil, nil
	}
	r, err := d.platform.FindByInstanceID(ctx, spec.Location.ServerID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// track opens a span and starts a timer for op. The returned function wraps
// err in a MachineError and records the outcome.
func (d *Driver) track(ctx context.Context, op string, spec *v1alpha1.MachineSpec) (context.Context, func(error) error) {
	timer := metrics.NewTimer()
	ctx, span := tracing.Start(ctx, "vm."+op,
		tracing.MachineKey.String(spec.Name),
		tracing.DriverURLKey.String(d.url),
	)
	serverID := spec.ServerID()

	return ctx, func(err error) error {
		if id := spec.ServerID(); id != "" {
			serverID = id
		}
		if serverID != "" {
			span.SetAttributes(tracing.ServerIDKey.String(serverID))
		}
		if err != nil {
			var me *MachineError
			if !errors.As(err, &me) {
				err = &MachineError{Op: op, Machine: spec.Name, ServerID: serverID, DriverURL: d.url, Err: err}
			}
		}
		tracing.End(span, err)
		metrics.ObserveOperation(op, timer, err)
		return err
	}
}

func (d *Driver) machineLogger(spec *v1alpha1.MachineSpec) zerolog.Logger {
	return d.logger.With().Str("machine", spec.Name).Str("driver_url", d.url).Logger()
}

// withTimeoutDefaults fills unset timeouts. Bootstrap options are left alone
// so missing SSH settings still fail allocation.
func withTimeoutDefaults(opts v1alpha1.MachineOptions) v1alpha1.MachineOptions {
	if opts.StartTimeout == 0 {
		opts.StartTimeout = config.DefaultStartTimeout
	}
	if opts.CreateTimeout == 0 {
		opts.CreateTimeout = config.DefaultCreateTimeout
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = config.DefaultStopTimeout
	}
	return opts
}
