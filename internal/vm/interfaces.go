package vm

import (
	"context"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/convergence"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/transport"
)

// Platform defines the platform operations the driver needs.
//
// In production, this is satisfied by *platform.Client.
// In tests, this is satisfied by a fake.
type Platform interface {
	// FindByInstanceID returns platform.ErrNotFound when no resource has id.
	FindByInstanceID(ctx context.Context, id string) (*platform.Resource, error)

	// FindByPath returns platform.ErrNotFound when no resource has name and
	// platform.ErrNameInUse when one has it outside folder.
	FindByPath(ctx context.Context, datacenter, folder, name string) (*platform.Resource, error)

	// Clone creates name from template. The clone is powered off.
	Clone(ctx context.Context, template *platform.Resource, name string, opts platform.CloneOptions) (*platform.Resource, error)

	PowerState(ctx context.Context, r *platform.Resource) (platform.PowerState, error)
	PowerOn(ctx context.Context, r *platform.Resource) error
	PowerOff(ctx context.Context, r *platform.Resource, graceful bool) error
	Destroy(ctx context.Context, r *platform.Resource) error

	// GuestProbe reports guest agent status, address and family.
	GuestProbe(ctx context.Context, r *platform.Resource) (*platform.GuestInfo, error)
}

// TransportFactory builds the SSH transport for a guest address.
type TransportFactory func(host string, opts *v1alpha1.SSHOptions, extra transport.Extra, cfg transport.Config) (transport.Transport, error)

// ConvergenceFactory builds the convergence strategy of the given kind.
type ConvergenceFactory func(kind convergence.Kind, opts *v1alpha1.ConvergenceOptions) convergence.Strategy

func newSSHTransport(host string, opts *v1alpha1.SSHOptions, extra transport.Extra, cfg transport.Config) (transport.Transport, error) {
	t, err := transport.NewSSH(host, opts, extra, cfg)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newConvergence(kind convergence.Kind, opts *v1alpha1.ConvergenceOptions) convergence.Strategy {
	return convergence.New(kind, opts)
}
