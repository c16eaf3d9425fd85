package vm

import (
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/convergence"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/transport"
)

// capabilities describe how the driver talks to and converges one guest
// family.
type capabilities struct {
	transport   func(d *Driver, host string, b *v1alpha1.BootstrapOptions, loc *v1alpha1.Location) (transport.Transport, error)
	convergence convergence.Kind
}

var families = map[v1alpha1.GuestFamily]capabilities{
	v1alpha1.GuestFamilyUnix: {
		transport:   (*Driver).sshTransport,
		convergence: convergence.KindInstallCached,
	},
	v1alpha1.GuestFamilyWindows: {
		transport:   (*Driver).winrmTransport,
		convergence: convergence.KindInstallMSI,
	},
}

func capabilitiesFor(family v1alpha1.GuestFamily) (capabilities, error) {
	c, ok := families[family]
	if !ok {
		return capabilities{}, fmt.Errorf("unsupported guest family %s", family)
	}
	return c, nil
}

// transportFor builds the transport for the live guest. The family comes
// from the guest, not the record.
func (d *Driver) transportFor(spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, guest *platform.GuestInfo) (transport.Transport, error) {
	c, err := capabilitiesFor(guest.Family)
	if err != nil {
		return nil, err
	}
	b := resolveBootstrapOptions(spec, opts, d.identity)
	return c.transport(d, guest.IPAddress, b, spec.Location)
}

func (d *Driver) sshTransport(host string, b *v1alpha1.BootstrapOptions, loc *v1alpha1.Location) (transport.Transport, error) {
	if b.SSH == nil {
		return nil, ErrUnsupportedBootstrap
	}
	sshOpts := *b.SSH
	cfg := d.transportConfig
	if sshOpts.Timeout > 0 {
		cfg.ConnectTimeout = sshOpts.Timeout
	}

	var extra transport.Extra
	if loc != nil {
		if loc.SSHUsername != "" {
			sshOpts.User = loc.SSHUsername
		}
		extra.Sudo = loc.Sudo
		extra.Gateway = loc.SSHGateway
	}
	return d.newTransport(host, &sshOpts, extra, cfg)
}

func (d *Driver) winrmTransport(host string, b *v1alpha1.BootstrapOptions, _ *v1alpha1.Location) (transport.Transport, error) {
	return transport.NewWinRM(host, b.WinRM)
}

// convergenceFor selects the strategy from persisted state only, so the
// choice is stable while the resource is unreachable.
func (d *Driver) convergenceFor(spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) convergence.Strategy {
	if !spec.IsAllocated() {
		return d.newConvergence(convergence.KindNoConverge, opts.ConvergenceOptions)
	}
	c, err := capabilitiesFor(spec.Family())
	if err != nil {
		return d.newConvergence(convergence.KindNoConverge, opts.ConvergenceOptions)
	}
	return d.newConvergence(c.convergence, opts.ConvergenceOptions)
}
