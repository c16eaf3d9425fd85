package vm

import (
	"context"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/convergence"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/transport"
)

// Machine is a ready machine: its record, how to reach it and how to
// converge it.
type Machine struct {
	Spec        *v1alpha1.MachineSpec
	Family      v1alpha1.GuestFamily
	Address     string
	Transport   transport.Transport
	Convergence convergence.Strategy
}

func (d *Driver) newMachine(spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, guest *platform.GuestInfo, t transport.Transport) *Machine {
	return &Machine{
		Spec:        spec,
		Family:      guest.Family,
		Address:     t.Address(),
		Transport:   t,
		Convergence: d.convergenceFor(spec, opts),
	}
}

// Converge runs the convergence strategy over the machine's transport.
func (m *Machine) Converge(ctx context.Context, h action.Handler) error {
	return m.Convergence.Converge(ctx, h, m.Spec, m.Transport)
}

// Cleanup removes the machine's registrations from the configuration server.
func (m *Machine) Cleanup(ctx context.Context, h action.Handler) error {
	return m.Convergence.Cleanup(ctx, h, m.Spec)
}
