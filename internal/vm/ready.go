package vm

import (
	"context"
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/status"
	"github.com/jbweber/anvil/internal/transport"
	"github.com/jbweber/anvil/internal/wait"
)

// Ready powers the machine on and waits until its guest agent reports an
// address and its transport accepts connections.
//
// When the wait runs out of budget the machine is rebooted once, provided it
// has not been rebooted before and the budget is overrun by less than ten
// minutes; a second timeout is returned as ErrTimeout. In dry-run mode the
// waits are skipped and Ready returns a nil Machine.
func (d *Driver) Ready(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) (*Machine, error) {
	ctx, finish := d.track(ctx, "ready", spec)
	m, err := d.ready(ctx, h, spec, withTimeoutDefaults(opts))
	return m, finish(err)
}

func (d *Driver) ready(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) (*Machine, error) {
	if err := d.start(ctx, h, spec, opts); err != nil {
		return nil, err
	}

	r, err := d.locate(ctx, spec)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrMachineNotFound
	}

	if !h.ShouldPerformActions() {
		h.ReportProgress(fmt.Sprintf("would wait for %s (%s on %s) to be ready", spec.Name, r.ServerID, d.url))
		return nil, nil
	}

	guest, t, out := d.waitForMachine(ctx, h, spec, opts, r)
	if out.Result == wait.TimedOut && d.mayReboot(spec, opts) {
		logger := d.machineLogger(spec)
		logger.Warn().Str("server_id", r.ServerID).
			Msgf("Machine %s (%s on %s) was started but SSH did not come up. Rebooting machine in an attempt to unstick it ...", spec.Name, r.ServerID, d.url)
		if err := d.restart(ctx, h, spec, opts, r); err != nil {
			return nil, err
		}
		guest, t, out = d.waitForMachine(ctx, h, spec, opts, r)
	}

	switch out.Result {
	case wait.Ready:
	case wait.TimedOut:
		msg := fmt.Sprintf("%s did not become connectable after %d attempt(s)", spec.Name, out.Attempts)
		status.MarkTransportUnavailable(spec, msg, d.clock.Now())
		return nil, fmt.Errorf("%w: %s", ErrTimeout, msg)
	default:
		return nil, out.Err
	}

	status.MarkReady(spec, d.clock.Now())
	return d.newMachine(spec, opts, guest, t), nil
}

// waitForMachine runs both readiness waits. The transport is built from the
// address the guest reported.
func (d *Driver) waitForMachine(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, r *platform.Resource) (*platform.GuestInfo, transport.Transport, wait.Outcome) {
	guest, out := d.waitUntilReady(ctx, h, spec, opts, r)
	if out.Result != wait.Ready {
		return nil, nil, out
	}

	t, err := d.transportFor(spec, opts, guest)
	if err != nil {
		return nil, nil, wait.Outcome{Result: wait.Fatal, Err: err}
	}

	out = d.waitForTransport(ctx, h, spec, opts, r, t)
	return guest, t, out
}

// ConnectToMachine builds a Machine for a linked machine without waiting.
func (d *Driver) ConnectToMachine(ctx context.Context, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) (*Machine, error) {
	ctx, finish := d.track(ctx, "connect", spec)
	m, err := d.connect(ctx, spec, opts)
	return m, finish(err)
}

func (d *Driver) connect(ctx context.Context, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) (*Machine, error) {
	r, err := d.locate(ctx, spec)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrMachineNotFound
	}

	guest, err := d.platform.GuestProbe(ctx, r)
	if err != nil {
		return nil, err
	}
	t, err := d.transportFor(spec, opts, guest)
	if err != nil {
		return nil, err
	}
	return d.newMachine(spec, opts, guest, t), nil
}
