package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/status"
	"github.com/jbweber/anvil/internal/wait"
)

// Start powers the machine on if it is linked and off. An unlinked record is
// a no-op.
func (d *Driver) Start(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	ctx, finish := d.track(ctx, "start", spec)
	return finish(d.start(ctx, h, spec, opts))
}

func (d *Driver) start(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	r, err := d.locate(ctx, spec)
	if err != nil || r == nil {
		return err
	}

	b := resolveBootstrapOptions(spec, opts, d.identity)
	logger := d.machineLogger(spec)
	logger.Debug().Int("ssh_port", b.SSHPort()).Str("server_id", r.ServerID).Msg("starting machine")

	state, err := d.platform.PowerState(ctx, r)
	if err != nil {
		return err
	}
	if state == platform.PowerStateOn {
		return nil
	}

	return h.PerformAction(fmt.Sprintf("power on VM [%s]", r.Name), func() error {
		if err := d.platform.PowerOn(ctx, r); err != nil {
			return err
		}
		status.MarkStarted(spec, d.clock.Now())
		return nil
	})
}

// Stop shuts the guest down and waits for the machine to power off. A guest
// still running after StopTimeout is powered off hard. An unlinked record is
// a no-op.
func (d *Driver) Stop(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	ctx, finish := d.track(ctx, "stop", spec)
	return finish(d.stop(ctx, h, spec, withTimeoutDefaults(opts)))
}

func (d *Driver) stop(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	r, err := d.locate(ctx, spec)
	if err != nil || r == nil {
		return err
	}

	return h.PerformAction(fmt.Sprintf("shutdown guest OS and power off VM [%s]", r.Name), func() error {
		if err := d.stopResource(ctx, spec, r, opts.StopTimeout); err != nil {
			return err
		}
		status.MarkStopped(spec, d.clock.Now())
		return nil
	})
}

func (d *Driver) stopResource(ctx context.Context, spec *v1alpha1.MachineSpec, r *platform.Resource, timeout time.Duration) error {
	state, err := d.platform.PowerState(ctx, r)
	if err != nil {
		return err
	}
	if state == platform.PowerStateOff {
		return nil
	}

	if err := d.platform.PowerOff(ctx, r, true); err != nil {
		return err
	}

	start := d.clock.Now()
	budget := func(now time.Time) time.Duration {
		return timeout - now.Sub(start)
	}
	probe := func(ctx context.Context) (bool, error) {
		state, err := d.platform.PowerState(ctx, r)
		if err != nil {
			return false, err
		}
		return state == platform.PowerStateOff, nil
	}

	out := wait.Poll(ctx, d.clock, d.pollInterval, budget, probe, nil)
	metrics.WaitDuration.WithLabelValues(phaseStop, out.Result.String()).Observe(d.clock.Now().Sub(start).Seconds())

	switch out.Result {
	case wait.Ready:
		return nil
	case wait.TimedOut:
		logger := d.machineLogger(spec)
		logger.Warn().Str("server_id", r.ServerID).Dur("timeout", timeout).
			Msg("guest did not shut down in time, powering off")
		return d.platform.PowerOff(ctx, r, false)
	default:
		return out.Err
	}
}

// Restart power-cycles a linked machine and re-bases its readiness budget
// onto StartTimeout. An unlinked record is a no-op.
func (d *Driver) Restart(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	ctx, finish := d.track(ctx, "restart", spec)
	err := func() error {
		r, err := d.locate(ctx, spec)
		if err != nil || r == nil {
			return err
		}
		return d.restart(ctx, h, spec, withTimeoutDefaults(opts), r)
	}()
	return finish(err)
}

func (d *Driver) restart(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, r *platform.Resource) error {
	description := fmt.Sprintf("restart machine %s (%s on %s)", spec.Name, r.ServerID, d.url)
	return h.PerformAction(description, func() error {
		if err := d.stopResource(ctx, spec, r, opts.StopTimeout); err != nil {
			return err
		}
		if err := d.platform.PowerOn(ctx, r); err != nil {
			return err
		}
		startedAt := v1alpha1.NewTime(d.clock.Now())
		spec.Location.StartedAt = &startedAt
		status.MarkStarted(spec, startedAt.Time)
		metrics.RebootsTotal.Inc()
		return nil
	})
}
