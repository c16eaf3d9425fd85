package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/transport"
	"github.com/jbweber/anvil/internal/wait"
)

// rebootGrace is how far past its budget a machine may be and still get the
// automatic reboot.
const rebootGrace = 10 * time.Minute

// Wait phases used as metric labels.
const (
	phaseReady     = "ready"
	phaseTransport = "transport"
	phaseStop      = "stop"
)

// Remaining returns the readiness budget left at now. Once the machine has
// been restarted it counts from StartedAt against StartTimeout, otherwise from
// AllocatedAt against CreateTimeout. A record without a location has no
// budget.
func Remaining(spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, now time.Time) time.Duration {
	loc := spec.Location
	if loc == nil {
		return 0
	}
	if loc.StartedAt != nil && !loc.StartedAt.IsZero() {
		return opts.StartTimeout - now.Sub(loc.StartedAt.Time)
	}
	return opts.CreateTimeout - now.Sub(loc.AllocatedAt.Time)
}

// waitUntilReady polls the guest until the agent runs and reports an
// address. The last probe result is returned with the outcome.
func (d *Driver) waitUntilReady(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, r *platform.Resource) (*platform.GuestInfo, wait.Outcome) {
	var guest *platform.GuestInfo
	probe := func(ctx context.Context) (bool, error) {
		info, err := d.platform.GuestProbe(ctx, r)
		if err != nil {
			return false, err
		}
		guest = info
		return info.ToolsRunning && info.IPAddress != "", nil
	}

	waiting := fmt.Sprintf("waiting for %s (%s on %s) to be ready ...", spec.Name, r.ServerID, d.url)
	done := fmt.Sprintf("%s is now ready", spec.Name)
	out := d.poll(ctx, h, spec, opts, phaseReady, waiting, done, probe)
	return guest, out
}

// waitForTransport polls t until it accepts connections.
func (d *Driver) waitForTransport(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, r *platform.Resource, t transport.Transport) wait.Outcome {
	probe := func(ctx context.Context) (bool, error) {
		return t.Available(ctx), nil
	}

	waiting := fmt.Sprintf("waiting for %s (%s on %s) to be connectable (transport up and running) ...", spec.Name, r.ServerID, d.url)
	done := fmt.Sprintf("%s is now connectable", spec.Name)
	return d.poll(ctx, h, spec, opts, phaseTransport, waiting, done, probe)
}

// poll runs probe against the readiness budget. The waiting line is reported
// once the first probe fails; ticks are shown only to interactive handlers.
func (d *Driver) poll(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, phase, waiting, done string, probe wait.Probe) wait.Outcome {
	start := d.clock.Now()
	budget := func(now time.Time) time.Duration {
		return Remaining(spec, opts, now)
	}

	var reported bool
	tick := func() {
		if !reported {
			h.ReportProgress(waiting)
			reported = true
		}
		if h.Interactive() {
			h.Tick()
		}
	}

	out := wait.Poll(ctx, d.clock, d.pollInterval, budget, probe, tick)
	metrics.WaitDuration.WithLabelValues(phase, out.Result.String()).Observe(d.clock.Now().Sub(start).Seconds())

	if reported && out.Result == wait.Ready {
		h.ReportProgress(done)
	}
	return out
}

// mayReboot reports whether a timed-out machine gets its single automatic
// reboot: none has happened yet and the budget is not overrun by more than
// rebootGrace.
func (d *Driver) mayReboot(spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) bool {
	if spec.Location == nil || spec.Location.StartedAt != nil {
		return false
	}
	return Remaining(spec, opts, d.clock.Now()) >= -rebootGrace
}
