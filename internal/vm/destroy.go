package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/convergence"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/status"
)

// Destroy deletes the linked resource, clears the record's location and then
// cleans up the convergence registrations.
//
// The location is cleared only after the platform confirms the delete, so a
// failed Destroy can be retried. Cleanup always runs. A malformed
// configuration server URL is tolerated only in local mode.
func (d *Driver) Destroy(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	ctx, finish := d.track(ctx, "destroy", spec)
	return finish(d.destroy(ctx, h, spec, opts))
}

func (d *Driver) destroy(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	logger := d.machineLogger(spec)

	r, err := d.locate(ctx, spec)
	if err != nil {
		return err
	}

	switch {
	case r != nil:
		err := h.PerformAction(fmt.Sprintf("delete VM [%s]", r.Name), func() error {
			state, err := d.platform.PowerState(ctx, r)
			if err != nil {
				return err
			}
			if state != platform.PowerStateOff {
				if err := d.platform.PowerOff(ctx, r, false); err != nil {
					return err
				}
			}
			if err := d.platform.Destroy(ctx, r); err != nil {
				return err
			}
			spec.Location = nil
			status.MarkDestroyed(spec, d.clock.Now())
			return nil
		})
		if err != nil {
			return err
		}
	case spec.Location != nil:
		logger.Warn().Str("server_id", spec.Location.ServerID).Msg("resource is already gone, clearing location")
		if h.ShouldPerformActions() {
			spec.Location = nil
			status.MarkDestroyed(spec, d.clock.Now())
		}
	}

	strategy := d.convergenceFor(spec, opts)
	if err := strategy.Cleanup(ctx, h, spec); err != nil {
		if errors.Is(err, convergence.ErrMalformedServerURL) && d.localMode {
			logger.Warn().Err(err).Msg("skipping convergence cleanup in local mode")
			return nil
		}
		return err
	}
	return nil
}
