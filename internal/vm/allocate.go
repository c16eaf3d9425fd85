package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/status"
)

// Allocate links spec to a platform resource, cloning one from the
// configured template when the record has none.
//
// A record whose server ID still resolves is left untouched. A record whose
// resource is gone is recreated with a warning. A same-named resource in the
// target folder is handled by BootstrapOptions.OnNameConflict.
func (d *Driver) Allocate(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	ctx, finish := d.track(ctx, "allocate", spec)
	return finish(d.allocate(ctx, h, spec, opts))
}

func (d *Driver) allocate(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
	logger := d.machineLogger(spec)

	r, err := d.locate(ctx, spec)
	if err != nil {
		return err
	}
	if r != nil {
		logger.Debug().Str("server_id", r.ServerID).Msg("machine already allocated")
		return nil
	}
	if spec.Location != nil {
		logger.Warn().Str("server_id", spec.Location.ServerID).
			Msgf("Machine %s (%s on %s) no longer exists. Recreating ...", spec.Name, spec.Location.ServerID, d.url)
	}

	b := resolveBootstrapOptions(spec, opts, d.identity)
	if b.SSH == nil {
		return ErrUnsupportedBootstrap
	}
	if b.SSH.Port == 0 {
		return ErrSSHPortRequired
	}

	h.ReportProgress(append([]string{fmt.Sprintf("creating machine %s on %s", spec.Name, d.url)}, describeBootstrap(b)...)...)

	description := fmt.Sprintf("create machine %s from %s on %s", spec.Name, templatePath(b), d.url)
	return h.PerformAction(description, func() error {
		res, err := d.cloneOrReuse(ctx, spec, b)
		if err != nil {
			return err
		}

		guest, err := d.platform.GuestProbe(ctx, res)
		if err != nil {
			return fmt.Errorf("failed to probe guest family: %w", err)
		}

		now := d.clock.Now()
		spec.Location = &v1alpha1.Location{
			DriverURL:          d.url,
			DriverVersion:      d.version,
			ServerID:           res.ServerID,
			IsWindows:          guest.Family == v1alpha1.GuestFamilyWindows,
			AllocatedAt:        v1alpha1.NewTime(now),
			KeyName:            b.KeyName,
			SSHUsername:        opts.SSHUsername,
			Sudo:               opts.Sudo,
			UsePrivateIPForSSH: opts.UsePrivateIPForSSH,
			SSHGateway:         opts.SSHGateway,
		}
		status.MarkAllocated(spec, now)

		logger.Info().Str("server_id", res.ServerID).
			Msgf("machine %s created as %s on %s", spec.Name, res.ServerID, d.url)
		return nil
	})
}

// cloneOrReuse returns the resource already using the machine name in the
// target folder, subject to the name-conflict policy, or clones a new one.
func (d *Driver) cloneOrReuse(ctx context.Context, spec *v1alpha1.MachineSpec, b *v1alpha1.BootstrapOptions) (*platform.Resource, error) {
	existing, err := d.platform.FindByPath(ctx, b.Datacenter, b.VMFolder, b.Name)
	switch {
	case err == nil:
		if b.NameConflictPolicy() == v1alpha1.NameConflictError {
			return nil, fmt.Errorf("%w: %s (%s)", ErrNameConflict, b.Name, existing.ServerID)
		}
		logger := d.machineLogger(spec)
		logger.Warn().Str("server_id", existing.ServerID).
			Msgf("reusing existing resource %s found by name", b.Name)
		return existing, nil
	case errors.Is(err, platform.ErrNameInUse):
		return nil, fmt.Errorf("%w: %w", ErrNameConflict, err)
	case !errors.Is(err, platform.ErrNotFound):
		return nil, err
	}

	if b.TemplateName == "" {
		return nil, fmt.Errorf("%w: template_name is not set", ErrTemplateNotFound)
	}
	template, err := d.platform.FindByPath(ctx, b.Datacenter, b.TemplateFolder, b.TemplateName)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) || errors.Is(err, platform.ErrNameInUse) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templatePath(b))
		}
		return nil, err
	}

	res, err := d.platform.Clone(ctx, template, b.Name, platform.CloneOptions{
		Datacenter:     b.Datacenter,
		Folder:         b.VMFolder,
		Datastore:      b.Datastore,
		Tags:           b.Tags,
		AuthorizedKeys: b.AuthorizedKeys,
		BootstrapID:    spec.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", templatePath(b), err)
	}
	metrics.ClonesTotal.Inc()
	return res, nil
}

func templatePath(b *v1alpha1.BootstrapOptions) string {
	path := ""
	for _, p := range []string{b.Datacenter, b.TemplateFolder, b.TemplateName} {
		if p != "" {
			path += "/" + p
		}
	}
	if path == "" {
		return "/"
	}
	return path
}
