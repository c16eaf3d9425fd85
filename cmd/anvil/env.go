package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/config"
	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/log"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/status"
	"github.com/jbweber/anvil/internal/store"
	"github.com/jbweber/anvil/internal/transport"
	"github.com/jbweber/anvil/internal/vm"
)

// env holds everything a command needs. Fields are populated by
// loadConfig, openStore and connect; close releases whatever was opened.
type env struct {
	url     string
	cfg     *config.DriverConfig
	store   *store.BoltStore
	client  *platform.Client
	driver  *vm.Driver
	handler *action.LogHandler
}

// loadConfig reads --config and canonicalizes it with --driver-url.
func loadConfig() (*env, error) {
	var fileCfg *config.DriverConfig
	if configPath != "" {
		c, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		fileCfg = c
	}

	url, cfg, err := config.Canonicalize(driverURL, fileCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid driver configuration: %w", err)
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	return &env{url: url, cfg: cfg}, nil
}

func (e *env) openStore() error {
	s, err := store.NewBoltStore(e.cfg.StateDir)
	if err != nil {
		return err
	}
	e.store = s
	return nil
}

// connect dials libvirt and builds the driver and action handler.
func (e *env) connect(ctx context.Context) error {
	client, err := platform.Connect(ctx, e.cfg.Connect)
	if err != nil {
		return fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	e.client = client

	e.driver = vm.NewDriver(e.url, client, localIdentity(),
		vm.WithLocalMode(e.cfg.LocalMode),
		vm.WithVersion(version),
		vm.WithPollInterval(pollInterval),
		vm.WithTransportConfig(transport.Config{ConnectTimeout: sshTimeout}),
	)

	handlerOpts := []action.Option{action.WithDryRun(dryRun)}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handlerOpts = append(handlerOpts, action.WithProgress(os.Stderr))
	}
	e.handler = action.NewLogHandler(log.Logger, handlerOpts...)
	return nil
}

func (e *env) close() {
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close state database: %v\n", err)
		}
	}
}

// setup loads configuration, opens the state database and connects.
func setup(ctx context.Context) (*env, error) {
	e, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := e.openStore(); err != nil {
		return nil, err
	}
	if err := e.connect(ctx); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

// localIdentity names the host and user running anvil. Either may be empty
// when the lookup fails.
func localIdentity() vm.Identity {
	var id vm.Identity
	if host, err := os.Hostname(); err == nil {
		id.Host = host
	}
	if u, err := user.Current(); err == nil {
		id.User = u.Username
	}
	return id
}

// resolveMachine returns the machine record and merged options for a
// command. With --file the name comes from the manifest; otherwise it is the
// first argument. A record not yet in the store starts fresh.
func (e *env) resolveMachine(manifestPath string, args []string) (*v1alpha1.MachineSpec, v1alpha1.MachineOptions, error) {
	var (
		name      string
		overrides v1alpha1.MachineOptions
	)
	switch {
	case manifestPath != "":
		m, err := loader.LoadFromFile(manifestPath)
		if err != nil {
			return nil, v1alpha1.MachineOptions{}, err
		}
		if len(args) > 0 && args[0] != m.Name {
			return nil, v1alpha1.MachineOptions{}, fmt.Errorf("machine %q does not match manifest name %q", args[0], m.Name)
		}
		name = m.Name
		overrides = m.Spec.MachineOptions
	case len(args) > 0:
		name = args[0]
	default:
		return nil, v1alpha1.MachineOptions{}, errors.New("a machine name or --file is required")
	}

	spec, err := e.store.Get(name)
	if errors.Is(err, store.ErrNotFound) {
		spec = v1alpha1.NewMachineSpec(name)
	} else if err != nil {
		return nil, v1alpha1.MachineOptions{}, err
	}

	opts := config.MergeMachineOptions(e.cfg.MachineOptions, overrides)
	config.ApplyMachineDefaults(&opts)
	return spec, opts, nil
}

// persist saves spec after an operation, failed or not, so partial progress
// is kept. Dry runs change nothing and save nothing.
func (e *env) persist(op string, spec *v1alpha1.MachineSpec, opErr error) error {
	if dryRun {
		return opErr
	}
	logger := log.WithMachine(spec.Name)
	if opErr != nil {
		status.MarkFailed(spec, failureReason(op), opErr.Error(), time.Now())
	}
	if err := e.store.Put(spec); err != nil {
		return errors.Join(opErr, fmt.Errorf("failed to save machine record: %w", err))
	}
	logger.Debug().Str("phase", string(spec.Status.Phase)).Msg("machine record saved")
	return opErr
}

// failureReason turns an operation name into a condition reason, e.g.
// "ready" becomes "ReadyFailed".
func failureReason(op string) string {
	if op == "" {
		return "Failed"
	}
	return strings.ToUpper(op[:1]) + op[1:] + "Failed"
}

func printSummary(w io.Writer, h *action.LogHandler) {
	if s := h.Summary(); s != "" {
		_, _ = fmt.Fprintln(w, s)
	}
}
