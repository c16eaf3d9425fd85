package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// Flags shared by the lifecycle commands
var (
	manifestFile string
	purge        bool
)

type lifecycleFunc func(ctx context.Context, e *env, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error

// runLifecycle resolves the machine, runs op and saves the record whatever
// op returned. after runs only once op succeeded and the record is saved.
func runLifecycle(cmd *cobra.Command, args []string, op lifecycleFunc, after ...func(*env, *v1alpha1.MachineSpec) error) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	spec, opts, err := e.resolveMachine(manifestFile, args)
	if err != nil {
		return err
	}

	if err := e.persist(cmd.Name(), spec, op(ctx, e, spec, opts)); err != nil {
		return err
	}
	for _, fn := range after {
		if err := fn(e, spec); err != nil {
			return err
		}
	}
	printSummary(os.Stdout, e.handler)
	return nil
}

func addManifestFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&manifestFile, "file", "f", "", "machine manifest (YAML)")
}

func init() {
	for _, cmd := range []*cobra.Command{allocateCmd, readyCmd, convergeCmd, startCmd, stopCmd, restartCmd, destroyCmd, connectCmd} {
		addManifestFlag(cmd)
	}
	destroyCmd.Flags().BoolVar(&purge, "purge", false, "remove the machine record after destroying the machine")
}

var allocateCmd = &cobra.Command{
	Use:   "allocate [name] -f <manifest.yaml>",
	Short: "Clone a machine from its template",
	Long: `Allocate clones the machine from its template unless the record already
points at a live resource. The clone is left powered off.

Options come from the driver configuration, overlaid by the manifest.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args, func(ctx context.Context, e *env, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
			return e.driver.Allocate(ctx, e.handler, spec, opts)
		})
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready [name]",
	Short: "Power on a machine and wait until it is reachable",
	Long: `Ready powers the machine on and waits until its guest agent reports an
address and SSH answers. A machine that never comes up after its first boot
is rebooted once.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args, func(ctx context.Context, e *env, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
			m, err := e.driver.Ready(ctx, e.handler, spec, opts)
			if err != nil {
				return err
			}
			if m != nil {
				fmt.Printf("✓ %s is ready at %s\n", spec.Name, m.Address)
			}
			return nil
		})
	},
}

var convergeCmd = &cobra.Command{
	Use:   "converge [name]",
	Short: "Ready a machine and run its convergence strategy",
	Long: `Converge readies the machine, then installs the configuration client
and runs it over the machine's transport.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args, func(ctx context.Context, e *env, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
			m, err := e.driver.Ready(ctx, e.handler, spec, opts)
			if err != nil || m == nil {
				return err
			}
			if err := m.Converge(ctx, e.handler); err != nil {
				return fmt.Errorf("failed to converge %s: %w", spec.Name, err)
			}
			fmt.Printf("✓ %s converged\n", spec.Name)
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Power on a machine",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args, func(ctx context.Context, e *env, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
			return e.driver.Start(ctx, e.handler, spec, opts)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [name]",
	Short: "Shut down a machine",
	Long: `Stop asks the guest to shut down and powers the machine off if it has not
stopped within the stop timeout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args, func(ctx context.Context, e *env, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
			return e.driver.Stop(ctx, e.handler, spec, opts)
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart [name]",
	Short: "Shut down and power on a machine",
	Long: `Restart stops the machine and powers it back on. The readiness budget is
measured from the restart.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args, func(ctx context.Context, e *env, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
			return e.driver.Restart(ctx, e.handler, spec, opts)
		})
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy [name]",
	Short: "Destroy a machine",
	Long: `Destroy a machine by name.

This will:
- Power the machine off if it is running
- Undefine the domain and delete its disks
- Remove the machine from the configuration server

The record is kept with phase Destroyed unless --purge is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args, func(ctx context.Context, e *env, spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions) error {
			return e.driver.Destroy(ctx, e.handler, spec, opts)
		}, func(e *env, spec *v1alpha1.MachineSpec) error {
			if !purge || dryRun {
				return nil
			}
			if err := e.store.Delete(spec.Name); err != nil {
				return fmt.Errorf("failed to remove machine record: %w", err)
			}
			return nil
		})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect [name] [-- command...]",
	Short: "Connect to a machine and optionally run a command",
	Long: `Connect reaches an already-running machine without waiting. Without a
command it prints the address the transport dials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nameArgs, command := args, []string(nil)
		if dash := cmd.ArgsLenAtDash(); dash >= 0 {
			nameArgs, command = args[:dash], args[dash:]
		}
		if len(nameArgs) > 1 {
			return fmt.Errorf("expected at most one machine name, got %d", len(nameArgs))
		}

		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		spec, opts, err := e.resolveMachine(manifestFile, nameArgs)
		if err != nil {
			return err
		}

		m, err := e.driver.ConnectToMachine(ctx, spec, opts)
		if err != nil {
			return err
		}
		if len(command) == 0 {
			fmt.Println(m.Address)
			return nil
		}

		out, err := m.Transport.Execute(ctx, strings.Join(command, " "))
		fmt.Print(out)
		if err != nil {
			return fmt.Errorf("command failed on %s: %w", spec.Name, err)
		}
		return nil
	},
}
