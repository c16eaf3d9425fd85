package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/output"
	"github.com/jbweber/anvil/internal/store"
)

// Output flags shared by get and list
var (
	outputFormat string
	noHeaders    bool
	phaseFilter  string
)

func init() {
	for _, cmd := range []*cobra.Command{getCmd, listCmd} {
		cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, yaml, json)")
		cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")
	}
	listCmd.Flags().StringVar(&phaseFilter, "phase", "", "only list machines in these phases (comma-separated)")
}

var getCmd = &cobra.Command{
	Use:   "get <machine-name>",
	Short: "Get details about a machine",
	Long: `Get the stored record of a machine.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   Full YAML record
  -o json   Full JSON record`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		e, err := loadConfig()
		if err != nil {
			return err
		}
		if err := e.openStore(); err != nil {
			return err
		}
		defer e.close()

		spec, err := e.store.Get(name)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("machine %q not found", name)
		}
		if err != nil {
			return fmt.Errorf("failed to get machine: %w", err)
		}

		result, err := formatter.FormatMachine(spec)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List machines",
	Long: `List every machine record in the state database with its phase,
readiness, server id and age. YAML and JSON output is a MachineList object
that also counts machines per phase.

Example:
  anvil list --phase ready,stopped`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		want, err := output.ParsePhases(phaseFilter)
		if err != nil {
			return err
		}

		e, err := loadConfig()
		if err != nil {
			return err
		}
		if err := e.openStore(); err != nil {
			return err
		}
		defer e.close()

		specs, err := e.store.List()
		if err != nil {
			return fmt.Errorf("failed to list machines: %w", err)
		}

		result, err := formatter.FormatMachineList(output.FilterByPhase(specs, want))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

func newFormatter() (output.Formatter, error) {
	if err := output.ValidateFormat(outputFormat); err != nil {
		return nil, err
	}
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}
