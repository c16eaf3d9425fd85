package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/output"
	"github.com/jbweber/anvil/internal/storage"
)

// Pool commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect storage pools",
	Long: `Inspect the libvirt storage pools that serve as datastores.

A machine's datastore option names the pool its disks are cloned into.`,
}

func init() {
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolInfoCmd)
	for _, cmd := range []*cobra.Command{poolListCmd, poolInfoCmd} {
		cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")
	}
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all storage pools",
	Long: `List all storage pools with their state and capacity information.

Shows pool name, type, state, and storage capacity/availability for each pool.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadConfig()
		if err != nil {
			return err
		}
		if err := e.connect(ctx); err != nil {
			return err
		}
		defer e.close()

		pools, err := e.client.Pools(ctx)
		if err != nil {
			return fmt.Errorf("failed to list pools: %w", err)
		}

		f := &output.TableFormatter{NoHeaders: noHeaders}
		fmt.Print(f.FormatPools(pools))
		return nil
	},
}

var poolInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show a storage pool and its volumes",
	Long: `Display a storage pool's capacity followed by every volume it holds.

Example:
  anvil pool info anvil-vms`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadConfig()
		if err != nil {
			return err
		}
		if err := e.connect(ctx); err != nil {
			return err
		}
		defer e.close()

		info, vols, err := e.client.Pool(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get pool info: %w", err)
		}

		f := &output.TableFormatter{NoHeaders: noHeaders}
		fmt.Print(f.FormatPools([]storage.PoolInfo{*info}))
		fmt.Println()
		fmt.Print(f.FormatVolumes(vols))
		return nil
	},
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Testing libvirt connection...")

		e, err := loadConfig()
		if err != nil {
			return err
		}
		if err := e.connect(cmd.Context()); err != nil {
			return err
		}
		defer e.close()

		fmt.Println("✓ Connected to libvirt daemon")

		libvirtVersion, err := e.client.Ping()
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		fmt.Printf("✓ Libvirt version: %s\n", libvirtVersion)
		fmt.Printf("✓ Driver URL: %s\n", e.url)
		return nil
	},
}
