package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/log"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/tracing"
	"github.com/jbweber/anvil/internal/transport"
	"github.com/jbweber/anvil/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags
var (
	configPath      string
	driverURL       string
	stateDir        string
	logLevel        string
	logJSON         bool
	dryRun          bool
	metricsTextfile string
	traceEnabled    bool
	pollInterval    time.Duration
	sshTimeout      time.Duration
)

var shutdownTracing func(context.Context) error

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	if finishErr := finish(ctx); err == nil {
		err = finishErr
	}
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Anvil - libvirt machine lifecycle driver",
	Long: `Anvil allocates, readies and destroys libvirt machines from YAML manifests.

Machines are cloned from templates, powered on, waited on until their guest
agent reports an address and SSH answers, and then handed to a convergence
strategy. Machine records are kept in a local state database so every
command can be re-run safely.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{
			Level:      log.ParseLevel(logLevel),
			JSONOutput: logJSON,
		})

		if traceEnabled {
			shutdown, err := tracing.Setup(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to set up tracing: %w", err)
			}
			shutdownTracing = shutdown
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "driver configuration file")
	flags.StringVar(&driverURL, "driver-url", "", "libvirt driver URL (e.g. libvirt:///system, libvirt://kvm01/system?transport=tls)")
	flags.StringVar(&stateDir, "state-dir", "", "directory holding the machine record database")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	flags.BoolVar(&dryRun, "dry-run", false, "report what would be done without changing anything")
	flags.StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
	flags.BoolVar(&traceEnabled, "trace", false, "print trace spans to stderr")
	flags.DurationVar(&pollInterval, "poll-interval", vm.DefaultPollInterval, "interval between readiness probes")
	flags.DurationVar(&sshTimeout, "ssh-connect-timeout", transport.DefaultConnectTimeout, "timeout for a single SSH connection attempt")

	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(convergeCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(testConnCmd)
}

// finish flushes metrics and traces. It runs whether or not the command
// succeeded.
func finish(ctx context.Context) error {
	if metricsTextfile != "" {
		if err := metrics.WriteTextfile(metricsTextfile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	if shutdownTracing != nil {
		shutdown := shutdownTracing
		shutdownTracing = nil
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to flush traces: %v\n", err)
		}
	}
	return nil
}
