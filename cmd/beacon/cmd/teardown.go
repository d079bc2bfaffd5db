package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lexfrei/istio-waypoint-beacon/internal/metrics"
)

//nolint:gochecknoglobals // cobra command pattern
var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Release the namespace labels and delete all generated objects",
	Long: `Releases the waypoint labels held on the namespace (skipped when another
entity owns them) and deletes everything in both ownership scopes: the
waypoint Gateway and all generated AuthorizationPolicies. Each step is
attempted even when an earlier one fails.`,
	RunE: runTeardown,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	rootCmd.AddCommand(teardownCmd)
}

//nolint:noinlineerr // teardown sequencing
func runTeardown(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setupRun()
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(prometheus.NewRegistry())

	orchestrator, err := newOrchestrator(cfg, logger, collector)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orchestrator.Teardown(ctx); err != nil {
		logger.Error("teardown failed", "error", err)

		return err
	}

	logger.Info("teardown complete")

	return nil
}
