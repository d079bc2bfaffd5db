package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lexfrei/istio-waypoint-beacon/internal/mesh"
	"github.com/lexfrei/istio-waypoint-beacon/internal/metrics"
)

const metricsReadTimeout = 10 * time.Second

//nolint:gochecknoglobals // cobra command pattern
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full reconciliation pass",
	Long: `Reconciles the waypoint Gateway, the namespace mesh labels and the
AuthorizationPolicies derived from peer intent, then exits. Peer intent is
read as a JSON list of mesh policies from the file given by --mesh-data;
without it the pass runs with no peer intent.`,
	RunE: runSync,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	syncCmd.Flags().String("mesh-data", "", "Path to a JSON file holding the peer mesh policies")
	syncCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on during the pass (disabled when empty)")

	_ = viper.BindPFlag("mesh-data", syncCmd.Flags().Lookup("mesh-data"))
	_ = viper.BindPFlag("metrics-addr", syncCmd.Flags().Lookup("metrics-addr"))

	rootCmd.AddCommand(syncCmd)
}

//nolint:noinlineerr // sync sequencing
func runSync(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setupRun()
	if err != nil {
		return err
	}

	intents, err := loadIntents(viper.GetString("mesh-data"))
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	if addr := viper.GetString("metrics-addr"); addr != "" {
		stop := serveMetrics(addr, registry)
		defer stop()
	}

	orchestrator, err := newOrchestrator(cfg, logger, collector)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status, err := orchestrator.Sync(ctx, intents)
	if err != nil {
		logger.Error("sync failed", "state", string(status.State), "cause", status.Message)

		return err
	}

	logger.Info("sync complete", "state", string(status.State))

	return nil
}

func loadIntents(path string) ([]mesh.MeshPolicy, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open mesh data file %q", path)
	}
	defer f.Close()

	return mesh.DecodePolicies(f)
}

// serveMetrics exposes the registry for the duration of the pass. The
// returned function shuts the listener down.
func serveMetrics(addr string, registry *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: metricsReadTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Default().Warn("metrics listener stopped", "error", err)
		}
	}()

	return func() {
		_ = server.Close()
	}
}
