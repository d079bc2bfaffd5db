// Package cmd implements the beacon command line interface.
package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/istio-waypoint-beacon/internal/beacon"
	"github.com/lexfrei/istio-waypoint-beacon/internal/metrics"
	"github.com/lexfrei/istio-waypoint-beacon/internal/telemetry"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

// SetVersion records build metadata injected by the build.
func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "istio-waypoint-beacon",
	Short: "Istio ambient waypoint and access-policy manager for one namespace",
	Long: `A controller that manages an Istio ambient waypoint Gateway and a set of
AuthorizationPolicies in one namespace, converging cluster state to the
access-policy intent advertised by related workloads. Reconciliation runs
on demand: each invocation performs one full sync pass.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	rootCmd.PersistentFlags().String("app-name", "istio-beacon", "Application name of this beacon deployment")
	rootCmd.PersistentFlags().String("model-name", "", "Model name; also the namespace the beacon manages")
	rootCmd.PersistentFlags().Duration("ready-timeout", 300*time.Second,
		"Total time to wait for the waypoint deployment to become ready")
	rootCmd.PersistentFlags().Duration("poll-interval", 10*time.Second,
		"Fixed delay between waypoint readiness checks")
	rootCmd.PersistentFlags().Bool("manage-authorization-policies", true,
		"Generate AuthorizationPolicies from peer intent; when false, previously generated policies are removed")
	rootCmd.PersistentFlags().Bool("model-on-mesh", false,
		"Label the whole namespace onto the ambient mesh")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("BEACON")
	viper.AutomaticEnv()

	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "json")
	viper.SetDefault("app-name", "istio-beacon")
	viper.SetDefault("ready-timeout", 300*time.Second)
	viper.SetDefault("poll-interval", 10*time.Second)
	viper.SetDefault("manage-authorization-policies", true)
	viper.SetDefault("model-on-mesh", false)
}

// Execute runs the root command.
func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo

	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if viper.GetString("log-format") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func buildConfig() (beacon.Config, error) {
	cfg := beacon.Config{
		AppName:                     viper.GetString("app-name"),
		ModelName:                   viper.GetString("model-name"),
		ReadyTimeout:                viper.GetDuration("ready-timeout"),
		PollInterval:                viper.GetDuration("poll-interval"),
		ManageAuthorizationPolicies: viper.GetBool("manage-authorization-policies"),
		ModelOnMesh:                 viper.GetBool("model-on-mesh"),
	}

	if err := cfg.Validate(); err != nil {
		return beacon.Config{}, err
	}

	return cfg, nil
}

func newOrchestrator(cfg beacon.Config, logger *slog.Logger, collector metrics.Collector) (*beacon.Orchestrator, error) {
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load kubeconfig")
	}

	scheme := beacon.NewScheme()

	k8sClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cluster client")
	}

	supervisor := &telemetry.LogSupervisor{Logger: logger}

	return beacon.New(k8sClient, scheme, cfg, supervisor, logger, collector), nil
}

func setupRun() (beacon.Config, *slog.Logger, error) {
	logger := setupLogger()
	slog.SetDefault(logger)
	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	logger.Info("starting istio-waypoint-beacon",
		"version", version,
		"gitsha", gitsha,
	)

	cfg, err := buildConfig()
	if err != nil {
		return beacon.Config{}, nil, err
	}

	return cfg, logger, nil
}
