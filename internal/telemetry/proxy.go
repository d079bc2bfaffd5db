// Package telemetry declares the metrics-forwarding proxy process that runs
// alongside the beacon. Actual process supervision is the host's concern;
// this package only builds the process declaration and defines the boundary.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// ProcessSpec declares one supervised process.
type ProcessSpec struct {
	Name    string
	Summary string
	Command string
}

// Supervisor starts or restarts a declared process. Implementations belong to
// the host environment; redeclaring an already-running process replaces it.
type Supervisor interface {
	Ensure(ctx context.Context, spec ProcessSpec) error
}

// ProxySpec declares the metrics broadcast proxy, forwarding metrics for all
// resources carrying the given telemetry labels.
func ProxySpec(labels map[string]string) ProcessSpec {
	return ProcessSpec{
		Name:    "metrics-proxy",
		Summary: "Metrics Broadcast Proxy",
		Command: "metrics-proxy --labels " + FormatLabels(labels),
	}
}

// FormatLabels formats a label map as a comma-separated string of key=value
// pairs, sorted by key for a stable command line.
func FormatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+labels[k])
	}

	return strings.Join(pairs, ",")
}

// LogSupervisor records process declarations without starting anything. It
// stands in where no real supervisor is wired, such as tests and dry runs.
type LogSupervisor struct {
	Logger *slog.Logger
}

// Ensure logs the declaration and succeeds.
func (s *LogSupervisor) Ensure(_ context.Context, spec ProcessSpec) error {
	s.Logger.Info("declared process", "name", spec.Name, "command", spec.Command)

	return nil
}
