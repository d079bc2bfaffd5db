package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lexfrei/istio-waypoint-beacon/internal/mesh"
)

//nolint:gochecknoglobals // cobra command pattern
var meshLabelsCmd = &cobra.Command{
	Use:   "mesh-labels",
	Short: "Print the labels a related workload needs to join the mesh",
	Long: `Prints, as JSON, the labels a related workload must carry to join the
ambient mesh behind this beacon's waypoint. The map is empty when the whole
model is on the mesh, because the namespace labels already cover every
workload.`,
	RunE: runMeshLabels,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	rootCmd.AddCommand(meshLabelsCmd)
}

//nolint:noinlineerr // small command body
func runMeshLabels(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	labels := mesh.WorkloadMeshLabels(cfg.Identity(), cfg.ModelOnMesh)

	encoded, err := json.MarshalIndent(labels, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode labels")
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

	return nil
}
