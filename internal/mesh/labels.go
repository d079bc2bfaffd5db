package mesh

// Istio ambient dataplane labels.
const (
	// LabelUseWaypoint routes a namespace or workload through a waypoint.
	LabelUseWaypoint = "istio.io/use-waypoint"

	// LabelUseWaypointNamespace names the namespace of the waypoint when it
	// lives outside the workload's own namespace.
	LabelUseWaypointNamespace = "istio.io/use-waypoint-namespace"

	// LabelDataplaneMode opts a namespace or workload into a dataplane mode.
	LabelDataplaneMode = "istio.io/dataplane-mode"

	// LabelWaypointFor declares which traffic a waypoint serves.
	LabelWaypointFor = "istio.io/waypoint-for"

	// DataplaneModeAmbient is the sidecar-less dataplane mode.
	DataplaneModeAmbient = "ambient"

	// WaypointForAll makes a waypoint serve both service and workload traffic.
	WaypointForAll = "all"
)

// LabelManagedBy records which beacon deployment owns the Istio labels on a
// namespace. Claim and release are refused when it carries a foreign value.
const LabelManagedBy = "mesh.k8s.lex.la/waypoint-managed-by"

const telemetryLabelPrefix = "telemetry.k8s.lex.la/"

// TelemetryLabels returns the label set that marks this beacon's resources
// for aggregated metrics collection. It is stamped on the waypoint Gateway
// and handed to the metrics proxy.
func TelemetryLabels(id Identity) map[string]string {
	return map[string]string{
		telemetryLabelPrefix + id.Model + "." + id.App + ".telemetry": "aggregated",
	}
}

// WorkloadMeshLabels returns the labels a related workload needs to join the
// mesh behind this beacon's waypoint. When the whole model is on the mesh the
// namespace labels cover every workload already, so the map is empty.
func WorkloadMeshLabels(id Identity, modelOnMesh bool) map[string]string {
	if modelOnMesh {
		return map[string]string{}
	}

	return map[string]string{
		LabelDataplaneMode:        DataplaneModeAmbient,
		LabelUseWaypoint:          id.WaypointName(),
		LabelUseWaypointNamespace: id.Namespace(),
	}
}
