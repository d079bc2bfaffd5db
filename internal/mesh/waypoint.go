package mesh

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"
)

const (
	waypointGatewayClass = "istio-waypoint"

	// HBONE is the tunnel protocol ambient waypoints listen on.
	waypointProtocol gatewayv1.ProtocolType = "HBONE"
	waypointPort     gatewayv1.PortNumber   = 15008
)

// BuildWaypoint constructs the desired waypoint Gateway for this beacon. The
// object is a plain value recomputed on every sync pass; the cluster is the
// durable store.
func BuildWaypoint(id Identity) *gatewayv1.Gateway {
	labels := map[string]string{
		LabelWaypointFor: WaypointForAll,
	}
	for k, v := range TelemetryLabels(id) {
		labels[k] = v
	}

	fromAll := gatewayv1.NamespacesFromAll

	return &gatewayv1.Gateway{
		ObjectMeta: metav1.ObjectMeta{
			Name:      id.WaypointName(),
			Namespace: id.Namespace(),
			Labels:    labels,
		},
		Spec: gatewayv1.GatewaySpec{
			GatewayClassName: waypointGatewayClass,
			Listeners: []gatewayv1.Listener{
				{
					Name:     "mesh",
					Port:     waypointPort,
					Protocol: waypointProtocol,
					AllowedRoutes: &gatewayv1.AllowedRoutes{
						Namespaces: &gatewayv1.RouteNamespaces{
							From: &fromAll,
						},
					},
				},
			},
		},
	}
}
