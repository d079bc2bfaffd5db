package beacon

import (
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	istiov1 "github.com/lexfrei/istio-waypoint-beacon/api/istio/v1"
)

// NewScheme assembles the runtime scheme covering every kind the beacon
// touches: core and apps types, Gateway API, and the Istio security types.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()

	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(gatewayv1.Install(scheme))
	utilruntime.Must(istiov1.AddToScheme(scheme))

	return scheme
}
