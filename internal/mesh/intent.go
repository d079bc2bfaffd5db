// Package mesh builds the cluster objects the beacon owns: the ambient
// waypoint Gateway and the AuthorizationPolicies derived from peer intent.
package mesh

import (
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
)

// Endpoint describes one destination the source application may reach.
// Nil slices mean "unconstrained"; they are never serialized as empty lists
// so the policy engine can tell "unspecified" from "match nothing".
type Endpoint struct {
	Hosts   []string `json:"hosts,omitempty"`
	Ports   []int    `json:"ports,omitempty"`
	Methods []string `json:"methods,omitempty"`
	Paths   []string `json:"paths,omitempty"`
}

// MeshPolicy is one access-policy intent advertised by a related workload.
// It is immutable once received; one sync pass may carry zero or many.
type MeshPolicy struct {
	SourceAppName   string `json:"source_app_name"`
	SourceNamespace string `json:"source_namespace"`
	TargetAppName   string `json:"target_app_name"`

	// TargetNamespace is carried in the wire format but policies are always
	// generated in the beacon's own namespace.
	TargetNamespace string `json:"target_namespace,omitempty"`

	// TargetService overrides TargetAppName as the policy target when set.
	TargetService string `json:"target_service,omitempty"`

	Endpoints []Endpoint `json:"endpoints,omitempty"`
}

// DecodePolicies reads a JSON-encoded list of mesh policies, the parsed form
// of the service-mesh relation payload.
func DecodePolicies(r io.Reader) ([]MeshPolicy, error) {
	var policies []MeshPolicy

	dec := json.NewDecoder(r)
	if err := dec.Decode(&policies); err != nil {
		return nil, errors.Wrap(err, "failed to decode mesh policies")
	}

	return policies, nil
}
