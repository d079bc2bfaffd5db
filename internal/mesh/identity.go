package mesh

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Kubernetes object names are limited to 253 characters.
const maxNameLength = 253

// Variable name segments are cut to this length when the assembled policy
// name would exceed the limit. App and namespace names are at most 63
// characters each, so 30 per segment leaves comfortable headroom for the
// static parts and the hash suffix.
const truncatedSegmentLength = 30

// Identity names one beacon deployment. It is the managed-by claim value on
// the namespace and a component of every generated object name, so it must
// be stable across sync passes.
type Identity struct {
	// App is the application name of this beacon deployment.
	App string
	// Model is the model name, which is also the namespace the beacon manages.
	Model string
}

// String returns the identity in its canonical "{app}-{model}" form.
func (i Identity) String() string {
	return i.App + "-" + i.Model
}

// Namespace returns the namespace this beacon manages.
func (i Identity) Namespace() string {
	return i.Model
}

// WaypointName returns the name of the waypoint Gateway for this beacon.
func (i Identity) WaypointName() string {
	return i.String() + "-waypoint"
}

// PeerIdentity returns the mesh principal for an application, relying on the
// convention that each application owns a same-named ServiceAccount in its
// namespace. The format is defined by `principals` in the Istio
// AuthorizationPolicy reference:
//
//	cluster.local/ns/{namespace}/sa/{serviceaccount}
func PeerIdentity(appName, namespace string) string {
	return "cluster.local/ns/" + namespace + "/sa/" + appName
}

// PolicyName derives a unique, deterministic name for the AuthorizationPolicy
// generated from a mesh policy:
//
//	{app}-{model}-policy-{sourceApp}-{sourceNamespace}-{targetApp}-{hash8}
//
// The hash suffix keeps distinct intents between the same source/target pair
// from colliding. If the assembled name exceeds the Kubernetes limit, the
// three variable segments are each truncated; the hash is always computed
// from the untruncated policy so truncation never changes which intents
// collide.
//
// The target namespace is omitted because the policy is generated in the
// beacon's own namespace, which already appears in the prefix.
func PolicyName(id Identity, policy MeshPolicy) string {
	suffix := hashPolicy(policy)

	name := joinName(id, policy.SourceAppName, policy.SourceNamespace, policy.TargetAppName, suffix)
	if len(name) > maxNameLength {
		name = joinName(id,
			truncate(policy.SourceAppName),
			truncate(policy.SourceNamespace),
			truncate(policy.TargetAppName),
			suffix,
		)
	}

	return name
}

func joinName(id Identity, sourceApp, sourceNamespace, targetApp, suffix string) string {
	return strings.Join([]string{id.App, id.Model, "policy", sourceApp, sourceNamespace, targetApp, suffix}, "-")
}

func truncate(s string) string {
	if len(s) > truncatedSegmentLength {
		return s[:truncatedSegmentLength]
	}

	return s
}

// hashPolicy returns the first 8 hex characters of a stable content hash
// covering every field of the policy, order-sensitive.
func hashPolicy(policy MeshPolicy) string {
	// Marshalling a struct is deterministic: fields are emitted in
	// declaration order.
	encoded, err := json.Marshal(policy)
	if err != nil {
		// MeshPolicy contains only strings, ints and slices thereof.
		panic(err)
	}

	sum := sha256.Sum256(encoded)

	return hex.EncodeToString(sum[:])[:8]
}
