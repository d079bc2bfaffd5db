package mesh_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/istio-waypoint-beacon/internal/mesh"
)

func TestIdentityString(t *testing.T) {
	t.Parallel()

	id := mesh.Identity{App: "beacon", Model: "mymodel"}

	assert.Equal(t, "beacon-mymodel", id.String())
	assert.Equal(t, "mymodel", id.Namespace())
	assert.Equal(t, "beacon-mymodel-waypoint", id.WaypointName())
}

func TestPeerIdentity(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"cluster.local/ns/mymodel/sa/app-a",
		mesh.PeerIdentity("app-a", "mymodel"),
	)
}

func TestPolicyName_Format(t *testing.T) {
	t.Parallel()

	id := mesh.Identity{App: "beacon", Model: "mymodel"}
	policy := mesh.MeshPolicy{
		SourceAppName:   "app-a",
		SourceNamespace: "ns1",
		TargetAppName:   "app-b",
		Endpoints: []mesh.Endpoint{
			{Ports: []int{80}, Paths: []string{"/x"}},
		},
	}

	name := mesh.PolicyName(id, policy)

	assert.True(t, strings.HasPrefix(name, "beacon-mymodel-policy-app-a-ns1-app-b-"), "got %q", name)

	suffix := strings.TrimPrefix(name, "beacon-mymodel-policy-app-a-ns1-app-b-")
	assert.Len(t, suffix, 8)
}

func TestPolicyName_Deterministic(t *testing.T) {
	t.Parallel()

	id := mesh.Identity{App: "beacon", Model: "mymodel"}
	policy := mesh.MeshPolicy{
		SourceAppName:   "app-a",
		SourceNamespace: "ns1",
		TargetAppName:   "app-b",
		Endpoints: []mesh.Endpoint{
			{Hosts: []string{"h1"}, Ports: []int{80, 443}, Methods: []string{"GET"}, Paths: []string{"/x"}},
		},
	}

	assert.Equal(t, mesh.PolicyName(id, policy), mesh.PolicyName(id, policy))
}

//nolint:funlen // table of field variations
func TestPolicyName_AnyFieldChangesHash(t *testing.T) {
	t.Parallel()

	id := mesh.Identity{App: "beacon", Model: "mymodel"}
	base := mesh.MeshPolicy{
		SourceAppName:   "app-a",
		SourceNamespace: "ns1",
		TargetAppName:   "app-b",
		TargetService:   "svc-b",
		Endpoints: []mesh.Endpoint{
			{Hosts: []string{"h1"}, Ports: []int{80}, Methods: []string{"GET"}, Paths: []string{"/x"}},
			{Hosts: []string{"h2"}, Ports: []int{443}, Methods: []string{"POST"}, Paths: []string{"/y"}},
		},
	}

	baseHash := hashSegment(t, mesh.PolicyName(id, base))

	tests := []struct {
		name   string
		mutate func(p *mesh.MeshPolicy)
	}{
		{
			name:   "target service",
			mutate: func(p *mesh.MeshPolicy) { p.TargetService = "other" },
		},
		{
			name:   "endpoint port",
			mutate: func(p *mesh.MeshPolicy) { p.Endpoints[0].Ports = []int{8080} },
		},
		{
			name:   "endpoint path",
			mutate: func(p *mesh.MeshPolicy) { p.Endpoints[1].Paths = []string{"/z"} },
		},
		{
			name: "endpoint order",
			mutate: func(p *mesh.MeshPolicy) {
				p.Endpoints[0], p.Endpoints[1] = p.Endpoints[1], p.Endpoints[0]
			},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			mutated := base
			mutated.Endpoints = make([]mesh.Endpoint, len(base.Endpoints))
			copy(mutated.Endpoints, base.Endpoints)
			testCase.mutate(&mutated)

			assert.NotEqual(t, baseHash, hashSegment(t, mesh.PolicyName(id, mutated)))
		})
	}
}

func TestPolicyName_Truncation(t *testing.T) {
	t.Parallel()

	id := mesh.Identity{App: "beacon", Model: "mymodel"}
	long := strings.Repeat("a", 120)
	policy := mesh.MeshPolicy{
		SourceAppName:   "source-" + long,
		SourceNamespace: "namespace-" + long,
		TargetAppName:   "target-" + long,
		Endpoints:       []mesh.Endpoint{{Ports: []int{80}}},
	}

	name := mesh.PolicyName(id, policy)

	assert.LessOrEqual(t, len(name), 253)

	// The hash is computed from the untruncated policy, so it matches the
	// hash of a short-named sibling only if the policies are identical,
	// and the truncated name still carries the full-length hash.
	shortPolicy := policy
	shortPolicy.SourceAppName = "source"
	shortName := mesh.PolicyName(id, shortPolicy)

	assert.NotEqual(t, hashSegment(t, shortName), hashSegment(t, name))

	// Re-deriving the same long policy keeps the hash stable.
	assert.Equal(t, hashSegment(t, name), hashSegment(t, mesh.PolicyName(id, policy)))
	assert.Contains(t, name, "-policy-source-"+strings.Repeat("a", 23))
}

func hashSegment(t *testing.T, name string) string {
	t.Helper()

	idx := strings.LastIndex(name, "-")
	require.Positive(t, idx)

	return name[idx+1:]
}
