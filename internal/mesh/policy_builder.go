package mesh

import (
	"log/slog"
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	istiov1 "github.com/lexfrei/istio-waypoint-beacon/api/istio/v1"
)

// PolicyBuilder turns mesh policy intents into AuthorizationPolicy objects.
type PolicyBuilder struct {
	identity Identity
	logger   *slog.Logger
}

// NewPolicyBuilder creates a PolicyBuilder for the given beacon identity.
func NewPolicyBuilder(id Identity, logger *slog.Logger) *PolicyBuilder {
	return &PolicyBuilder{
		identity: id,
		logger:   logger,
	}
}

// Build derives one AuthorizationPolicy per intent, order-preserving. Intents
// are never merged, even when source/target pairs repeat; the hash segment of
// the generated name keeps them apart.
func (b *PolicyBuilder) Build(policies []MeshPolicy) []*istiov1.AuthorizationPolicy {
	out := make([]*istiov1.AuthorizationPolicy, 0, len(policies))

	for _, policy := range policies {
		out = append(out, b.build(policy))
	}

	return out
}

func (b *PolicyBuilder) build(policy MeshPolicy) *istiov1.AuthorizationPolicy {
	target := policy.TargetService
	if target == "" {
		target = policy.TargetAppName
		b.logger.Info("policy has no target service, defaulting to application name",
			"targetApp", policy.TargetAppName,
		)
	}

	to := make([]istiov1.RuleTo, 0, len(policy.Endpoints))
	for _, endpoint := range policy.Endpoints {
		to = append(to, istiov1.RuleTo{
			Operation: &istiov1.Operation{
				Ports:   portStrings(endpoint.Ports),
				Hosts:   endpoint.Hosts,
				Methods: endpoint.Methods,
				Paths:   endpoint.Paths,
			},
		})
	}

	return &istiov1.AuthorizationPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name: PolicyName(b.identity, policy),
			// Policies attach to the target service, which by convention
			// lives in the beacon's own namespace.
			Namespace: b.identity.Namespace(),
		},
		Spec: istiov1.AuthorizationPolicySpec{
			Action: istiov1.ActionAllow,
			TargetRefs: []istiov1.PolicyTargetReference{
				{
					Kind:  "Service",
					Group: "",
					Name:  target,
				},
			},
			Rules: []istiov1.Rule{
				{
					From: []istiov1.RuleFrom{
						{
							Source: istiov1.Source{
								// Peer service accounts are named per
								// application inside the beacon's namespace,
								// so the principal is resolved there rather
								// than in the source's own namespace.
								Principals: []string{
									PeerIdentity(policy.SourceAppName, b.identity.Namespace()),
								},
							},
						},
					},
					To: to,
				},
			},
		},
	}
}

// portStrings renders ports in the string form the policy engine expects.
// An absent list stays absent.
func portStrings(ports []int) []string {
	if len(ports) == 0 {
		return nil
	}

	out := make([]string, 0, len(ports))
	for _, port := range ports {
		out = append(out, strconv.Itoa(port))
	}

	return out
}
