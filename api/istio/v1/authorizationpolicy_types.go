package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Action is the enforcement action taken when a policy rule matches.
// +kubebuilder:validation:Enum=ALLOW;DENY
type Action string

const (
	// ActionAllow permits matching requests.
	ActionAllow Action = "ALLOW"
	// ActionDeny rejects matching requests.
	ActionDeny Action = "DENY"
)

// PolicyTargetReference selects the resource the policy attaches to.
type PolicyTargetReference struct {
	// Group of the target resource. Empty for core resources such as Service.
	Group string `json:"group"`

	// Kind of the target resource.
	// +kubebuilder:validation:Required
	Kind string `json:"kind"`

	// Name of the target resource.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Namespace of the target resource. Defaults to the policy's namespace.
	// +optional
	Namespace string `json:"namespace,omitempty"`
}

// Source matches the peer identity of a request origin.
type Source struct {
	// Principals is a list of peer identities derived from the peer certificate,
	// in the form "cluster.local/ns/{namespace}/sa/{serviceaccount}".
	// +optional
	Principals []string `json:"principals,omitempty"`

	// NotPrincipals is a negative match on peer identities.
	// +optional
	NotPrincipals []string `json:"notPrincipals,omitempty"`
}

// RuleFrom wraps a Source inside a rule.
type RuleFrom struct {
	Source Source `json:"source"`
}

// Operation matches the destination side of a request.
//
// Unset list fields are omitted from the serialized object so that Istio
// distinguishes "unconstrained" from "match nothing".
type Operation struct {
	// +optional
	Hosts []string `json:"hosts,omitempty"`
	// +optional
	NotHosts []string `json:"notHosts,omitempty"`
	// +optional
	Ports []string `json:"ports,omitempty"`
	// +optional
	Methods []string `json:"methods,omitempty"`
	// +optional
	NotMethods []string `json:"notMethods,omitempty"`
	// +optional
	Paths []string `json:"paths,omitempty"`
	// +optional
	NotPaths []string `json:"notPaths,omitempty"`
}

// RuleTo wraps an Operation inside a rule.
type RuleTo struct {
	// +optional
	Operation *Operation `json:"operation,omitempty"`
}

// Condition matches request attributes by key.
type Condition struct {
	// +kubebuilder:validation:Required
	Key string `json:"key"`
	// +optional
	Values []string `json:"values,omitempty"`
	// +optional
	NotValues []string `json:"notValues,omitempty"`
}

// Rule matches requests from a set of sources to a set of operations.
type Rule struct {
	// +optional
	From []RuleFrom `json:"from,omitempty"`
	// +optional
	To []RuleTo `json:"to,omitempty"`
	// +optional
	When []Condition `json:"when,omitempty"`
}

// AuthorizationPolicySpec defines access control rules enforced by the mesh.
type AuthorizationPolicySpec struct {
	// Action taken when a rule matches. Defaults to ALLOW.
	// +optional
	// +kubebuilder:default=ALLOW
	Action Action `json:"action,omitempty"`

	// TargetRefs selects the resources the policy applies to.
	// +optional
	TargetRefs []PolicyTargetReference `json:"targetRefs,omitempty"`

	// Rules is the list of match rules. An empty list matches nothing.
	// +optional
	Rules []Rule `json:"rules,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:printcolumn:name="Action",type=string,JSONPath=`.spec.action`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// AuthorizationPolicy is the Schema for Istio authorizationpolicies.
type AuthorizationPolicy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec AuthorizationPolicySpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// AuthorizationPolicyList contains a list of AuthorizationPolicy.
type AuthorizationPolicyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []AuthorizationPolicy `json:"items"`
}

func init() {
	SchemeBuilder.Register(&AuthorizationPolicy{}, &AuthorizationPolicyList{})
}
