package beacon

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/istio-waypoint-beacon/internal/mesh"
)

// Config holds all configuration options for the beacon.
// Values are typically populated from CLI flags or environment variables.
type Config struct {
	// AppName is the application name of this beacon deployment.
	AppName string

	// ModelName is the model name, which is also the namespace the beacon
	// manages its resources in.
	ModelName string

	// ReadyTimeout is the total time to wait for the waypoint deployment to
	// report ready before a sync is aborted.
	ReadyTimeout time.Duration

	// PollInterval is the fixed delay between readiness checks.
	PollInterval time.Duration

	// ManageAuthorizationPolicies controls whether AuthorizationPolicies are
	// generated from peer intent. When false the policy scope is reconciled
	// to empty, removing previously generated policies.
	ManageAuthorizationPolicies bool

	// ModelOnMesh opts the whole namespace into the ambient mesh by labelling
	// the namespace object. When false any labels this beacon holds on the
	// namespace are released.
	ModelOnMesh bool
}

// Identity returns the stable identity of this beacon deployment.
func (c *Config) Identity() mesh.Identity {
	return mesh.Identity{App: c.AppName, Model: c.ModelName}
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.AppName == "" {
		return errors.New("app-name is required")
	}

	if c.ModelName == "" {
		return errors.New("model-name is required")
	}

	if c.ReadyTimeout <= 0 {
		return errors.New("ready-timeout must be positive")
	}

	return nil
}
