// Package beacon sequences the full sync of the waypoint Gateway, namespace
// labels and AuthorizationPolicies against one namespace.
package beacon

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	istiov1 "github.com/lexfrei/istio-waypoint-beacon/api/istio/v1"
	"github.com/lexfrei/istio-waypoint-beacon/internal/mesh"
	"github.com/lexfrei/istio-waypoint-beacon/internal/metrics"
	"github.com/lexfrei/istio-waypoint-beacon/internal/nslabels"
	"github.com/lexfrei/istio-waypoint-beacon/internal/readiness"
	"github.com/lexfrei/istio-waypoint-beacon/internal/reconcile"
	"github.com/lexfrei/istio-waypoint-beacon/internal/telemetry"
)

// Ownership scope labels. The two scopes are disjoint so reconciling one
// family of generated objects never touches the other.
const (
	scopeLabelKey     = "mesh.k8s.lex.la/scope"
	createdByLabelKey = "mesh.k8s.lex.la/created-by"

	waypointScopeName = "istio-waypoint"
	policyScopeName   = "istio-authorization-policy"
)

// State is the coarse outcome of a sync pass.
type State string

// Sync outcomes.
const (
	StateActive  State = "active"
	StateBlocked State = "blocked"
)

// Status is the user-visible outcome of a sync pass: the final state plus a
// one-line cause when blocked.
type Status struct {
	State   State
	Message string
}

// Orchestrator runs the full sync sequence. Each external trigger runs the
// sequence to completion or first failure; partial application up to a
// failing step is left in place and repaired forward by the next trigger.
type Orchestrator struct {
	cfg        Config
	engine     *reconcile.Engine
	gate       *readiness.Gate
	labels     *nslabels.Manager
	builder    *mesh.PolicyBuilder
	supervisor telemetry.Supervisor
	logger     *slog.Logger
	metrics    metrics.Collector
}

// New assembles an Orchestrator over the given cluster client.
func New(
	c client.Client,
	scheme *runtime.Scheme,
	cfg Config,
	supervisor telemetry.Supervisor,
	logger *slog.Logger,
	collector metrics.Collector,
) *Orchestrator {
	id := cfg.Identity()

	return &Orchestrator{
		cfg:        cfg,
		engine:     reconcile.NewEngine(c, scheme, cfg.AppName, logger, collector),
		gate:       readiness.NewGate(c, cfg.PollInterval, logger, collector),
		labels:     nslabels.NewManager(c, id, logger, collector),
		builder:    mesh.NewPolicyBuilder(id, logger),
		supervisor: supervisor,
		logger:     logger,
		metrics:    collector,
	}
}

// Sync converges cluster state to the given intent: waypoint first, then the
// namespace labels, then the per-relationship authorization policies.
func (o *Orchestrator) Sync(ctx context.Context, intents []mesh.MeshPolicy) (Status, error) {
	started := time.Now()
	id := o.cfg.Identity()

	o.logger.Info("validating waypoint readiness")

	waypoint := mesh.BuildWaypoint(id)

	err := o.engine.Reconcile(ctx, o.waypointScope(), []client.Object{waypoint})
	if err != nil {
		return o.fail(ctx, started, errors.Wrap(err, "failed to reconcile waypoint"))
	}

	if !o.gate.WaitReady(ctx, waypoint.Name, id.Namespace(), o.cfg.ReadyTimeout) {
		return o.fail(ctx, started, errors.Newf(
			"waypoint deployment %q not ready after %s; is the Istio ambient control plane installed?",
			waypoint.Name, o.cfg.ReadyTimeout,
		))
	}

	err = o.supervisor.Ensure(ctx, telemetry.ProxySpec(mesh.TelemetryLabels(id)))
	if err != nil {
		return o.fail(ctx, started, errors.Wrap(err, "failed to declare metrics proxy"))
	}

	err = o.syncNamespaceLabels(ctx)
	if err != nil {
		return o.fail(ctx, started, err)
	}

	o.logger.Info("updating authorization policies")

	err = o.syncAuthorizationPolicies(ctx, intents)
	if err != nil {
		return o.fail(ctx, started, errors.Wrap(err, "failed to reconcile authorization policies"))
	}

	o.metrics.RecordSyncDuration(ctx, "success", time.Since(started))

	return Status{State: StateActive}, nil
}

// Teardown releases the namespace labels and removes everything in both
// ownership scopes. The steps are independent: each is attempted even when an
// earlier one fails, and any failures are combined into the returned error.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	var combined error

	err := o.labels.Release(ctx)
	if err != nil {
		if errors.Is(err, nslabels.ErrForeignOwner) {
			o.logger.Warn("skipping namespace label release", "error", err)
		} else {
			combined = errors.CombineErrors(combined, err)
		}
	}

	for _, scope := range []reconcile.Scope{o.waypointScope(), o.policyScope()} {
		err := o.engine.Reconcile(ctx, scope, nil)
		if err != nil {
			combined = errors.CombineErrors(combined, errors.Wrapf(err, "failed to tear down scope %s", scope.Name))
		}
	}

	return combined
}

// MeshLabels returns the labels a related workload needs to join the mesh
// behind this beacon's waypoint, for advertisement to peers.
func (o *Orchestrator) MeshLabels() map[string]string {
	return mesh.WorkloadMeshLabels(o.cfg.Identity(), o.cfg.ModelOnMesh)
}

//nolint:funcorder // private helpers
func (o *Orchestrator) syncNamespaceLabels(ctx context.Context) error {
	var err error
	if o.cfg.ModelOnMesh {
		err = o.labels.Claim(ctx)
	} else {
		err = o.labels.Release(ctx)
	}

	if err != nil {
		// A foreign owner blocks only the label operation; the rest of the
		// sync proceeds.
		if errors.Is(err, nslabels.ErrForeignOwner) {
			o.logger.Warn("skipping namespace label operation", "error", err)

			return nil
		}

		return errors.Wrap(err, "failed to sync namespace labels")
	}

	return nil
}

//nolint:funcorder // private helpers
func (o *Orchestrator) syncAuthorizationPolicies(ctx context.Context, intents []mesh.MeshPolicy) error {
	var desired []client.Object

	if o.cfg.ManageAuthorizationPolicies {
		for _, policy := range o.builder.Build(intents) {
			desired = append(desired, policy)
		}
	} else {
		// Reconcile to an empty list rather than skip entirely so that
		// flipping the config off removes previously generated policies.
		o.logger.Info("authorization policy management is disabled, reconciling to none")
	}

	return o.engine.Reconcile(ctx, o.policyScope(), desired)
}

//nolint:funcorder // private helpers
func (o *Orchestrator) fail(ctx context.Context, started time.Time, err error) (Status, error) {
	o.metrics.RecordSyncError(ctx, metrics.ClassifyAPIError(err))
	o.metrics.RecordSyncDuration(ctx, "error", time.Since(started))

	return Status{State: StateBlocked, Message: err.Error()}, err
}

//nolint:funcorder // private helpers
func (o *Orchestrator) waypointScope() reconcile.Scope {
	return reconcile.Scope{
		Name:   waypointScopeName,
		Labels: o.scopeLabels(waypointScopeName),
		Kinds:  []client.ObjectList{&gatewayv1.GatewayList{}},
	}
}

//nolint:funcorder // private helpers
func (o *Orchestrator) policyScope() reconcile.Scope {
	return reconcile.Scope{
		Name:   policyScopeName,
		Labels: o.scopeLabels(policyScopeName),
		Kinds:  []client.ObjectList{&istiov1.AuthorizationPolicyList{}},
	}
}

//nolint:funcorder // private helpers
func (o *Orchestrator) scopeLabels(scope string) map[string]string {
	return map[string]string{
		scopeLabelKey:     scope,
		createdByLabelKey: o.cfg.Identity().String(),
	}
}
