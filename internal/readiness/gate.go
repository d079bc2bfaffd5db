// Package readiness waits for the waypoint's backing Deployment to report
// ready with a bounded fixed-interval poll.
package readiness

import (
	"context"
	"log/slog"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/istio-waypoint-beacon/internal/metrics"
)

// DefaultPollInterval is the fixed delay between readiness checks.
const DefaultPollInterval = 10 * time.Second

// Gate polls a Deployment until it reports ready or a bounded number of
// attempts is exhausted. There is no backoff: the attempt count is
// timeout divided by the poll interval.
type Gate struct {
	client   client.Client
	interval time.Duration
	logger   *slog.Logger
	metrics  metrics.Collector

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewGate creates a Gate polling at the given interval. A non-positive
// interval falls back to DefaultPollInterval.
func NewGate(c client.Client, interval time.Duration, logger *slog.Logger, collector metrics.Collector) *Gate {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Gate{
		client:   c,
		interval: interval,
		logger:   logger,
		metrics:  collector,
		sleep:    sleepContext,
	}
}

// WaitReady blocks until the named Deployment reports as many ready replicas
// as desired replicas, polling at the gate's interval for at most timeout in
// total. A missing Deployment or absent status counts as "not yet ready",
// not as an error. Returns false on timeout or context cancellation; the
// caller decides whether that is fatal.
func (g *Gate) WaitReady(ctx context.Context, name, namespace string, timeout time.Duration) bool {
	started := time.Now()
	attempts := int(timeout / g.interval)

	for range attempts {
		if g.check(ctx, name, namespace) {
			g.metrics.RecordReadinessWait(ctx, true, time.Since(started))

			return true
		}

		if !g.sleep(ctx, g.interval) {
			break
		}
	}

	g.metrics.RecordReadinessWait(ctx, false, time.Since(started))

	return false
}

//nolint:funcorder // private helper
func (g *Gate) check(ctx context.Context, name, namespace string) bool {
	deployment := &appsv1.Deployment{}

	err := g.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, deployment)
	if err != nil {
		if apierrors.IsNotFound(err) {
			g.logger.Info("deployment not found, retrying", "name", name, "namespace", namespace)
			g.metrics.RecordReadinessPoll(ctx, "not_found")
		} else {
			g.logger.Warn("failed to fetch deployment, retrying", "name", name, "error", err)
			g.metrics.RecordReadinessPoll(ctx, "error")
		}

		return false
	}

	// An empty status means the controller has not observed the deployment
	// yet, which is "not yet ready" rather than ready-with-zero-replicas.
	if deployment.Status.Replicas > 0 && deployment.Status.ReadyReplicas == deployment.Status.Replicas {
		g.metrics.RecordReadinessPoll(ctx, "ready")

		return true
	}

	g.logger.Info("deployment not ready, retrying",
		"name", name,
		"readyReplicas", deployment.Status.ReadyReplicas,
		"replicas", deployment.Status.Replicas,
	)
	g.metrics.RecordReadinessPoll(ctx, "pending")

	return false
}

// sleepContext sleeps for d, returning false if the context was cancelled
// first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
