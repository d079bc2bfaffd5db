// Package metrics provides Prometheus metrics instrumentation for the beacon.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconcile operation labels.
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpUnchanged = "unchanged"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
type Collector interface {
	// Sync metrics
	RecordSyncDuration(ctx context.Context, status string, duration time.Duration)
	RecordSyncError(ctx context.Context, errorType string)

	// Reconcile engine metrics
	RecordReconcileOp(ctx context.Context, scope, op string)
	RecordManagedObjects(ctx context.Context, scope string, count int)
	RecordReconcileError(ctx context.Context, scope, errorType string)

	// Readiness gate metrics
	RecordReadinessWait(ctx context.Context, ready bool, duration time.Duration)
	RecordReadinessPoll(ctx context.Context, outcome string)

	// Namespace label metrics
	RecordNamespaceLabelOp(ctx context.Context, op, status string)
	RecordOwnershipConflict(ctx context.Context, op string)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Sync metrics
	syncDuration    *prometheus.HistogramVec
	syncErrorsTotal *prometheus.CounterVec

	// Reconcile engine metrics
	reconcileOpsTotal    *prometheus.CounterVec
	managedObjects       *prometheus.GaugeVec
	reconcileErrorsTotal *prometheus.CounterVec

	// Readiness gate metrics
	readinessWaitDuration *prometheus.HistogramVec
	readinessPollsTotal   *prometheus.CounterVec

	// Namespace label metrics
	namespaceLabelOpsTotal  *prometheus.CounterVec
	ownershipConflictsTotal *prometheus.CounterVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initSyncMetrics()
	c.initReconcileMetrics()
	c.initReadinessMetrics()
	c.initNamespaceMetrics()
	c.register(reg)

	return c
}

// RecordSyncDuration records the duration of a full sync pass.
func (c *prometheusCollector) RecordSyncDuration(_ context.Context, status string, duration time.Duration) {
	c.syncDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSyncError records a sync error by type.
func (c *prometheusCollector) RecordSyncError(_ context.Context, errorType string) {
	c.syncErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordReconcileOp records a single create/update/delete/unchanged decision.
func (c *prometheusCollector) RecordReconcileOp(_ context.Context, scope, op string) {
	c.reconcileOpsTotal.WithLabelValues(scope, op).Inc()
}

// RecordManagedObjects records the number of cluster objects owned by a scope.
func (c *prometheusCollector) RecordManagedObjects(_ context.Context, scope string, count int) {
	c.managedObjects.WithLabelValues(scope).Set(float64(count))
}

// RecordReconcileError records a reconcile error by scope and type.
func (c *prometheusCollector) RecordReconcileError(_ context.Context, scope, errorType string) {
	c.reconcileErrorsTotal.WithLabelValues(scope, errorType).Inc()
}

// RecordReadinessWait records the total time spent waiting for the waypoint workload.
func (c *prometheusCollector) RecordReadinessWait(_ context.Context, ready bool, duration time.Duration) {
	outcome := "timeout"
	if ready {
		outcome = "ready"
	}

	c.readinessWaitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordReadinessPoll records a single readiness poll outcome.
func (c *prometheusCollector) RecordReadinessPoll(_ context.Context, outcome string) {
	c.readinessPollsTotal.WithLabelValues(outcome).Inc()
}

// RecordNamespaceLabelOp records a namespace label claim/release attempt.
func (c *prometheusCollector) RecordNamespaceLabelOp(_ context.Context, op, status string) {
	c.namespaceLabelOpsTotal.WithLabelValues(op, status).Inc()
}

// RecordOwnershipConflict records a claim/release blocked by a foreign owner.
func (c *prometheusCollector) RecordOwnershipConflict(_ context.Context, op string) {
	c.ownershipConflictsTotal.WithLabelValues(op).Inc()
}

func (c *prometheusCollector) initSyncMetrics() {
	c.syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_sync_duration_seconds",
			Help:    "Duration of a full beacon sync pass",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"status"},
	)
	c.syncErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_sync_errors_total",
			Help: "Total sync errors by type",
		},
		[]string{"error_type"},
	)
}

func (c *prometheusCollector) initReconcileMetrics() {
	c.reconcileOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_reconcile_operations_total",
			Help: "Total reconcile operations by scope and kind of mutation",
		},
		[]string{"scope", "op"},
	)
	c.managedObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_managed_objects",
			Help: "Number of cluster objects currently owned by a scope",
		},
		[]string{"scope"},
	)
	c.reconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_reconcile_errors_total",
			Help: "Total reconcile errors by scope and type",
		},
		[]string{"scope", "error_type"},
	)
}

func (c *prometheusCollector) initReadinessMetrics() {
	c.readinessWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_readiness_wait_duration_seconds",
			Help:    "Time spent waiting for the waypoint deployment to become ready",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)
	c.readinessPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_readiness_polls_total",
			Help: "Total readiness polls by outcome",
		},
		[]string{"outcome"},
	)
}

func (c *prometheusCollector) initNamespaceMetrics() {
	c.namespaceLabelOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_namespace_label_operations_total",
			Help: "Total namespace label claim/release attempts",
		},
		[]string{"op", "status"},
	)
	c.ownershipConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_namespace_ownership_conflicts_total",
			Help: "Label operations skipped because the namespace is owned by another entity",
		},
		[]string{"op"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.syncDuration,
		c.syncErrorsTotal,
		c.reconcileOpsTotal,
		c.managedObjects,
		c.reconcileErrorsTotal,
		c.readinessWaitDuration,
		c.readinessPollsTotal,
		c.namespaceLabelOpsTotal,
		c.ownershipConflictsTotal,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordSyncDuration is a no-op.
func (c *NoopCollector) RecordSyncDuration(_ context.Context, _ string, _ time.Duration) {}

// RecordSyncError is a no-op.
func (c *NoopCollector) RecordSyncError(_ context.Context, _ string) {}

// RecordReconcileOp is a no-op.
func (c *NoopCollector) RecordReconcileOp(_ context.Context, _, _ string) {}

// RecordManagedObjects is a no-op.
func (c *NoopCollector) RecordManagedObjects(_ context.Context, _ string, _ int) {}

// RecordReconcileError is a no-op.
func (c *NoopCollector) RecordReconcileError(_ context.Context, _, _ string) {}

// RecordReadinessWait is a no-op.
func (c *NoopCollector) RecordReadinessWait(_ context.Context, _ bool, _ time.Duration) {}

// RecordReadinessPoll is a no-op.
func (c *NoopCollector) RecordReadinessPoll(_ context.Context, _ string) {}

// RecordNamespaceLabelOp is a no-op.
func (c *NoopCollector) RecordNamespaceLabelOp(_ context.Context, _, _ string) {}

// RecordOwnershipConflict is a no-op.
func (c *NoopCollector) RecordOwnershipConflict(_ context.Context, _ string) {}
