// Package nslabels manages the fixed set of Istio ambient labels on the
// beacon's namespace, guarded by a managed-by ownership claim so that a
// namespace configured by another deployment (or another tool entirely) is
// never clobbered.
package nslabels

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/istio-waypoint-beacon/internal/mesh"
	"github.com/lexfrei/istio-waypoint-beacon/internal/metrics"
)

// ErrForeignOwner is returned when the namespace labels are held by a
// different owner and the requested operation was skipped without mutation.
var ErrForeignOwner = errors.New("namespace labels are managed by another entity")

// RetryStrategy wraps the read-check-write cycle. The default runs it once;
// a stricter concurrency control (conflict retry, optimistic token) can be
// injected here without changing the ownership-check logic.
type RetryStrategy func(fn func() error) error

func runOnce(fn func() error) error {
	return fn()
}

// Manager claims and releases the waypoint label set on one namespace.
//
// Both operations are read-modify-write against a shared object with no
// transaction: concurrent claims from two beacon instances targeting the same
// namespace are last-writer-wins.
type Manager struct {
	client     client.Client
	identity   mesh.Identity
	fieldOwner client.FieldOwner
	retry      RetryStrategy
	logger     *slog.Logger
	metrics    metrics.Collector
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryStrategy replaces the default single-shot read-check-write cycle.
func WithRetryStrategy(strategy RetryStrategy) Option {
	return func(m *Manager) {
		m.retry = strategy
	}
}

// NewManager creates a label manager for the namespace of the given identity.
func NewManager(
	c client.Client,
	id mesh.Identity,
	logger *slog.Logger,
	collector metrics.Collector,
	opts ...Option,
) *Manager {
	m := &Manager{
		client:     c,
		identity:   id,
		fieldOwner: client.FieldOwner(id.App),
		retry:      runOnce,
		logger:     logger,
		metrics:    collector,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Claim sets the waypoint labels on the namespace, marking it as managed by
// this beacon. If the namespace already carries Istio labels managed by a
// different entity, it returns ErrForeignOwner and changes nothing.
func (m *Manager) Claim(ctx context.Context) error {
	err := m.retry(func() error {
		return m.claim(ctx)
	})
	if err != nil {
		if errors.Is(err, ErrForeignOwner) {
			m.metrics.RecordOwnershipConflict(ctx, "claim")
		}

		m.metrics.RecordNamespaceLabelOp(ctx, "claim", "error")

		return err
	}

	m.metrics.RecordNamespaceLabelOp(ctx, "claim", "success")

	return nil
}

// Release clears the waypoint labels from the namespace. If the managed-by
// label is absent or names a different owner, it returns ErrForeignOwner and
// changes nothing, so this beacon's teardown never deletes another owner's
// labels.
func (m *Manager) Release(ctx context.Context) error {
	err := m.retry(func() error {
		return m.release(ctx)
	})
	if err != nil {
		if errors.Is(err, ErrForeignOwner) {
			m.metrics.RecordOwnershipConflict(ctx, "release")
		}

		m.metrics.RecordNamespaceLabelOp(ctx, "release", "error")

		return err
	}

	m.metrics.RecordNamespaceLabelOp(ctx, "release", "success")

	return nil
}

//nolint:funcorder // private helpers
func (m *Manager) claim(ctx context.Context) error {
	namespace, err := m.getNamespace(ctx)
	if err != nil {
		return err
	}

	labels := namespace.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}

	configured := labels[mesh.LabelUseWaypoint] != "" || labels[mesh.LabelDataplaneMode] != ""
	if configured && labels[mesh.LabelManagedBy] != m.identity.String() {
		return errors.Wrapf(ErrForeignOwner,
			"cannot add labels to namespace %q", namespace.Name)
	}

	original := namespace.DeepCopy()

	labels[mesh.LabelUseWaypoint] = m.identity.WaypointName()
	labels[mesh.LabelDataplaneMode] = mesh.DataplaneModeAmbient
	labels[mesh.LabelManagedBy] = m.identity.String()
	namespace.SetLabels(labels)

	m.logger.Info("claiming waypoint labels on namespace", "namespace", namespace.Name)

	return m.patch(ctx, namespace, original)
}

//nolint:funcorder // private helpers
func (m *Manager) release(ctx context.Context) error {
	namespace, err := m.getNamespace(ctx)
	if err != nil {
		return err
	}

	labels := namespace.GetLabels()
	if labels[mesh.LabelManagedBy] != m.identity.String() {
		return errors.Wrapf(ErrForeignOwner,
			"cannot remove labels from namespace %q", namespace.Name)
	}

	original := namespace.DeepCopy()

	delete(labels, mesh.LabelUseWaypoint)
	delete(labels, mesh.LabelDataplaneMode)
	delete(labels, mesh.LabelManagedBy)
	namespace.SetLabels(labels)

	m.logger.Info("releasing waypoint labels on namespace", "namespace", namespace.Name)

	return m.patch(ctx, namespace, original)
}

//nolint:funcorder // private helpers
func (m *Manager) getNamespace(ctx context.Context) (*corev1.Namespace, error) {
	namespace := &corev1.Namespace{}

	err := m.client.Get(ctx, types.NamespacedName{Name: m.identity.Namespace()}, namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, errors.Wrapf(err, "namespace %q not found", m.identity.Namespace())
		}

		return nil, errors.Wrapf(err, "failed to fetch namespace %q", m.identity.Namespace())
	}

	return namespace, nil
}

//nolint:funcorder // private helpers
func (m *Manager) patch(ctx context.Context, namespace, original *corev1.Namespace) error {
	err := m.client.Patch(ctx, namespace, client.MergeFrom(original), m.fieldOwner)
	if err != nil {
		return errors.Wrapf(err, "failed to patch namespace %q", namespace.Name)
	}

	return nil
}
