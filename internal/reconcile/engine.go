// Package reconcile implements a generic owner-scoped set reconciler: given a
// label selector defining an ownership scope and a desired object list, it
// converges the cluster to that list without touching objects owned by other
// actors.
package reconcile

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/api/equality"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"github.com/lexfrei/istio-waypoint-beacon/internal/metrics"
)

// Scope is an immutable label set defining the objects one reconcile call is
// responsible for, together with the kinds it may hold. Scopes for different
// object families must not overlap so that reconciling one never disturbs the
// other.
type Scope struct {
	// Name identifies the scope in logs and metrics.
	Name string

	// Labels is the ownership label selector. Every desired object is stamped
	// with these labels, and only objects matching all of them are listed,
	// updated or deleted.
	Labels map[string]string

	// Kinds holds one list prototype per object kind the scope may contain.
	Kinds []client.ObjectList
}

// Engine converges cluster state to a desired object list, one scope at a
// time. It operates only on object identity (kind, name, namespace) and
// full-spec equality, never on kind-specific fields.
type Engine struct {
	client     client.Client
	scheme     *runtime.Scheme
	fieldOwner client.FieldOwner
	logger     *slog.Logger
	metrics    metrics.Collector
}

// NewEngine creates an Engine writing with the given field owner.
func NewEngine(
	c client.Client,
	scheme *runtime.Scheme,
	fieldOwner string,
	logger *slog.Logger,
	collector metrics.Collector,
) *Engine {
	return &Engine{
		client:     c,
		scheme:     scheme,
		fieldOwner: client.FieldOwner(fieldOwner),
		logger:     logger,
		metrics:    collector,
	}
}

// objectKey identifies a managed object within a scope.
type objectKey struct {
	gvk       string
	namespace string
	name      string
}

// Reconcile lists every object currently owned by the scope, then creates the
// desired objects that are absent, replaces those that differ (full spec
// replacement, not merge), and deletes owned objects no longer desired.
//
// Calling it twice with the same desired list performs no further cluster
// mutation. Passing an empty desired list is the documented way to tear down
// everything in a scope. The first unrecoverable client error aborts the
// remaining objects of the call and is returned unmasked.
func (e *Engine) Reconcile(ctx context.Context, scope Scope, desired []client.Object) error {
	logger := e.logger.With("scope", scope.Name)

	current, err := e.listOwned(ctx, scope)
	if err != nil {
		e.metrics.RecordReconcileError(ctx, scope.Name, metrics.ClassifyAPIError(err))

		return err
	}

	for _, obj := range desired {
		stampLabels(obj, scope.Labels)

		key, keyErr := e.keyFor(obj)
		if keyErr != nil {
			return keyErr
		}

		existing, owned := current[key]
		delete(current, key)

		if applyErr := e.apply(ctx, logger, scope, obj, existing, owned); applyErr != nil {
			e.metrics.RecordReconcileError(ctx, scope.Name, metrics.ClassifyAPIError(applyErr))

			return applyErr
		}
	}

	// Whatever is left in current is owned but no longer desired.
	for key, obj := range current {
		logger.Info("deleting object no longer desired", "name", key.name, "namespace", key.namespace, "kind", key.gvk)

		if deleteErr := e.client.Delete(ctx, obj); deleteErr != nil {
			e.metrics.RecordReconcileError(ctx, scope.Name, metrics.ClassifyAPIError(deleteErr))

			return errors.Wrapf(deleteErr, "failed to delete %s %s/%s", key.gvk, key.namespace, key.name)
		}

		e.metrics.RecordReconcileOp(ctx, scope.Name, metrics.OpDelete)
	}

	e.metrics.RecordManagedObjects(ctx, scope.Name, len(desired))

	return nil
}

//nolint:funcorder // private helpers
func (e *Engine) apply(
	ctx context.Context,
	logger *slog.Logger,
	scope Scope,
	obj client.Object,
	existing client.Object,
	owned bool,
) error {
	if !owned {
		logger.Info("creating object", "name", obj.GetName(), "namespace", obj.GetNamespace())

		if err := e.client.Create(ctx, obj, e.fieldOwner); err != nil {
			return errors.Wrapf(err, "failed to create %s/%s", obj.GetNamespace(), obj.GetName())
		}

		e.metrics.RecordReconcileOp(ctx, scope.Name, metrics.OpCreate)

		return nil
	}

	if specEqual(obj, existing) && labelsContain(existing.GetLabels(), obj.GetLabels()) {
		e.metrics.RecordReconcileOp(ctx, scope.Name, metrics.OpUnchanged)

		return nil
	}

	logger.Info("replacing object", "name", obj.GetName(), "namespace", obj.GetNamespace())

	// Full replacement: the desired spec wins wholesale. Carry over the
	// resource version so the write targets the observed object.
	obj.SetResourceVersion(existing.GetResourceVersion())

	if err := e.client.Update(ctx, obj, e.fieldOwner); err != nil {
		return errors.Wrapf(err, "failed to update %s/%s", obj.GetNamespace(), obj.GetName())
	}

	e.metrics.RecordReconcileOp(ctx, scope.Name, metrics.OpUpdate)

	return nil
}

//nolint:funcorder // private helpers
func (e *Engine) listOwned(ctx context.Context, scope Scope) (map[objectKey]client.Object, error) {
	owned := make(map[objectKey]client.Object)

	for _, prototype := range scope.Kinds {
		list, ok := prototype.DeepCopyObject().(client.ObjectList)
		if !ok {
			return nil, errors.Newf("scope %s holds a non-list prototype %T", scope.Name, prototype)
		}

		if err := e.client.List(ctx, list, client.MatchingLabels(scope.Labels)); err != nil {
			return nil, errors.Wrapf(err, "failed to list objects in scope %s", scope.Name)
		}

		items, err := apimeta.ExtractList(list)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to extract list items in scope %s", scope.Name)
		}

		for _, item := range items {
			obj, isObj := item.(client.Object)
			if !isObj {
				return nil, errors.Newf("listed item %T is not a client.Object", item)
			}

			key, keyErr := e.keyFor(obj)
			if keyErr != nil {
				return nil, keyErr
			}

			owned[key] = obj
		}
	}

	return owned, nil
}

//nolint:funcorder // private helpers
func (e *Engine) keyFor(obj client.Object) (objectKey, error) {
	gvk, err := apiutil.GVKForObject(obj, e.scheme)
	if err != nil {
		return objectKey{}, errors.Wrapf(err, "failed to resolve kind for %T", obj)
	}

	return objectKey{
		gvk:       gvk.String(),
		namespace: obj.GetNamespace(),
		name:      obj.GetName(),
	}, nil
}

func stampLabels(obj client.Object, scopeLabels map[string]string) {
	labels := obj.GetLabels()
	if labels == nil {
		labels = make(map[string]string, len(scopeLabels))
	}

	for k, v := range scopeLabels {
		labels[k] = v
	}

	obj.SetLabels(labels)
}

// specEqual compares the Spec fields of two objects of the same kind using
// semantic deep equality. Objects without a Spec field never compare equal,
// forcing a replace.
func specEqual(desired, existing client.Object) bool {
	desiredSpec := reflect.ValueOf(desired).Elem().FieldByName("Spec")
	existingSpec := reflect.ValueOf(existing).Elem().FieldByName("Spec")

	if !desiredSpec.IsValid() || !existingSpec.IsValid() {
		return false
	}

	return equality.Semantic.DeepEqual(desiredSpec.Interface(), existingSpec.Interface())
}

// labelsContain reports whether every label in want is present in have with
// the same value.
func labelsContain(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}

	return true
}
