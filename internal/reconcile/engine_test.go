package reconcile_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	istiov1 "github.com/lexfrei/istio-waypoint-beacon/api/istio/v1"
	"github.com/lexfrei/istio-waypoint-beacon/internal/metrics"
	"github.com/lexfrei/istio-waypoint-beacon/internal/reconcile"
)

const testFieldOwner = "beacon-test"

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()

	scheme := runtime.NewScheme()
	utilruntime.Must(appsv1.AddToScheme(scheme))
	utilruntime.Must(gatewayv1.Install(scheme))
	utilruntime.Must(istiov1.AddToScheme(scheme))

	return scheme
}

func newTestEngine(c client.Client, scheme *runtime.Scheme) *reconcile.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return reconcile.NewEngine(c, scheme, testFieldOwner, logger, metrics.NewNoopCollector())
}

// mutationCounter tallies writes going through the fake client.
type mutationCounter struct {
	creates int
	updates int
	deletes int
}

func (m *mutationCounter) funcs() interceptor.Funcs {
	return interceptor.Funcs{
		Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			m.creates++

			return c.Create(ctx, obj, opts...)
		},
		Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
			m.updates++

			return c.Update(ctx, obj, opts...)
		},
		Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
			m.deletes++

			return c.Delete(ctx, obj, opts...)
		},
	}
}

func (m *mutationCounter) total() int {
	return m.creates + m.updates + m.deletes
}

func waypointScope() reconcile.Scope {
	return reconcile.Scope{
		Name: "istio-waypoint",
		Labels: map[string]string{
			"mesh.k8s.lex.la/scope":      "istio-waypoint",
			"mesh.k8s.lex.la/created-by": "beacon-mymodel",
		},
		Kinds: []client.ObjectList{&gatewayv1.GatewayList{}},
	}
}

func policyScope() reconcile.Scope {
	return reconcile.Scope{
		Name: "istio-authorization-policy",
		Labels: map[string]string{
			"mesh.k8s.lex.la/scope":      "istio-authorization-policy",
			"mesh.k8s.lex.la/created-by": "beacon-mymodel",
		},
		Kinds: []client.ObjectList{&istiov1.AuthorizationPolicyList{}},
	}
}

func testGateway(name string) *gatewayv1.Gateway {
	return &gatewayv1.Gateway{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "mymodel",
		},
		Spec: gatewayv1.GatewaySpec{
			GatewayClassName: "istio-waypoint",
		},
	}
}

func testPolicy(name string, principals ...string) *istiov1.AuthorizationPolicy {
	return &istiov1.AuthorizationPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "mymodel",
		},
		Spec: istiov1.AuthorizationPolicySpec{
			Action: istiov1.ActionAllow,
			Rules: []istiov1.Rule{
				{From: []istiov1.RuleFrom{{Source: istiov1.Source{Principals: principals}}}},
			},
		},
	}
}

func TestReconcile_CreatesMissingObjects(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)
	fakeClient := fake.NewClientBuilder().WithScheme(scheme).Build()
	engine := newTestEngine(fakeClient, scheme)
	ctx := context.Background()

	err := engine.Reconcile(ctx, waypointScope(), []client.Object{testGateway("beacon-mymodel-waypoint")})
	require.NoError(t, err)

	var gw gatewayv1.Gateway
	err = fakeClient.Get(ctx, client.ObjectKey{Namespace: "mymodel", Name: "beacon-mymodel-waypoint"}, &gw)
	require.NoError(t, err)

	assert.Equal(t, "istio-waypoint", gw.Labels["mesh.k8s.lex.la/scope"])
	assert.Equal(t, "beacon-mymodel", gw.Labels["mesh.k8s.lex.la/created-by"])
}

func TestReconcile_SecondPassIsIdempotent(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)
	counter := &mutationCounter{}
	fakeClient := fake.NewClientBuilder().
		WithScheme(scheme).
		WithInterceptorFuncs(counter.funcs()).
		Build()
	engine := newTestEngine(fakeClient, scheme)

	ctx := context.Background()
	desired := func() []client.Object {
		return []client.Object{
			testPolicy("policy-a", "cluster.local/ns/mymodel/sa/app-a"),
			testPolicy("policy-b", "cluster.local/ns/mymodel/sa/app-b"),
		}
	}

	require.NoError(t, engine.Reconcile(ctx, policyScope(), desired()))
	assert.Equal(t, 2, counter.creates)

	before := counter.total()

	require.NoError(t, engine.Reconcile(ctx, policyScope(), desired()))
	assert.Equal(t, before, counter.total(), "second pass with identical desired state must not mutate")
}

func TestReconcile_ConvergesToNewDesiredState(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)
	counter := &mutationCounter{}
	fakeClient := fake.NewClientBuilder().
		WithScheme(scheme).
		WithInterceptorFuncs(counter.funcs()).
		Build()
	engine := newTestEngine(fakeClient, scheme)

	ctx := context.Background()

	require.NoError(t, engine.Reconcile(ctx, policyScope(), []client.Object{
		testPolicy("policy-a", "cluster.local/ns/mymodel/sa/app-a"),
		testPolicy("policy-b", "cluster.local/ns/mymodel/sa/app-b"),
	}))

	// policy-a changes spec, policy-b disappears, policy-c is new.
	require.NoError(t, engine.Reconcile(ctx, policyScope(), []client.Object{
		testPolicy("policy-a", "cluster.local/ns/mymodel/sa/app-z"),
		testPolicy("policy-c", "cluster.local/ns/mymodel/sa/app-c"),
	}))

	assert.Equal(t, 3, counter.creates)
	assert.Equal(t, 1, counter.updates)
	assert.Equal(t, 1, counter.deletes)

	var list istiov1.AuthorizationPolicyList
	require.NoError(t, fakeClient.List(ctx, &list, client.InNamespace("mymodel")))
	require.Len(t, list.Items, 2)

	byName := make(map[string]istiov1.AuthorizationPolicy, len(list.Items))
	for _, item := range list.Items {
		byName[item.Name] = item
	}

	require.Contains(t, byName, "policy-a")
	require.Contains(t, byName, "policy-c")
	assert.Equal(t,
		[]string{"cluster.local/ns/mymodel/sa/app-z"},
		byName["policy-a"].Spec.Rules[0].From[0].Source.Principals,
	)
}

func TestReconcile_ReplacesSpecWholesale(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)

	// An owned policy with extra spec content the desired state does not carry.
	existing := testPolicy("policy-a", "cluster.local/ns/mymodel/sa/app-a")
	existing.Labels = map[string]string{
		"mesh.k8s.lex.la/scope":      "istio-authorization-policy",
		"mesh.k8s.lex.la/created-by": "beacon-mymodel",
	}
	existing.Spec.Rules[0].To = []istiov1.RuleTo{
		{Operation: &istiov1.Operation{Ports: []string{"9999"}}},
	}

	fakeClient := fake.NewClientBuilder().WithScheme(scheme).WithObjects(existing).Build()
	engine := newTestEngine(fakeClient, scheme)
	ctx := context.Background()

	require.NoError(t, engine.Reconcile(ctx, policyScope(), []client.Object{
		testPolicy("policy-a", "cluster.local/ns/mymodel/sa/app-a"),
	}))

	var got istiov1.AuthorizationPolicy
	require.NoError(t, fakeClient.Get(ctx, client.ObjectKey{Namespace: "mymodel", Name: "policy-a"}, &got))

	// The stray rule is gone, not merged.
	assert.Nil(t, got.Spec.Rules[0].To)
}

func TestReconcile_EmptyDesiredDeletesEverything(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)
	fakeClient := fake.NewClientBuilder().WithScheme(scheme).Build()
	engine := newTestEngine(fakeClient, scheme)

	ctx := context.Background()

	require.NoError(t, engine.Reconcile(ctx, policyScope(), []client.Object{
		testPolicy("policy-a", "cluster.local/ns/mymodel/sa/app-a"),
		testPolicy("policy-b", "cluster.local/ns/mymodel/sa/app-b"),
	}))

	require.NoError(t, engine.Reconcile(ctx, policyScope(), nil))

	var list istiov1.AuthorizationPolicyList
	require.NoError(t, fakeClient.List(ctx, &list, client.InNamespace("mymodel")))
	assert.Empty(t, list.Items)
}

func TestReconcile_IgnoresForeignObjects(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)

	foreign := testPolicy("foreign-policy", "cluster.local/ns/other/sa/app-x")
	foreign.Labels = map[string]string{
		"mesh.k8s.lex.la/scope":      "istio-authorization-policy",
		"mesh.k8s.lex.la/created-by": "other-beacon",
	}

	unlabeled := testPolicy("manual-policy", "cluster.local/ns/other/sa/app-y")

	fakeClient := fake.NewClientBuilder().WithScheme(scheme).WithObjects(foreign, unlabeled).Build()
	engine := newTestEngine(fakeClient, scheme)

	ctx := context.Background()

	require.NoError(t, engine.Reconcile(ctx, policyScope(), nil))

	var list istiov1.AuthorizationPolicyList
	require.NoError(t, fakeClient.List(ctx, &list, client.InNamespace("mymodel")))
	assert.Len(t, list.Items, 2, "objects outside the scope must survive a teardown")
}

func TestReconcile_ScopesAreIsolated(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)
	fakeClient := fake.NewClientBuilder().WithScheme(scheme).Build()
	engine := newTestEngine(fakeClient, scheme)

	ctx := context.Background()

	require.NoError(t, engine.Reconcile(ctx, waypointScope(), []client.Object{
		testGateway("beacon-mymodel-waypoint"),
	}))
	require.NoError(t, engine.Reconcile(ctx, policyScope(), []client.Object{
		testPolicy("policy-a", "cluster.local/ns/mymodel/sa/app-a"),
	}))

	// Tearing down the policy scope leaves the waypoint alone.
	require.NoError(t, engine.Reconcile(ctx, policyScope(), nil))

	var gw gatewayv1.Gateway
	assert.NoError(t, fakeClient.Get(ctx, client.ObjectKey{Namespace: "mymodel", Name: "beacon-mymodel-waypoint"}, &gw))

	var list istiov1.AuthorizationPolicyList
	require.NoError(t, fakeClient.List(ctx, &list, client.InNamespace("mymodel")))
	assert.Empty(t, list.Items)
}

func TestReconcile_FirstErrorAborts(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)
	injected := assert.AnError
	created := 0
	fakeClient := fake.NewClientBuilder().
		WithScheme(scheme).
		WithInterceptorFuncs(interceptor.Funcs{
			Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
				created++
				if created > 1 {
					return injected
				}

				return c.Create(ctx, obj, opts...)
			},
		}).
		Build()
	engine := newTestEngine(fakeClient, scheme)

	err := engine.Reconcile(context.Background(), policyScope(), []client.Object{
		testPolicy("policy-a", "cluster.local/ns/mymodel/sa/app-a"),
		testPolicy("policy-b", "cluster.local/ns/mymodel/sa/app-b"),
		testPolicy("policy-c", "cluster.local/ns/mymodel/sa/app-c"),
	})

	require.Error(t, err)
	require.ErrorIs(t, err, injected)
	assert.Equal(t, 2, created, "remaining objects are skipped after the first error")
}

func TestReconcile_ListErrorIsReturned(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)
	injected := assert.AnError
	fakeClient := fake.NewClientBuilder().
		WithScheme(scheme).
		WithInterceptorFuncs(interceptor.Funcs{
			List: func(_ context.Context, _ client.WithWatch, _ client.ObjectList, _ ...client.ListOption) error {
				return injected
			},
		}).
		Build()
	engine := newTestEngine(fakeClient, scheme)

	err := engine.Reconcile(context.Background(), policyScope(), nil)
	require.ErrorIs(t, err, injected)
}

func TestReconcile_MixedKindsInOneScope(t *testing.T) {
	t.Parallel()

	scheme := newTestScheme(t)
	fakeClient := fake.NewClientBuilder().WithScheme(scheme).Build()
	engine := newTestEngine(fakeClient, scheme)

	scope := reconcile.Scope{
		Name: "mixed",
		Labels: map[string]string{
			"mesh.k8s.lex.la/scope":      "mixed",
			"mesh.k8s.lex.la/created-by": "beacon-mymodel",
		},
		Kinds: []client.ObjectList{
			&gatewayv1.GatewayList{},
			&istiov1.AuthorizationPolicyList{},
		},
	}

	ctx := context.Background()

	require.NoError(t, engine.Reconcile(ctx, scope, []client.Object{
		testGateway("gw"),
		testPolicy("pol", "cluster.local/ns/mymodel/sa/app-a"),
	}))

	require.NoError(t, engine.Reconcile(ctx, scope, nil))

	var gw gatewayv1.Gateway
	err := fakeClient.Get(ctx, client.ObjectKey{Namespace: "mymodel", Name: "gw"}, &gw)
	assert.True(t, apierrors.IsNotFound(err), "gateway should be deleted")

	var pol istiov1.AuthorizationPolicy
	err = fakeClient.Get(ctx, client.ObjectKey{Namespace: "mymodel", Name: "pol"}, &pol)
	assert.True(t, apierrors.IsNotFound(err), "policy should be deleted")
}
