//go:build envtest
// +build envtest

package admission_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
)

var testCounter int

func ensureRoot(t *testing.T, ctx context.Context) *simkubev1.SimulationRoot {
	t.Helper()
	root := &simkubev1.SimulationRoot{ObjectMeta: metav1.ObjectMeta{Name: testRootName}}
	if err := k8sClient.Create(ctx, root); err != nil && !apierrors.IsAlreadyExists(err) {
		t.Fatalf("failed to create simulation root: %v", err)
	}
	require.NoError(t, k8sClient.Get(ctx, client.ObjectKeyFromObject(root), root))
	return root
}

func ownerRef(apiVersion, kind string, obj client.Object) metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion: apiVersion,
		Kind:       kind,
		Name:       obj.GetName(),
		UID:        obj.GetUID(),
		Controller: ptr.To(true),
	}
}

// createReplicaSetChain creates deployment name owned by owner and a ReplicaSet owned by the deployment.
func createReplicaSetChain(t *testing.T, ctx context.Context, name string, owner *metav1.OwnerReference) *appsv1.ReplicaSet {
	t.Helper()
	labels := map[string]string{"app": name}
	template := corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: labels},
		Spec:       testPodSpec(),
	}

	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNS},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To[int32](0),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: template,
		},
	}
	if owner != nil {
		deploy.OwnerReferences = []metav1.OwnerReference{*owner}
	}
	require.NoError(t, k8sClient.Create(ctx, deploy))

	rs := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:            name + "-5d8f7c",
			Namespace:       testNS,
			OwnerReferences: []metav1.OwnerReference{ownerRef("apps/v1", "Deployment", deploy)},
		},
		Spec: appsv1.ReplicaSetSpec{
			Replicas: ptr.To[int32](0),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: template,
		},
	}
	require.NoError(t, k8sClient.Create(ctx, rs))
	return rs
}

func createPod(t *testing.T, ctx context.Context, owner *appsv1.ReplicaSet) *corev1.Pod {
	t.Helper()
	testCounter++
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("pod-%d", testCounter),
			Namespace: testNS,
		},
		Spec: testPodSpec(),
	}
	if owner != nil {
		pod.OwnerReferences = []metav1.OwnerReference{ownerRef("apps/v1", "ReplicaSet", owner)}
	}
	require.NoError(t, k8sClient.Create(ctx, pod))
	require.NoError(t, k8sClient.Get(ctx, client.ObjectKeyFromObject(pod), pod))
	return pod
}

func hasVirtualToleration(pod *corev1.Pod) bool {
	for _, tol := range pod.Spec.Tolerations {
		if tol.Key == simkubev1.VirtualNodeTolerationKey &&
			tol.Operator == corev1.TolerationOpExists &&
			tol.Effect == corev1.TaintEffectNoSchedule {
			return true
		}
	}
	return false
}

func TestWebhook_MutatesSimulatedPods(t *testing.T) {
	ctx := context.Background()
	root := ensureRoot(t, ctx)
	rootRef := ownerRef(simkubev1.GroupVersion.String(), "SimulationRoot", root)
	rs := createReplicaSetChain(t, ctx, "web", &rootRef)

	first := createPod(t, ctx, rs)
	assert.Equal(t, "true", first.Labels[simkubev1.VirtualLabel])
	assert.Equal(t, testSimName, first.Labels[simkubev1.SimulationLabel])
	assert.True(t, hasVirtualToleration(first), "tolerations: %v", first.Spec.Tolerations)
	assert.Equal(t, "60", first.Annotations[simkubev1.LifetimeAnnotation])

	// the second replica never terminated in the trace
	second := createPod(t, ctx, rs)
	assert.Equal(t, "true", second.Labels[simkubev1.VirtualLabel])
	assert.NotContains(t, second.Annotations, simkubev1.LifetimeAnnotation)
}

func TestWebhook_IgnoresPodsOutsideSimulation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		owner func(t *testing.T) *appsv1.ReplicaSet
	}{
		{
			name:  "no owner",
			owner: func(*testing.T) *appsv1.ReplicaSet { return nil },
		},
		{
			name: "owner chain without root",
			owner: func(t *testing.T) *appsv1.ReplicaSet {
				return createReplicaSetChain(t, ctx, "unrelated", nil)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pod := createPod(t, ctx, tt.owner(t))
			assert.NotContains(t, pod.Labels, simkubev1.VirtualLabel)
			assert.False(t, hasVirtualToleration(pod))
			assert.NotContains(t, pod.Annotations, simkubev1.LifetimeAnnotation)
		})
	}
}
