//go:build e2e

package simulation

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/rand"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/controller"
)

func TestSimulation_EndToEnd(t *testing.T) {
	ctx := context.Background()
	name := fmt.Sprintf("e2e-%s", rand.String(6))
	driverNS := "sk-" + name

	sim, err := skClient.CreateSimulation(ctx, name, driverNS, tracePath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = skClient.DeleteSimulation(context.Background(), name)
	})
	simCtx := controller.NewSimulationContext(sim, simkubev1.DefaultMetricsNamespace)

	t.Log("waiting for the driver job")
	require.Eventually(t, func() bool {
		_, err := clientset.BatchV1().Jobs(driverNS).Get(ctx, simCtx.DriverName, metav1.GetOptions{})
		return err == nil
	}, defaultTimeout, defaultInterval, "driver job %s/%s never appeared", driverNS, simCtx.DriverName)

	webhook, err := clientset.AdmissionregistrationV1().MutatingWebhookConfigurations().Get(ctx, simCtx.WebhookName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, name, webhook.Webhooks[0].NamespaceSelector.MatchLabels[simkubev1.SimulationLabel])

	t.Log("waiting for a replayed pod")
	var replayed *corev1.Pod
	require.Eventually(t, func() bool {
		replayed = findReplayedPod(ctx, t, name, driverNS)
		return replayed != nil
	}, replayTimeout, defaultInterval, "no pod was replayed into a virtual namespace")
	assert.Equal(t, "true", replayed.Labels[simkubev1.VirtualLabel], "pod %s/%s was not mutated", replayed.Namespace, replayed.Name)
	assert.True(t, slices.ContainsFunc(replayed.Spec.Tolerations, func(tol corev1.Toleration) bool {
		return tol.Key == simkubev1.VirtualNodeTolerationKey
	}), "pod %s/%s does not tolerate virtual nodes", replayed.Namespace, replayed.Name)

	t.Log("waiting for the replay to finish")
	var state simkubev1.SimulationState
	require.Eventually(t, func() bool {
		got, err := skClient.GetSimulation(ctx, name)
		if err != nil {
			return false
		}
		state = got.Status.State
		return state.IsTerminal()
	}, replayTimeout, defaultInterval, "simulation never finished")
	assert.Equal(t, simkubev1.SimulationFinished, state)

	namespaces, err := clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: simkubev1.SimulationLabel + "=" + name,
	})
	require.NoError(t, err)
	t.Logf("simulation created %d namespace(s)", len(namespaces.Items))

	t.Log("deleting the simulation")
	require.NoError(t, skClient.DeleteSimulation(ctx, name))
	require.Eventually(t, func() bool {
		_, err := skClient.GetSimulation(ctx, name)
		return apierrors.IsNotFound(err)
	}, defaultTimeout, defaultInterval)

	require.Eventually(t, func() bool {
		_, err := clientset.AdmissionregistrationV1().MutatingWebhookConfigurations().Get(ctx, simCtx.WebhookName, metav1.GetOptions{})
		return apierrors.IsNotFound(err)
	}, defaultTimeout, defaultInterval, "webhook configuration was not garbage collected")
}

// findReplayedPod returns a pod from one of the simulation's virtual namespaces, or nil.
// The driver namespace carries the simulation label as well and is skipped.
func findReplayedPod(ctx context.Context, t *testing.T, simName, driverNS string) *corev1.Pod {
	namespaces, err := clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: simkubev1.SimulationLabel + "=" + simName,
	})
	if err != nil {
		t.Logf("failed to list virtual namespaces: %v", err)
		return nil
	}
	for _, ns := range namespaces.Items {
		if ns.Name == driverNS {
			continue
		}
		pods, err := clientset.CoreV1().Pods(ns.Name).List(ctx, metav1.ListOptions{})
		if err != nil {
			t.Logf("failed to list pods in %s: %v", ns.Name, err)
			continue
		}
		if len(pods.Items) > 0 {
			return &pods.Items[0]
		}
	}
	return nil
}
