package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestBuildPrometheus(t *testing.T) {
	prom := BuildPrometheus("sk-test-prom", "monitoring", "test", "prometheus-k8s")

	assert.Equal(t, PrometheusGVK, prom.GroupVersionKind())
	assert.Equal(t, "sk-test-prom", prom.GetName())
	assert.Equal(t, "monitoring", prom.GetNamespace())
	assert.Equal(t, "test", prom.GetLabels()["simkube.io/simulation"])

	sa, _, err := unstructured.NestedString(prom.Object, "spec", "serviceAccountName")
	require.NoError(t, err)
	assert.Equal(t, "prometheus-k8s", sa)

	selector, _, err := unstructured.NestedStringMap(prom.Object, "spec", "serviceMonitorSelector", "matchLabels")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"simkube.io/simulation": "test"}, selector)
}

func TestBuildKubeStateMetricsServiceMonitor(t *testing.T) {
	sm := BuildKubeStateMetricsServiceMonitor("sk-test-ksm", "monitoring", "test")

	assert.Equal(t, ServiceMonitorGVK, sm.GroupVersionKind())
	assert.Equal(t, "test", sm.GetLabels()["simkube.io/simulation"])

	endpoints, found, err := unstructured.NestedSlice(sm.Object, "spec", "endpoints")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "https-main", endpoints[0].(map[string]interface{})["port"])
}

func TestBuildPrometheusService(t *testing.T) {
	svc := BuildPrometheusService("sk-test-prom-svc", "monitoring", "test", "sk-test-prom")

	assert.Equal(t, "sk-test-prom", svc.Spec.Selector["prometheus"])
	require.Len(t, svc.Spec.Ports, 1)
	assert.Equal(t, int32(PrometheusPort), svc.Spec.Ports[0].Port)
}

func TestIsReady(t *testing.T) {
	tests := []struct {
		name   string
		status map[string]interface{}
		want   bool
	}{
		{name: "no status", status: nil, want: false},
		{name: "zero available", status: map[string]interface{}{"availableReplicas": int64(0)}, want: false},
		{name: "one available", status: map[string]interface{}{"availableReplicas": int64(1)}, want: true},
		{name: "wrong type", status: map[string]interface{}{"availableReplicas": "1"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prom := BuildPrometheus("p", "monitoring", "test", "sa")
			if tt.status != nil {
				prom.Object["status"] = tt.status
			}
			assert.Equal(t, tt.want, IsReady(prom))
		})
	}
}
