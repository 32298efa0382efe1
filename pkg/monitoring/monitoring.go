// Package monitoring builds the prometheus-operator objects backing a simulation's metrics.
// The prometheus-operator types are handled as unstructured objects.
package monitoring

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/intstr"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
)

var (
	PrometheusGVK     = schema.GroupVersionKind{Group: "monitoring.coreos.com", Version: "v1", Kind: "Prometheus"}
	ServiceMonitorGVK = schema.GroupVersionKind{Group: "monitoring.coreos.com", Version: "v1", Kind: "ServiceMonitor"}
)

const (
	// PrometheusPort is the web port of every Prometheus instance.
	PrometheusPort = 9090

	scrapeInterval = "1s"

	kubeStateMetricsName = "kube-state-metrics"
	kubeStateMetricsPort = "https-main"
)

// NewPrometheus returns an empty Prometheus, suitable as a Get target.
func NewPrometheus() *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(PrometheusGVK)
	return obj
}

// NewServiceMonitor returns an empty ServiceMonitor, suitable as a Get target.
func NewServiceMonitor() *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(ServiceMonitorGVK)
	return obj
}

// Labels returns the labels put on every monitoring object of a simulation.
func Labels(simName, component string) map[string]string {
	return map[string]string{
		simkubev1.SimulationLabel:   simName,
		simkubev1.AppNameLabel:      "simkube",
		simkubev1.AppComponentLabel: component,
	}
}

// BuildPrometheus returns a Prometheus that scrapes the ServiceMonitors of simName.
func BuildPrometheus(name, namespace, simName, serviceAccount string) *unstructured.Unstructured {
	obj := NewPrometheus()
	obj.SetName(name)
	obj.SetNamespace(namespace)
	obj.SetLabels(Labels(simName, "prometheus"))
	obj.Object["spec"] = map[string]interface{}{
		"serviceAccountName": serviceAccount,
		"replicas":           int64(1),
		"scrapeInterval":     scrapeInterval,
		"evaluationInterval": scrapeInterval,
		"serviceMonitorSelector": map[string]interface{}{
			"matchLabels": map[string]interface{}{
				simkubev1.SimulationLabel: simName,
			},
		},
		"serviceMonitorNamespaceSelector": map[string]interface{}{},
		"podMetadata": map[string]interface{}{
			"labels": map[string]interface{}{
				simkubev1.SimulationLabel: simName,
			},
		},
	}
	return obj
}

// BuildKubeStateMetricsServiceMonitor returns a ServiceMonitor scraping the shared
// kube-state-metrics at the simulation's scrape interval.
func BuildKubeStateMetricsServiceMonitor(name, namespace, simName string) *unstructured.Unstructured {
	obj := NewServiceMonitor()
	obj.SetName(name)
	obj.SetNamespace(namespace)
	obj.SetLabels(Labels(simName, "kube-state-metrics"))
	obj.Object["spec"] = map[string]interface{}{
		"jobLabel": simkubev1.AppNameLabel,
		"selector": map[string]interface{}{
			"matchLabels": map[string]interface{}{
				simkubev1.AppNameLabel: kubeStateMetricsName,
			},
		},
		"namespaceSelector": map[string]interface{}{
			"matchNames": []interface{}{namespace},
		},
		"endpoints": []interface{}{
			map[string]interface{}{
				"port":            kubeStateMetricsPort,
				"scheme":          "https",
				"interval":        scrapeInterval,
				"scrapeTimeout":   scrapeInterval,
				"honorLabels":     true,
				"bearerTokenFile": "/var/run/secrets/kubernetes.io/serviceaccount/token",
				"tlsConfig": map[string]interface{}{
					"insecureSkipVerify": true,
				},
			},
		},
	}
	return obj
}

// BuildPrometheusService exposes the Prometheus named promName.
func BuildPrometheusService(name, namespace, simName, promName string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    Labels(simName, "prometheus"),
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"prometheus": promName},
			Ports: []corev1.ServicePort{{
				Name:       "web",
				Port:       PrometheusPort,
				TargetPort: intstr.FromString("web"),
			}},
		},
	}
}

// AvailableReplicas returns status.availableReplicas of a Prometheus, or 0 if unset.
func AvailableReplicas(prom *unstructured.Unstructured) int64 {
	n, found, err := unstructured.NestedInt64(prom.Object, "status", "availableReplicas")
	if err != nil || !found {
		return 0
	}
	return n
}

// IsReady reports whether at least one Prometheus replica is available.
func IsReady(prom *unstructured.Unstructured) bool {
	return AvailableReplicas(prom) >= 1
}
