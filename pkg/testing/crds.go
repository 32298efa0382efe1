// Package testing provides helpers for integration tests against a real API server.
package testing

import (
	"strings"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
)

// CRDs returns the custom resource definitions the controller and driver work with:
// simkube's own types and the prometheus-operator types the controller creates.
// Schemas preserve unknown fields.
func CRDs() []*apiextensionsv1.CustomResourceDefinition {
	return []*apiextensionsv1.CustomResourceDefinition{
		crd(simkubev1.GroupName, "v1", "Simulation", "simulations", apiextensionsv1.ClusterScoped, true),
		crd(simkubev1.GroupName, "v1", "SimulationRoot", "simulationroots", apiextensionsv1.ClusterScoped, false),
		crd("monitoring.coreos.com", "v1", "Prometheus", "prometheuses", apiextensionsv1.NamespaceScoped, true),
		crd("monitoring.coreos.com", "v1", "ServiceMonitor", "servicemonitors", apiextensionsv1.NamespaceScoped, false),
	}
}

func crd(group, version, kind, plural string, scope apiextensionsv1.ResourceScope, status bool) *apiextensionsv1.CustomResourceDefinition {
	v := apiextensionsv1.CustomResourceDefinitionVersion{
		Name:    version,
		Served:  true,
		Storage: true,
		Schema: &apiextensionsv1.CustomResourceValidation{
			OpenAPIV3Schema: &apiextensionsv1.JSONSchemaProps{
				Type:                   "object",
				XPreserveUnknownFields: ptr.To(true),
			},
		},
	}
	if status {
		v.Subresources = &apiextensionsv1.CustomResourceSubresources{
			Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
		}
	}

	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: plural + "." + group},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: group,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Kind:     kind,
				ListKind: kind + "List",
				Plural:   plural,
				Singular: strings.ToLower(kind),
			},
			Scope:    scope,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{v},
		},
	}
}
