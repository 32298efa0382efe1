// Package v1 contains the simkube.io/v1 API types.
// +kubebuilder:object:generate=true
// +groupName=simkube.io
package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// GroupName is the API group of the simkube types.
const GroupName = "simkube.io"

// GroupVersion is the group version used to register these objects.
var GroupVersion = schema.GroupVersion{Group: GroupName, Version: "v1"}

// SchemeGroupVersion is an alias for GroupVersion (used by code generators).
var SchemeGroupVersion = GroupVersion

// Resource returns a GroupResource for the given resource.
func Resource(resource string) schema.GroupResource {
	return GroupVersion.WithResource(resource).GroupResource()
}

var (
	// SchemeBuilder is used to add go types to the GroupVersionKind scheme.
	SchemeBuilder = runtime.NewSchemeBuilder(addKnownTypes)

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme
)

func addKnownTypes(scheme *runtime.Scheme) error {
	scheme.AddKnownTypes(GroupVersion,
		&Simulation{},
		&SimulationList{},
		&SimulationRoot{},
		&SimulationRootList{},
	)
	metav1.AddToGroupVersion(scheme, GroupVersion)
	return nil
}
