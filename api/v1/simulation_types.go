package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SimulationState is the lifecycle state of a Simulation as derived from its driver Job.
type SimulationState string

const (
	SimulationInitializing SimulationState = "Initializing"
	SimulationRunning      SimulationState = "Running"
	SimulationFinished     SimulationState = "Finished"
	SimulationFailed       SimulationState = "Failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s SimulationState) IsTerminal() bool {
	return s == SimulationFinished || s == SimulationFailed
}

// +genclient
// +genclient:nonNamespaced
// +kubebuilder:object:root=true
// +kubebuilder:resource:scope=Cluster
// +kubebuilder:subresource:status
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// Simulation describes one replay of a recorded trace onto virtual infrastructure.
type Simulation struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   SimulationSpec   `json:"spec,omitempty"`
	Status SimulationStatus `json:"status,omitempty"`
}

// SimulationSpec defines the desired state of a Simulation.
type SimulationSpec struct {
	// DriverNamespace is the namespace the driver Job and its Service run in.
	DriverNamespace string `json:"driverNamespace"`

	// Trace is the location of the recorded trace, e.g. file:///data/trace.yml.
	Trace string `json:"trace"`
}

// SimulationStatus defines the observed state of a Simulation.
type SimulationStatus struct {
	// State is derived from the driver Job conditions on every reconcile.
	State SimulationState `json:"state,omitempty"`
}

// +kubebuilder:object:root=true
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// SimulationList contains a list of Simulations.
type SimulationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Simulation `json:"items"`
}

// +genclient
// +genclient:nonNamespaced
// +kubebuilder:object:root=true
// +kubebuilder:resource:scope=Cluster
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// SimulationRoot is the ownership anchor of everything a Simulation creates.
// It carries no spec; deleting it garbage-collects the simulated workload.
type SimulationRoot struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
}

// +kubebuilder:object:root=true
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// SimulationRootList contains a list of SimulationRoots.
type SimulationRootList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []SimulationRoot `json:"items"`
}
