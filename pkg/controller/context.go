// Package controller implements the Simulation reconciler of sk-ctrl.
package controller

import (
	"fmt"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
)

// SimulationContext holds the names of everything a Simulation owns.
// It is derived from the Simulation alone, so re-deriving it always yields the same names.
type SimulationContext struct {
	Name             string
	DriverNamespace  string
	MetricsNamespace string

	RootName              string
	DriverName            string
	DriverServiceName     string
	DriverCertName        string
	WebhookName           string
	PrometheusName        string
	PrometheusServiceName string
	ServiceMonitorName    string
}

// NewSimulationContext derives the context of sim. metricsNamespace hosts the shared monitoring stack.
func NewSimulationContext(sim *simkubev1.Simulation, metricsNamespace string) *SimulationContext {
	name := sim.Name
	return &SimulationContext{
		Name:             name,
		DriverNamespace:  sim.Spec.DriverNamespace,
		MetricsNamespace: metricsNamespace,

		RootName:              RootName(name),
		DriverName:            prefixed(name, "driver"),
		DriverServiceName:     prefixed(name, "driver-svc"),
		DriverCertName:        prefixed(name, "driver-cert"),
		WebhookName:           prefixed(name, "mutatepods"),
		PrometheusName:        prefixed(name, "prom"),
		PrometheusServiceName: prefixed(name, "prom-svc"),
		ServiceMonitorName:    prefixed(name, "ksm"),
	}
}

// RootName returns the name of the SimulationRoot of the Simulation simName.
func RootName(simName string) string {
	return prefixed(simName, "root")
}

func prefixed(simName, suffix string) string {
	return fmt.Sprintf("sk-%s-%s", simName, suffix)
}
