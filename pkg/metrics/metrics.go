// Package metrics defines the Prometheus collectors exported by sk-ctrl and sk-driver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simkube"

// Collectors groups every metric simkube records. A nil *Collectors is valid and records nothing.
type Collectors struct {
	Reconciles       *prometheus.CounterVec
	SimulationStates *prometheus.CounterVec
	Admissions       *prometheus.CounterVec
	Lifecycles       *prometheus.CounterVec
	OwnerCache       *prometheus.CounterVec
	ReplayedObjects  *prometheus.CounterVec
}

func NewCollectors() *Collectors {
	reconciles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Counter of Simulation reconciles by result.",
		},
		[]string{"result"},
	)

	states := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_state_transitions_total",
			Help:      "Counter of Simulation state transitions by target state.",
		},
		[]string{"state"},
	)

	admissions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_reviews_total",
			Help:      "Counter of pod admission reviews by outcome.",
		},
		[]string{"outcome"},
	)
	for _, o := range []string{OutcomeMutated, OutcomeSkipped, OutcomeDenied} {
		admissions.With(prometheus.Labels{"outcome": o}).Add(0)
	}

	lifecycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pod_lifecycle_lookups_total",
			Help:      "Counter of trace pod lifecycle lookups by resulting state.",
		},
		[]string{"state"},
	)

	ownerCache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "owner_cache_lookups_total",
			Help:      "Counter of owner-resolution cache lookups by result.",
		},
		[]string{"result"},
	)

	replayed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_objects_total",
			Help:      "Counter of trace objects replayed by the driver by action.",
		},
		[]string{"action"},
	)

	return &Collectors{
		Reconciles:       reconciles,
		SimulationStates: states,
		Admissions:       admissions,
		Lifecycles:       lifecycles,
		OwnerCache:       ownerCache,
		ReplayedObjects:  replayed,
	}
}

// Register adds all collectors to r.
func (c *Collectors) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{
		c.Reconciles, c.SimulationStates, c.Admissions, c.Lifecycles, c.OwnerCache, c.ReplayedObjects,
	} {
		if err := r.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Admission outcomes.
const (
	OutcomeMutated = "mutated"
	OutcomeSkipped = "skipped"
	OutcomeDenied  = "denied"
)

// Owner cache lookup results.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheNotFound = "not_found"
)

func (c *Collectors) RecordReconcile(result string) {
	if c == nil {
		return
	}
	c.Reconciles.With(prometheus.Labels{"result": result}).Inc()
}

func (c *Collectors) RecordStateTransition(state string) {
	if c == nil {
		return
	}
	c.SimulationStates.With(prometheus.Labels{"state": state}).Inc()
}

func (c *Collectors) RecordAdmission(outcome string) {
	if c == nil {
		return
	}
	c.Admissions.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (c *Collectors) RecordLifecycle(state string) {
	if c == nil {
		return
	}
	c.Lifecycles.With(prometheus.Labels{"state": state}).Inc()
}

func (c *Collectors) RecordOwnerLookup(result string) {
	if c == nil {
		return
	}
	c.OwnerCache.With(prometheus.Labels{"result": result}).Inc()
}

func (c *Collectors) RecordReplay(action string) {
	if c == nil {
		return
	}
	c.ReplayedObjects.With(prometheus.Labels{"action": action}).Inc()
}
