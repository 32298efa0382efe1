// Package driver contains the pieces of sk-driver: the shared context of the
// simulation it drives and the runner that replays the trace into the cluster.
package driver

import (
	"strings"

	"github.com/go-logr/logr"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/metrics"
	"github.com/simkube-io/simkube/pkg/mutation"
	"github.com/simkube-io/simkube/pkg/owners"
	"github.com/simkube-io/simkube/pkg/tracestore"
)

// DriverContext is shared by the admission path and the replay runner for the
// lifetime of the driver process.
type DriverContext struct {
	// Name is the name of the Simulation.
	Name string
	// RootName is the name of its SimulationRoot.
	RootName        string
	VirtualNSPrefix string
	Owners          *owners.Cache
	Store           tracestore.Store
	// FailClosed denies pods whose owners cannot be resolved.
	FailClosed bool
}

// NewEngine builds the pod mutation engine for this simulation.
func (d *DriverContext) NewEngine(m *metrics.Collectors, log logr.Logger) *mutation.Engine {
	return mutation.NewEngine(mutation.Config{
		SimName:           d.Name,
		RootName:          d.RootName,
		OriginalNamespace: d.OriginalNamespace,
		Owners:            d.Owners,
		Store:             d.Store,
		FailClosed:        d.FailClosed,
		Metrics:           m,
		Log:               log,
	})
}

// VirtualNamespace maps a namespace of the trace to the namespace it is replayed in.
func (d *DriverContext) VirtualNamespace(origNamespace string) string {
	return d.prefix() + "-" + origNamespace
}

// OriginalNamespace inverts VirtualNamespace. ok is false for namespaces outside the simulation.
func (d *DriverContext) OriginalNamespace(virtualNamespace string) (string, bool) {
	return strings.CutPrefix(virtualNamespace, d.prefix()+"-")
}

func (d *DriverContext) prefix() string {
	if d.VirtualNSPrefix == "" {
		return simkubev1.DefaultVirtualNSPrefix
	}
	return d.VirtualNSPrefix
}
