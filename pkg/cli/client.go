// Package cli implements the client side of skctl: creating and deleting
// simulations and a terminal monitor for their progress.
package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/xid"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
)

// SimulationItem is one row of the simulation monitor.
type SimulationItem struct {
	Name            string
	DriverNamespace string
	Trace           string
	State           simkubev1.SimulationState
	CreatedAt       time.Time
	Deleting        bool
}

// Title returns the headline of the item.
func (i SimulationItem) Title() string {
	return fmt.Sprintf("%s [%s]", i.Name, i.displayState())
}

// Description returns the second line of the item.
func (i SimulationItem) Description() string {
	return fmt.Sprintf("trace %s, driver in %s", i.Trace, i.DriverNamespace)
}

func (i SimulationItem) displayState() string {
	switch {
	case i.Deleting:
		return "Deleting"
	case i.State == "":
		return "Pending"
	default:
		return string(i.State)
	}
}

// Client interacts with the Kubernetes API on behalf of skctl.
type Client struct {
	k8s client.Client
}

// NewClient creates a new CLI client.
func NewClient(k8s client.Client) *Client {
	return &Client{k8s: k8s}
}

// ListSimulations returns all simulations, newest first.
func (c *Client) ListSimulations(ctx context.Context) ([]SimulationItem, error) {
	var list simkubev1.SimulationList
	if err := c.k8s.List(ctx, &list); err != nil {
		return nil, fmt.Errorf("failed to list simulations: %w", err)
	}

	items := make([]SimulationItem, 0, len(list.Items))
	for _, sim := range list.Items {
		items = append(items, SimulationItem{
			Name:            sim.Name,
			DriverNamespace: sim.Spec.DriverNamespace,
			Trace:           sim.Spec.Trace,
			State:           sim.Status.State,
			CreatedAt:       sim.CreationTimestamp.Time,
			Deleting:        !sim.DeletionTimestamp.IsZero(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// GetSimulation returns the simulation called name.
func (c *Client) GetSimulation(ctx context.Context, name string) (*simkubev1.Simulation, error) {
	var sim simkubev1.Simulation
	if err := c.k8s.Get(ctx, client.ObjectKey{Name: name}, &sim); err != nil {
		return nil, fmt.Errorf("failed to get simulation %q: %w", name, err)
	}
	return &sim, nil
}

// GenerateName returns a unique simulation name starting with prefix.
// xids are lowercase base32, so the result is a valid object name.
func GenerateName(prefix string) string {
	return prefix + "-" + xid.New().String()
}

// CreateSimulation starts a new simulation replaying trace with its driver in driverNamespace.
func (c *Client) CreateSimulation(ctx context.Context, name, driverNamespace, trace string) (*simkubev1.Simulation, error) {
	if name == "" || driverNamespace == "" || trace == "" {
		return nil, fmt.Errorf("name, driver namespace and trace are required")
	}
	sim := &simkubev1.Simulation{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: simkubev1.SimulationSpec{
			DriverNamespace: driverNamespace,
			Trace:           trace,
		},
	}
	if err := c.k8s.Create(ctx, sim); err != nil {
		return nil, fmt.Errorf("failed to create simulation %q: %w", name, err)
	}
	return sim, nil
}

// DeleteSimulation deletes the simulation called name.
func (c *Client) DeleteSimulation(ctx context.Context, name string) error {
	sim := &simkubev1.Simulation{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if err := c.k8s.Delete(ctx, sim); err != nil {
		return fmt.Errorf("failed to delete simulation %q: %w", name, err)
	}
	return nil
}
