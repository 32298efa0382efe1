// Command skctl manages SimKube simulations.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/cli"
)

var (
	scheme = runtime.NewScheme()
)

func init() {
	utilruntime.Must(simkubev1.AddToScheme(scheme))
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "skctl",
		Short:        "Manage SimKube simulations",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCommand(), newDeleteCommand(), newWatchCommand())
	return root
}

func newClient() (*cli.Client, error) {
	config, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("unable to get kubeconfig: %w", err)
	}
	k8sClient, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("unable to create Kubernetes client: %w", err)
	}
	return cli.NewClient(k8sClient), nil
}

func newRunCommand() *cobra.Command {
	var (
		driverNamespace string
		trace           string
	)
	cmd := &cobra.Command{
		Use:   "run [NAME]",
		Short: "Start a simulation, generating a name unless one is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			name := cli.GenerateName("sim")
			if len(args) == 1 {
				name = args[0]
			}
			sim, err := c.CreateSimulation(cmd.Context(), name, driverNamespace, trace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "simulation %q created\n", sim.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&driverNamespace, "driver-namespace", "simkube", "Namespace the simulation driver runs in")
	cmd.Flags().StringVar(&trace, "trace", "", "Location of the trace to replay (file:// URI)")
	_ = cmd.MarkFlagRequired("trace")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a simulation and everything it created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.DeleteSimulation(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "simulation %q deleted\n", args[0])
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch simulations in an interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			p := tea.NewProgram(cli.NewModel(c, interval), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", cli.DefaultRefreshInterval, "Refresh interval")
	return cmd
}
