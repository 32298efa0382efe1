// Command sk-ctrl runs the simulation controller.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/config"
	"github.com/simkube-io/simkube/pkg/controller"
	"github.com/simkube-io/simkube/pkg/logging"
	"github.com/simkube-io/simkube/pkg/metrics"
)

var (
	scheme = runtime.NewScheme()
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(simkubev1.AddToScheme(scheme))
}

func main() {
	cmd := &cobra.Command{
		Use:          "sk-ctrl",
		Short:        "Runs the SimKube simulation controller",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	config.BindFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	ctrl.SetLogger(log)

	log.Info("starting sk-ctrl",
		"driverImage", cfg.Driver.Image,
		"driverPort", cfg.Driver.Port,
		"metricsNamespace", cfg.Metrics.Namespace,
		"requeueDelay", cfg.RequeueDelay,
	)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.Manager.MetricsBindAddress},
		HealthProbeBindAddress: cfg.Manager.HealthProbeBindAddress,
		LeaderElection:         cfg.Manager.LeaderElection,
		LeaderElectionID:       "sk-ctrl.simkube.io",
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	collectors := metrics.NewCollectors()
	if err := collectors.Register(crmetrics.Registry); err != nil {
		return fmt.Errorf("unable to register metrics: %w", err)
	}

	if err := (&controller.SimulationReconciler{
		Client:  mgr.GetClient(),
		Log:     log.WithName("simulation"),
		Scheme:  mgr.GetScheme(),
		Config:  cfg,
		Metrics: collectors,
	}).SetupWithManager(mgr); err != nil {
		return fmt.Errorf("unable to create controller: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	log.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		return fmt.Errorf("problem running manager: %w", err)
	}
	return nil
}
