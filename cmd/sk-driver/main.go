// Command sk-driver replays a trace for one simulation and mutates the pods it creates.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/admission"
	"github.com/simkube-io/simkube/pkg/controller"
	"github.com/simkube-io/simkube/pkg/driver"
	"github.com/simkube-io/simkube/pkg/logging"
	"github.com/simkube-io/simkube/pkg/metrics"
	"github.com/simkube-io/simkube/pkg/owners"
	"github.com/simkube-io/simkube/pkg/tracestore"
	"github.com/simkube-io/simkube/pkg/webhook"
)

var (
	scheme = runtime.NewScheme()
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(simkubev1.AddToScheme(scheme))
}

const serverStartTimeout = 30 * time.Second

type options struct {
	simName                string
	rootName               string
	tracePath              string
	virtualNSPrefix        string
	host                   string
	port                   int
	certDir                string
	healthProbeBindAddress string
	ownerCacheSize         int
	ownerCacheTTL          time.Duration
	failClosed             bool
	linger                 time.Duration
	teardownTimeout        time.Duration
	logLevel               string
	logFormat              string
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "sk-driver",
		Short:        "Replays a trace for a SimKube simulation",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.simName == "" || opts.tracePath == "" {
				return fmt.Errorf("--sim-name and --trace-path are required")
			}
			if opts.rootName == "" {
				opts.rootName = controller.RootName(opts.simName)
			}
			return run(cmd.Context(), opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.simName, "sim-name", "", "Name of the Simulation being driven")
	fs.StringVar(&opts.rootName, "root-name", "", "Name of the SimulationRoot (default sk-<sim-name>-root)")
	fs.StringVar(&opts.tracePath, "trace-path", "", "Location of the trace file (file:// URI or path)")
	fs.StringVar(&opts.virtualNSPrefix, "virtual-ns-prefix", simkubev1.DefaultVirtualNSPrefix, "Prefix of the namespaces simulated objects are created in")
	fs.StringVar(&opts.host, "host", "", "The address to bind to (default: all interfaces)")
	fs.IntVar(&opts.port, "port", simkubev1.DefaultDriverAdmissionPort, "The port to listen on for admission requests")
	fs.StringVar(&opts.certDir, "cert-dir", "/etc/simkube/certs", "The directory containing tls.crt and tls.key")
	fs.StringVar(&opts.healthProbeBindAddress, "health-probe-bind-address", ":8081", "The address for health probes and metrics")
	fs.IntVar(&opts.ownerCacheSize, "owner-cache-size", owners.DefaultSize, "Maximum number of entries in the owner cache")
	fs.DurationVar(&opts.ownerCacheTTL, "owner-cache-ttl", owners.DefaultTTL, "Lifetime of an owner cache entry")
	fs.BoolVar(&opts.failClosed, "fail-closed", false, "Deny pods whose owner chain cannot be resolved")
	fs.DurationVar(&opts.linger, "linger", 0, "How long to keep the final state of the trace before tearing it down")
	fs.DurationVar(&opts.teardownTimeout, "teardown-timeout", driver.DefaultTeardownTimeout, "How long to wait for the virtual namespaces to be deleted")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", logging.FormatJSON, "Log format (json, console)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	log, err := logging.New(os.Stderr, opts.logFormat, opts.logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	ctrl.SetLogger(log)

	log.Info("starting sk-driver",
		"simulation", opts.simName,
		"root", opts.rootName,
		"trace", opts.tracePath,
		"port", opts.port,
		"failClosed", opts.failClosed,
	)

	store, err := tracestore.Load(opts.tracePath)
	if err != nil {
		return fmt.Errorf("failed to load trace: %w", err)
	}

	config, err := rest.InClusterConfig()
	if err != nil {
		log.Error(err, "unable to get in-cluster config, trying kubeconfig")
		config, err = ctrl.GetConfig()
		if err != nil {
			return fmt.Errorf("unable to get kubeconfig: %w", err)
		}
	}
	k8sClient, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("unable to create Kubernetes client: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollectors()
	if err := m.Register(registry); err != nil {
		return fmt.Errorf("unable to register metrics: %w", err)
	}

	dctx := &driver.DriverContext{
		Name:            opts.simName,
		RootName:        opts.rootName,
		VirtualNSPrefix: opts.virtualNSPrefix,
		Owners: owners.NewCache(owners.Config{
			Client:  k8sClient,
			Log:     log,
			Size:    opts.ownerCacheSize,
			TTL:     opts.ownerCacheTTL,
			Metrics: m,
		}),
		Store:      store,
		FailClosed: opts.failClosed,
	}

	server := webhook.NewServer(webhook.Config{
		Handler: admission.NewHandler(admission.Config{
			Mutator: dctx.NewEngine(m, log),
			Metrics: m,
			Log:     log,
		}),
		Log:                    log,
		Host:                   opts.host,
		Port:                   opts.port,
		CertDir:                opts.certDir,
		HealthProbeBindAddress: opts.healthProbeBindAddress,
		Gatherer:               registry,
	})
	server.Register()

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(serverCtx)
	}()

	startCtx, cancelStart := context.WithTimeout(ctx, serverStartTimeout)
	defer cancelStart()
	if err := server.WaitStarted(startCtx); err != nil {
		select {
		case serveErr := <-serverErr:
			return fmt.Errorf("webhook server failed: %w", serveErr)
		default:
		}
		return fmt.Errorf("webhook server did not start: %w", err)
	}

	runner := driver.NewRunner(driver.RunnerConfig{
		Client:          k8sClient,
		Context:         dctx,
		Events:          store,
		Linger:          opts.linger,
		TeardownTimeout: opts.teardownTimeout,
		Metrics:         m,
		Log:             log,
	})

	runErr := make(chan error, 1)
	go func() {
		runErr <- runner.Run(ctx)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("webhook server failed: %w", err)
		}
		return nil
	case err := <-runErr:
		stopServer()
		shutdownErr := server.Shutdown(context.Background())
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}
		if shutdownErr != nil {
			log.Error(shutdownErr, "failed to shut down")
		}
		log.Info("simulation complete")
		return nil
	}
}
