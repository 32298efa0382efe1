//go:build envtest
// +build envtest

package controller_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr/funcr"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/envtest"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/config"
	"github.com/simkube-io/simkube/pkg/controller"
	"github.com/simkube-io/simkube/pkg/metrics"
	sktesting "github.com/simkube-io/simkube/pkg/testing"
)

// Shared test environment
var (
	cfg       *rest.Config
	k8sClient client.Client
	testEnv   *envtest.Environment
	scheme    = runtime.NewScheme()
	simConfig *config.Config
)

func TestMain(m *testing.M) {
	log := funcr.New(func(prefix, args string) {
		fmt.Fprintln(os.Stderr, prefix, args)
	}, funcr.Options{})
	ctrl.SetLogger(log)

	testEnv = &envtest.Environment{CRDs: sktesting.CRDs()}

	var err error
	cfg, err = testEnv.Start()
	if err != nil {
		panic(fmt.Sprintf("failed to start envtest: %v", err))
	}

	_ = clientgoscheme.AddToScheme(scheme)
	_ = simkubev1.AddToScheme(scheme)

	k8sClient, err = client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		panic(fmt.Sprintf("failed to create client: %v", err))
	}

	simConfig = config.Default()
	simConfig.Driver.Image = "quay.io/simkube/sk-driver:envtest"
	simConfig.RequeueDelay = 200 * time.Millisecond

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: simConfig.Metrics.Namespace}}
	if err := k8sClient.Create(context.Background(), ns); err != nil {
		panic(fmt.Sprintf("failed to create metrics namespace: %v", err))
	}

	mgr, err := ctrl.NewManager(cfg, ctrl.Options{
		Scheme:  scheme,
		Metrics: metricsserver.Options{BindAddress: "0"},
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create manager: %v", err))
	}
	if err := (&controller.SimulationReconciler{
		Client:  mgr.GetClient(),
		Log:     log.WithName("simulation"),
		Scheme:  mgr.GetScheme(),
		Config:  simConfig,
		Metrics: metrics.NewCollectors(),
	}).SetupWithManager(mgr); err != nil {
		panic(fmt.Sprintf("failed to set up reconciler: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := mgr.Start(ctx); err != nil {
			panic(fmt.Sprintf("manager failed: %v", err))
		}
	}()

	code := m.Run()

	// Cleanup
	cancel()
	_ = testEnv.Stop()

	os.Exit(code)
}
