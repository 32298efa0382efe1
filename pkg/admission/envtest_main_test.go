//go:build envtest
// +build envtest

package admission_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/envtest"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	skadmission "github.com/simkube-io/simkube/pkg/admission"
	"github.com/simkube-io/simkube/pkg/driver"
	"github.com/simkube-io/simkube/pkg/metrics"
	"github.com/simkube-io/simkube/pkg/mutation"
	"github.com/simkube-io/simkube/pkg/owners"
	sktesting "github.com/simkube-io/simkube/pkg/testing"
	"github.com/simkube-io/simkube/pkg/tracestore"
	"github.com/simkube-io/simkube/pkg/webhook"
)

const (
	testSimName  = "envtest"
	testRootName = "sk-envtest-root"
)

// Shared test environment
var (
	cfg       *rest.Config
	k8sClient client.Client
	testEnv   *envtest.Environment
	scheme    = runtime.NewScheme()
	testNS    string
	testLog   logr.Logger
)

// traceStore is what the driver under test knows about the recorded cluster:
// two pods of deployment "default/web" running testPodSpec.
var traceStore = &tracestore.Trace{
	Version: 2,
	Objects: []string{"default/web"},
	PodLifecycles: []tracestore.PodLifecycleRecord{{
		OwnerKey: "default/web",
		Hash:     strconv.FormatUint(mutation.PodSpecHash(ptr.To(testPodSpec())), 10),
		Lifecycles: []tracestore.LifecycleRecord{
			{StartTS: 100, EndTS: ptr.To[int64](160)},
			{StartTS: 100},
		},
	}},
}

func testPodSpec() corev1.PodSpec {
	return corev1.PodSpec{
		Containers: []corev1.Container{{Name: "web", Image: "nginx:1.27", Args: []string{"--port=80"}}},
	}
}

func TestMain(m *testing.M) {
	testLog = funcr.New(func(prefix, args string) {
		fmt.Fprintln(os.Stderr, prefix, args)
	}, funcr.Options{Verbosity: 1})
	ctrl.SetLogger(testLog)

	testEnv = &envtest.Environment{
		CRDs: sktesting.CRDs(),
		WebhookInstallOptions: envtest.WebhookInstallOptions{
			MutatingWebhooks: []*admissionregistrationv1.MutatingWebhookConfiguration{mutatingWebhook()},
		},
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	if err := startDriverWebhook(ctx); err != nil {
		panic(fmt.Sprintf("failed to start webhook: %v", err))
	}

	// Create a shared virtual namespace for tests
	testNS = "virtual-default"
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   testNS,
			Labels: map[string]string{simkubev1.SimulationLabel: testSimName},
		},
	}
	if err := k8sClient.Create(context.Background(), ns); err != nil {
		panic(fmt.Sprintf("failed to create test namespace: %v", err))
	}

	code := m.Run()

	// Cleanup
	cancel()
	_ = k8sClient.Delete(context.Background(), ns)
	_ = testEnv.Stop()

	os.Exit(code)
}

func mutatingWebhook() *admissionregistrationv1.MutatingWebhookConfiguration {
	ignore := admissionregistrationv1.Ignore
	sideEffects := admissionregistrationv1.SideEffectClassNoneOnDryRun
	return &admissionregistrationv1.MutatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{Name: "sk-envtest-mutatepods"},
		Webhooks: []admissionregistrationv1.MutatingWebhook{{
			Name:                    "envtest.mutatepods.simkube.io",
			AdmissionReviewVersions: []string{"v1"},
			SideEffects:             &sideEffects,
			FailurePolicy:           &ignore,
			ClientConfig: admissionregistrationv1.WebhookClientConfig{
				Service: &admissionregistrationv1.ServiceReference{
					Name:      "sk-envtest-driver-svc",
					Namespace: "simkube",
					Path:      ptr.To(webhook.MutatePath),
				},
			},
			Rules: []admissionregistrationv1.RuleWithOperations{{
				Operations: []admissionregistrationv1.OperationType{admissionregistrationv1.Create},
				Rule: admissionregistrationv1.Rule{
					APIGroups:   []string{""},
					APIVersions: []string{"v1"},
					Resources:   []string{"pods"},
				},
			}},
			NamespaceSelector: &metav1.LabelSelector{
				MatchLabels: map[string]string{simkubev1.SimulationLabel: testSimName},
			},
		}},
	}
}

func startDriverWebhook(ctx context.Context) error {
	store, err := tracestore.NewFileStore(traceStore)
	if err != nil {
		return err
	}

	m := metrics.NewCollectors()
	dctx := &driver.DriverContext{
		Name:            testSimName,
		RootName:        testRootName,
		VirtualNSPrefix: "virtual",
		Owners:          owners.NewCache(owners.Config{Client: k8sClient, Log: testLog, Metrics: m}),
		Store:           store,
	}
	engine := dctx.NewEngine(m, testLog)

	opts := testEnv.WebhookInstallOptions
	server := webhook.NewServer(webhook.Config{
		Handler:                skadmission.NewHandler(skadmission.Config{Mutator: engine, Metrics: m, Log: testLog}),
		Log:                    testLog,
		Host:                   opts.LocalServingHost,
		Port:                   opts.LocalServingPort,
		CertDir:                opts.LocalServingCertDir,
		HealthProbeBindAddress: "127.0.0.1:0",
	})
	server.Register()

	go func() {
		_ = server.Start(ctx)
	}()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return server.WaitStarted(startCtx)
}
