//go:build e2e

package simulation

import (
	"fmt"
	"os"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/cli"
)

const (
	defaultTimeout  = 2 * time.Minute
	replayTimeout   = 10 * time.Minute
	defaultInterval = 2 * time.Second
)

var (
	clientset *kubernetes.Clientset
	skClient  *cli.Client
	// tracePath must be readable on the node running the driver.
	tracePath = "file:///data/trace.yml"
)

func TestMain(m *testing.M) {
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		kubeconfig = os.Getenv("HOME") + "/.kube/config"
	}
	if p := os.Getenv("SK_E2E_TRACE"); p != "" {
		tracePath = p
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		fmt.Printf("Failed to load kubeconfig: %v\n", err)
		os.Exit(1)
	}

	clientset, err = kubernetes.NewForConfig(config)
	if err != nil {
		fmt.Printf("Failed to create clientset: %v\n", err)
		os.Exit(1)
	}

	scheme := runtime.NewScheme()
	_ = simkubev1.AddToScheme(scheme)
	c, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		fmt.Printf("Failed to create simkube client: %v\n", err)
		os.Exit(1)
	}
	skClient = cli.NewClient(c)

	os.Exit(m.Run())
}
