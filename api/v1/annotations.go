package v1

// Well-known label and annotation keys.
const (
	// LifetimeAnnotation tells the virtual node how long a pod runs before it completes.
	// Value: integer seconds.
	LifetimeAnnotation = "simkube.io/lifetime-seconds"

	// OrigNamespaceAnnotation records the namespace an object lived in when the trace was recorded.
	OrigNamespaceAnnotation = "simkube.io/original-namespace"

	// SimulationLabel names the Simulation an object belongs to.
	SimulationLabel = "simkube.io/simulation"

	// VirtualLabel marks pods placed onto virtual nodes.
	VirtualLabel = "simkube.io/virtual"

	// AppNameLabel and AppComponentLabel follow the recommended app.kubernetes.io labels.
	AppNameLabel      = "app.kubernetes.io/name"
	AppComponentLabel = "app.kubernetes.io/component"

	// CertManagerInjectAnnotation asks cert-manager to inject the CA bundle into a webhook configuration.
	CertManagerInjectAnnotation = "cert-manager.io/inject-ca-from"

	// ServiceAccountNameAnnotation is set by Kubernetes on service-account token secrets.
	ServiceAccountNameAnnotation = "kubernetes.io/service-account.name"
)

// VirtualNodeTolerationKey is the taint key carried by virtual nodes.
const VirtualNodeTolerationKey = "kwok-provider"

// Defaults shared by the controller and the driver.
const (
	DefaultMetricsNamespace      = "monitoring"
	DefaultMetricsServiceAccount = "prometheus-k8s"
	DefaultDriverAdmissionPort   = 8888
	DefaultVirtualNSPrefix       = "virtual"
	DefaultDriverServiceAccount  = "sk-ctrl-service-account"
)

// SimulationFinalizer guards the cleanup of resources outside the Simulation's ownership tree.
const SimulationFinalizer = "simkube.io/simulation-cleanup"
