package controller

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/intstr"
	certutil "k8s.io/client-go/util/cert"
	"k8s.io/utils/ptr"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/config"
	"github.com/simkube-io/simkube/pkg/webhook"
)

const (
	driverComponent    = "sk-driver"
	driverContainer    = "driver"
	driverCertMount    = "/etc/simkube/certs"
	driverTokenMount   = "/var/run/secrets/simkube"
	driverServicePort  = 443
	driverSecretVolume = "certs"
	driverTokenVolume  = "sa-token"
	driverTraceVolume  = "trace"
)

func simulationOwnerRef(sim *simkubev1.Simulation) metav1.OwnerReference {
	return *metav1.NewControllerRef(sim, simkubev1.GroupVersion.WithKind("Simulation"))
}

func rootOwnerRef(root *simkubev1.SimulationRoot) metav1.OwnerReference {
	return *metav1.NewControllerRef(root, simkubev1.GroupVersion.WithKind("SimulationRoot"))
}

func driverLabels(simName string) map[string]string {
	return map[string]string{
		simkubev1.AppNameLabel:    driverComponent,
		simkubev1.SimulationLabel: simName,
	}
}

func buildSimulationRoot(sim *simkubev1.Simulation, simCtx *SimulationContext) *simkubev1.SimulationRoot {
	return &simkubev1.SimulationRoot{
		ObjectMeta: metav1.ObjectMeta{
			Name:            simCtx.RootName,
			Labels:          map[string]string{simkubev1.SimulationLabel: sim.Name},
			OwnerReferences: []metav1.OwnerReference{simulationOwnerRef(sim)},
		},
	}
}

func buildDriverNamespace(simCtx *SimulationContext, root *simkubev1.SimulationRoot) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:            simCtx.DriverNamespace,
			Labels:          map[string]string{simkubev1.SimulationLabel: simCtx.Name},
			OwnerReferences: []metav1.OwnerReference{rootOwnerRef(root)},
		},
	}
}

func buildDriverService(simCtx *SimulationContext, root *simkubev1.SimulationRoot, port int32) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            simCtx.DriverServiceName,
			Namespace:       simCtx.DriverNamespace,
			Labels:          driverLabels(simCtx.Name),
			OwnerReferences: []metav1.OwnerReference{rootOwnerRef(root)},
		},
		Spec: corev1.ServiceSpec{
			Selector: driverLabels(simCtx.Name),
			Ports: []corev1.ServicePort{{
				Name:       "https",
				Port:       driverServicePort,
				TargetPort: intstr.FromInt32(port),
			}},
		},
	}
}

func driverServiceHost(simCtx *SimulationContext) string {
	return fmt.Sprintf("%s.%s.svc", simCtx.DriverServiceName, simCtx.DriverNamespace)
}

// buildDriverServingSecret generates a self-signed serving certificate for the driver
// Service. The certificate data includes its CA, so it doubles as the webhook's CA bundle.
func buildDriverServingSecret(simCtx *SimulationContext, root *simkubev1.SimulationRoot) (*corev1.Secret, error) {
	svc := simCtx.DriverServiceName
	certPEM, keyPEM, err := certutil.GenerateSelfSignedCertKey(driverServiceHost(simCtx), nil, []string{
		svc,
		svc + "." + simCtx.DriverNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate driver serving certificate: %w", err)
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:            simCtx.DriverCertName,
			Namespace:       simCtx.DriverNamespace,
			Labels:          driverLabels(simCtx.Name),
			OwnerReferences: []metav1.OwnerReference{rootOwnerRef(root)},
		},
		Type: corev1.SecretTypeTLS,
		Data: map[string][]byte{
			corev1.TLSCertKey:       certPEM,
			corev1.TLSPrivateKeyKey: keyPEM,
		},
	}, nil
}

func buildDriverCertificate(simCtx *SimulationContext, root *simkubev1.SimulationRoot, issuer string) *unstructured.Unstructured {
	cert := &unstructured.Unstructured{}
	cert.SetAPIVersion("cert-manager.io/v1")
	cert.SetKind("Certificate")
	cert.SetName(simCtx.DriverCertName)
	cert.SetNamespace(simCtx.DriverNamespace)
	cert.SetLabels(driverLabels(simCtx.Name))
	cert.SetOwnerReferences([]metav1.OwnerReference{rootOwnerRef(root)})
	cert.Object["spec"] = map[string]interface{}{
		"secretName": simCtx.DriverCertName,
		"dnsNames": []interface{}{
			driverServiceHost(simCtx),
		},
		"issuerRef": map[string]interface{}{
			"name": issuer,
			"kind": "Issuer",
		},
	}
	return cert
}

// buildMutatingWebhook returns the webhook configuration routing simulated pods to the driver.
// caBundle is left empty when cert-manager injects it.
func buildMutatingWebhook(simCtx *SimulationContext, root *simkubev1.SimulationRoot, certManagerIssuer string, caBundle []byte) *admissionregistrationv1.MutatingWebhookConfiguration {
	ignore := admissionregistrationv1.Ignore
	sideEffects := admissionregistrationv1.SideEffectClassNoneOnDryRun
	scope := admissionregistrationv1.NamespacedScope

	wh := &admissionregistrationv1.MutatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Name:            simCtx.WebhookName,
			Labels:          driverLabels(simCtx.Name),
			OwnerReferences: []metav1.OwnerReference{rootOwnerRef(root)},
		},
		Webhooks: []admissionregistrationv1.MutatingWebhook{{
			Name:                    simCtx.Name + ".mutatepods.simkube.io",
			AdmissionReviewVersions: []string{"v1"},
			SideEffects:             &sideEffects,
			FailurePolicy:           &ignore,
			TimeoutSeconds:          ptr.To[int32](5),
			ClientConfig: admissionregistrationv1.WebhookClientConfig{
				CABundle: caBundle,
				Service: &admissionregistrationv1.ServiceReference{
					Namespace: simCtx.DriverNamespace,
					Name:      simCtx.DriverServiceName,
					Path:      ptr.To(webhook.MutatePath),
					Port:      ptr.To[int32](driverServicePort),
				},
			},
			Rules: []admissionregistrationv1.RuleWithOperations{{
				Operations: []admissionregistrationv1.OperationType{admissionregistrationv1.Create},
				Rule: admissionregistrationv1.Rule{
					APIGroups:   []string{""},
					APIVersions: []string{"v1"},
					Resources:   []string{"pods"},
					Scope:       &scope,
				},
			}},
			NamespaceSelector: &metav1.LabelSelector{
				MatchLabels: map[string]string{simkubev1.SimulationLabel: simCtx.Name},
				// the driver namespace carries the simulation label too
				MatchExpressions: []metav1.LabelSelectorRequirement{{
					Key:      corev1.LabelMetadataName,
					Operator: metav1.LabelSelectorOpNotIn,
					Values:   []string{simCtx.DriverNamespace},
				}},
			},
		}},
	}
	if certManagerIssuer != "" {
		wh.Annotations = map[string]string{
			simkubev1.CertManagerInjectAnnotation: simCtx.DriverNamespace + "/" + simCtx.DriverCertName,
		}
	}
	return wh
}

func buildDriverJob(sim *simkubev1.Simulation, simCtx *SimulationContext, cfg *config.Config, tokenSecret string) *batchv1.Job {
	args := []string{
		"--sim-name=" + simCtx.Name,
		"--root-name=" + simCtx.RootName,
		"--trace-path=" + sim.Spec.Trace,
		"--virtual-ns-prefix=" + cfg.VirtualNSPrefix,
		"--cert-dir=" + driverCertMount,
		"--port=" + strconv.Itoa(int(cfg.Driver.Port)),
		"--log-level=" + cfg.Driver.LogLevel,
		"--owner-cache-size=" + strconv.Itoa(cfg.Driver.OwnerCacheSize),
		"--owner-cache-ttl=" + cfg.Driver.OwnerCacheTTL.String(),
	}
	if cfg.Driver.FailClosed {
		args = append(args, "--fail-closed")
	}

	volumes := []corev1.Volume{
		{
			Name:         driverSecretVolume,
			VolumeSource: corev1.VolumeSource{Secret: &corev1.SecretVolumeSource{SecretName: simCtx.DriverCertName}},
		},
		{
			Name:         driverTokenVolume,
			VolumeSource: corev1.VolumeSource{Secret: &corev1.SecretVolumeSource{SecretName: tokenSecret}},
		},
	}
	mounts := []corev1.VolumeMount{
		{Name: driverSecretVolume, MountPath: driverCertMount, ReadOnly: true},
		{Name: driverTokenVolume, MountPath: driverTokenMount, ReadOnly: true},
	}
	if path, ok := localTracePath(sim.Spec.Trace); ok {
		volumes = append(volumes, corev1.Volume{
			Name: driverTraceVolume,
			VolumeSource: corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{
				Path: filepath.Dir(path),
				Type: ptr.To(corev1.HostPathDirectory),
			}},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: driverTraceVolume, MountPath: filepath.Dir(path), ReadOnly: true})
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:            simCtx.DriverName,
			Namespace:       simCtx.DriverNamespace,
			Labels:          driverLabels(simCtx.Name),
			OwnerReferences: []metav1.OwnerReference{simulationOwnerRef(sim)},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: ptr.To[int32](0),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: driverLabels(simCtx.Name)},
				Spec: corev1.PodSpec{
					ServiceAccountName: cfg.Driver.ServiceAccount,
					RestartPolicy:      corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:    driverContainer,
						Image:   cfg.Driver.Image,
						Command: []string{"/sk-driver"},
						Args:    args,
						Ports: []corev1.ContainerPort{{
							Name:          "https",
							ContainerPort: cfg.Driver.Port,
						}},
						VolumeMounts: mounts,
					}},
					Volumes: volumes,
				},
			},
		},
	}
}

// localTracePath returns the host path of a file:// trace.
func localTracePath(trace string) (string, bool) {
	u, err := url.Parse(trace)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return "", false
	}
	return u.Path, true
}
