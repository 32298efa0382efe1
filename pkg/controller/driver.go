package controller

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/monitoring"
)

// SetupDriver brings up the infrastructure of a simulation in phases. Every object is
// looked up before it is created, so repeated calls only read once everything exists.
//
// The metrics stack is created first; while any part of it was just created or Prometheus
// is not yet available, SetupDriver asks to be called again after the requeue delay. The
// driver objects follow, ending with the driver Job, after which there is nothing to do
// until the Job changes.
func (r *SimulationReconciler) SetupDriver(ctx context.Context, sim *simkubev1.Simulation, simCtx *SimulationContext, root *simkubev1.SimulationRoot) (ctrl.Result, error) {
	log := logr.FromContextOrDiscard(ctx)
	requeue := ctrl.Result{RequeueAfter: r.Config.RequeueDelay}

	var metricsNS corev1.Namespace
	if err := r.Get(ctx, client.ObjectKey{Name: simCtx.MetricsNamespace}, &metricsNS); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, &NamespaceNotFoundError{Namespace: simCtx.MetricsNamespace}
		}
		return ctrl.Result{}, fmt.Errorf("failed to get metrics namespace: %w", err)
	}

	promSvc := monitoring.BuildPrometheusService(simCtx.PrometheusServiceName, simCtx.MetricsNamespace, simCtx.Name, simCtx.PrometheusName)
	promSvc.OwnerReferences = []metav1.OwnerReference{rootOwnerRef(root)}

	prerequisites := []client.Object{
		buildDriverNamespace(simCtx, root),
		monitoring.BuildKubeStateMetricsServiceMonitor(simCtx.ServiceMonitorName, simCtx.MetricsNamespace, simCtx.Name),
		monitoring.BuildPrometheus(simCtx.PrometheusName, simCtx.MetricsNamespace, simCtx.Name, r.Config.Metrics.ServiceAccount),
		promSvc,
	}
	anyCreated := false
	for _, obj := range prerequisites {
		_, created, err := r.ensure(ctx, log, obj)
		if err != nil {
			return ctrl.Result{}, err
		}
		anyCreated = anyCreated || created
	}
	if anyCreated {
		return requeue, nil
	}

	prom := monitoring.NewPrometheus()
	if err := r.Get(ctx, client.ObjectKey{Namespace: simCtx.MetricsNamespace, Name: simCtx.PrometheusName}, prom); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to get prometheus: %w", err)
	}
	if !monitoring.IsReady(prom) {
		log.Info("waiting for prometheus to become ready", "prometheus", simCtx.PrometheusName)
		return requeue, nil
	}

	if _, _, err := r.ensure(ctx, log, buildDriverService(simCtx, root, r.Config.Driver.Port)); err != nil {
		return ctrl.Result{}, err
	}

	tokenSecret, err := r.findServiceAccountToken(ctx, simCtx.DriverNamespace)
	if err != nil {
		return ctrl.Result{}, err
	}
	if tokenSecret == "" {
		log.Info("waiting for service account token", "namespace", simCtx.DriverNamespace, "serviceAccount", r.Config.Driver.ServiceAccount)
		return requeue, nil
	}

	var caBundle []byte
	if r.Config.CertManagerIssuer != "" {
		if _, _, err := r.ensure(ctx, log, buildDriverCertificate(simCtx, root, r.Config.CertManagerIssuer)); err != nil {
			return ctrl.Result{}, err
		}
	} else {
		caBundle, err = r.ensureServingSecret(ctx, log, simCtx, root)
		if err != nil {
			return ctrl.Result{}, err
		}
	}
	if _, _, err := r.ensure(ctx, log, buildMutatingWebhook(simCtx, root, r.Config.CertManagerIssuer, caBundle)); err != nil {
		return ctrl.Result{}, err
	}
	if _, _, err := r.ensure(ctx, log, buildDriverJob(sim, simCtx, r.Config, tokenSecret)); err != nil {
		return ctrl.Result{}, err
	}

	return ctrl.Result{}, nil
}

// ensureServingSecret returns the CA bundle of the driver's self-signed serving
// certificate, generating the certificate if its Secret does not exist yet.
func (r *SimulationReconciler) ensureServingSecret(ctx context.Context, log logr.Logger, simCtx *SimulationContext, root *simkubev1.SimulationRoot) ([]byte, error) {
	key := client.ObjectKey{Namespace: simCtx.DriverNamespace, Name: simCtx.DriverCertName}

	var secret corev1.Secret
	getErr := r.Get(ctx, key, &secret)
	if apierrors.IsNotFound(getErr) {
		desired, err := buildDriverServingSecret(simCtx, root)
		if err != nil {
			return nil, err
		}
		if _, _, err := r.ensure(ctx, log, desired); err != nil {
			return nil, err
		}
		getErr = r.Get(ctx, key, &secret)
	}
	if getErr != nil {
		return nil, fmt.Errorf("failed to get driver serving secret %s: %w", key, getErr)
	}

	ca := secret.Data[corev1.TLSCertKey]
	if len(ca) == 0 {
		return nil, fmt.Errorf("driver serving secret %s has no %s", key, corev1.TLSCertKey)
	}
	return ca, nil
}

// findServiceAccountToken returns the name of the token secret of the driver's service
// account in namespace, or "" if there is none yet.
func (r *SimulationReconciler) findServiceAccountToken(ctx context.Context, namespace string) (string, error) {
	var secrets corev1.SecretList
	if err := r.List(ctx, &secrets, client.InNamespace(namespace)); err != nil {
		return "", fmt.Errorf("failed to list secrets in %q: %w", namespace, err)
	}
	for _, s := range secrets.Items {
		if s.Type != corev1.SecretTypeServiceAccountToken {
			continue
		}
		if s.Annotations[simkubev1.ServiceAccountNameAnnotation] == r.Config.Driver.ServiceAccount {
			return s.Name, nil
		}
	}
	return "", nil
}

// ensure creates desired unless an object with its key exists. It returns the live object
// and whether it was created.
func (r *SimulationReconciler) ensure(ctx context.Context, log logr.Logger, desired client.Object) (client.Object, bool, error) {
	kind := objectKind(desired)
	key := client.ObjectKeyFromObject(desired)

	existing := desired.DeepCopyObject().(client.Object)
	err := r.Get(ctx, key, existing)
	if err == nil {
		return existing, false, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, false, fmt.Errorf("failed to get %s %s: %w", kind, key, err)
	}

	if err := r.Create(ctx, desired); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return desired, false, nil
		}
		return nil, false, fmt.Errorf("failed to create %s %s: %w", kind, key, err)
	}
	log.Info("created "+kind, "name", key.String())
	return desired, true, nil
}

func objectKind(obj client.Object) string {
	if kind := obj.GetObjectKind().GroupVersionKind().Kind; kind != "" {
		return kind
	}
	switch obj.(type) {
	case *corev1.Namespace:
		return "Namespace"
	case *corev1.Service:
		return "Service"
	case *corev1.Secret:
		return "Secret"
	case *batchv1.Job:
		return "Job"
	case *admissionregistrationv1.MutatingWebhookConfiguration:
		return "MutatingWebhookConfiguration"
	default:
		return fmt.Sprintf("%T", obj)
	}
}
