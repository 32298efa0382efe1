// Package admission provides the pod admission handler of the simulation driver.
package admission

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	jsonpatch "gomodules.xyz/jsonpatch/v2"

	admissionv1 "k8s.io/api/admission/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/simkube-io/simkube/pkg/metrics"
)

// PodMutator computes the patch for an admitted pod. A nil patch means the pod is left alone.
// dryRun is set for requests that will not persist the pod.
type PodMutator interface {
	MutatePod(ctx context.Context, pod *unstructured.Unstructured, dryRun bool) ([]jsonpatch.JsonPatchOperation, error)
}

// Handler handles pod admission requests during a simulation.
// It never fails a request: every error becomes a response with allowed=false.
type Handler struct {
	mutator PodMutator
	metrics *metrics.Collectors
	log     logr.Logger
}

// Config configures the admission handler.
type Config struct {
	Mutator PodMutator
	Metrics *metrics.Collectors
	Log     logr.Logger
}

var _ admission.Handler = &Handler{}

// NewHandler creates a new admission Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		mutator: cfg.Mutator,
		metrics: cfg.Metrics,
		log:     cfg.Log.WithName("simkube-admission"),
	}
}

// Handle processes a pod admission request.
func (h *Handler) Handle(ctx context.Context, req admission.Request) (resp admission.Response) {
	log := h.log.WithValues(
		"uid", req.UID,
		"operation", req.Operation,
		"namespace", req.Namespace,
		"name", req.Name,
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Errorf("%v", r), "panic while mutating pod")
			resp = h.deny(admission.Errored(http.StatusInternalServerError, fmt.Errorf("internal error while mutating pod")))
		}
	}()

	if len(req.Object.Raw) == 0 {
		log.Info("admission review carries no object, denying")
		return h.deny(admission.Denied("admission review carries no object"))
	}

	pod := &unstructured.Unstructured{}
	if err := pod.UnmarshalJSON(req.Object.Raw); err != nil {
		log.Error(err, "failed to decode object")
		return h.deny(admission.Errored(http.StatusBadRequest, fmt.Errorf("failed to decode object: %w", err)))
	}
	if pod.GetKind() != "Pod" {
		log.V(1).Info("not a pod, skipping", "kind", pod.GetKind())
		h.metrics.RecordAdmission(metrics.OutcomeSkipped)
		return admission.Allowed("")
	}
	if pod.GetNamespace() == "" {
		pod.SetNamespace(req.Namespace)
	}

	dryRun := req.DryRun != nil && *req.DryRun
	patches, err := h.mutator.MutatePod(ctx, pod, dryRun)
	if err != nil {
		log.Error(err, "failed to mutate pod")
		return h.deny(admission.Errored(http.StatusInternalServerError, fmt.Errorf("failed to mutate pod: %w", err)))
	}
	if len(patches) == 0 {
		h.metrics.RecordAdmission(metrics.OutcomeSkipped)
		return admission.Allowed("")
	}

	log.V(1).Info("patching pod", "operations", len(patches))
	h.metrics.RecordAdmission(metrics.OutcomeMutated)

	// Build response manually to ensure patch is serialized correctly
	patchType := admissionv1.PatchTypeJSONPatch
	return admission.Response{
		Patches: patches,
		AdmissionResponse: admissionv1.AdmissionResponse{
			Allowed:   true,
			PatchType: &patchType,
		},
	}
}

func (h *Handler) deny(resp admission.Response) admission.Response {
	h.metrics.RecordAdmission(metrics.OutcomeDenied)
	resp.Allowed = false
	return resp
}
