// Package mutation rewrites pods created during a simulation so they replay the
// timing of their recorded counterparts on virtual nodes.
package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-logr/logr"
	jsonpatch "gomodules.xyz/jsonpatch/v2"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/metrics"
	"github.com/simkube-io/simkube/pkg/owners"
	"github.com/simkube-io/simkube/pkg/tracestore"
)

// ErrMissingSpec is returned for a simulated pod without a spec.
var ErrMissingSpec = errors.New("pod has no spec")

// OwnerResolver walks the owner chain of an object.
type OwnerResolver interface {
	Chain(ctx context.Context, obj client.Object) ([]owners.Ancestor, error)
}

// Engine computes the patch applied to pods admitted during a simulation.
type Engine struct {
	simName    string
	rootName   string
	originalNS func(string) (string, bool)
	owners     OwnerResolver
	store      tracestore.Store
	failClosed bool
	ordinals   *ordinalTracker
	metrics    *metrics.Collectors
	log        logr.Logger
}

// Config configures an Engine.
type Config struct {
	// SimName is the name of the Simulation being replayed.
	SimName string
	// RootName is the name of the SimulationRoot every simulated pod descends from.
	RootName string
	// OriginalNamespace maps the namespace a pod is admitted in back to the
	// namespace of the trace. Pods without a mapping keep their namespace.
	OriginalNamespace func(virtualNamespace string) (string, bool)
	Owners            OwnerResolver
	Store             tracestore.Store
	// FailClosed turns owner resolution failures into errors instead of skipping the pod.
	FailClosed bool
	Metrics    *metrics.Collectors
	Log        logr.Logger
}

// NewEngine creates a new Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		simName:    cfg.SimName,
		rootName:   cfg.RootName,
		originalNS: cfg.OriginalNamespace,
		owners:     cfg.Owners,
		store:      cfg.Store,
		failClosed: cfg.FailClosed,
		ordinals:   newOrdinalTracker(),
		metrics:    cfg.Metrics,
		log:        cfg.Log.WithName("mutation"),
	}
}

// MutatePod returns the JSON patch for pod, or nil if the pod is not part of the simulation.
// A dry-run admission computes the same patch but does not claim a replica ordinal.
func (e *Engine) MutatePod(ctx context.Context, pod *unstructured.Unstructured, dryRun bool) ([]jsonpatch.JsonPatchOperation, error) {
	log := e.log.WithValues("namespace", pod.GetNamespace(), "name", podName(pod))

	chain, err := e.owners.Chain(ctx, pod)
	if err != nil {
		if e.failClosed {
			return nil, fmt.Errorf("failed to resolve owner chain: %w", err)
		}
		if apierrors.IsNotFound(err) {
			log.V(1).Info("owner vanished while resolving chain, skipping", "error", err.Error())
		} else {
			log.Error(err, "failed to resolve owner chain, skipping")
		}
		return nil, nil
	}

	if !e.ownedByRoot(chain) {
		log.V(2).Info("pod not owned by simulation root, skipping")
		return nil, nil
	}

	rawSpec, ok := pod.Object["spec"].(map[string]interface{})
	if !ok {
		return nil, ErrMissingSpec
	}
	var spec corev1.PodSpec
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(rawSpec, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode pod spec: %w", err)
	}

	mutated := pod.DeepCopy()

	origNS := e.originalNamespace(pod)
	if ownerKey := e.traceOwnerKey(chain, origNS); ownerKey != "" {
		hash := PodSpecHash(&spec)
		var ordinal int
		if dryRun {
			ordinal = e.ordinals.Peek(ownerKey, hash, pod.GetName())
		} else {
			ordinal = e.ordinals.Next(ownerKey, hash, pod.GetName())
		}
		lc := e.store.LookupPodLifecycle(ownerKey, hash, ordinal)
		e.metrics.RecordLifecycle(lc.State.String())
		log = log.WithValues("owner", ownerKey, "hash", hash, "ordinal", ordinal, "lifecycle", lc.String())

		switch lc.State {
		case tracestore.LifecycleFinished:
			if secs, ok := lc.Lifetime(); ok {
				setAnnotation(mutated, simkubev1.LifetimeAnnotation, strconv.FormatInt(secs, 10))
			} else {
				log.Info("recorded pod ended before it started, not setting lifetime")
			}
		case tracestore.LifecycleRunning:
			log.V(1).Info("recorded pod never terminated, not setting lifetime")
		default:
			log.Info("no lifecycle recorded for pod, not setting lifetime")
		}
	} else {
		log.Info("no owner of pod found in trace, not setting lifetime")
	}

	if err := e.placeOnVirtualNodes(mutated); err != nil {
		return nil, err
	}

	patch, err := diff(pod, mutated)
	if err != nil {
		return nil, err
	}
	log.V(1).Info("mutated pod", "operations", len(patch))
	return patch, nil
}

func (e *Engine) ownedByRoot(chain []owners.Ancestor) bool {
	for _, a := range chain {
		if a.IsSimulationRoot() && a.Ref.Name == e.rootName {
			return true
		}
	}
	return false
}

// traceOwnerKey returns the key of the nearest ancestor known to the trace.
func (e *Engine) traceOwnerKey(chain []owners.Ancestor, origNS string) string {
	for _, a := range chain {
		if a.IsSimulationRoot() {
			continue
		}
		key := tracestore.ObjectKey(origNS, a.Ref.Name)
		if e.store.HasObj(key) {
			return key
		}
	}
	return ""
}

func (e *Engine) originalNamespace(pod *unstructured.Unstructured) string {
	if ns, ok := pod.GetAnnotations()[simkubev1.OrigNamespaceAnnotation]; ok && ns != "" {
		return ns
	}
	if e.originalNS != nil {
		if ns, ok := e.originalNS(pod.GetNamespace()); ok {
			return ns
		}
	}
	return pod.GetNamespace()
}

func (e *Engine) placeOnVirtualNodes(pod *unstructured.Unstructured) error {
	labels := pod.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	labels[simkubev1.VirtualLabel] = "true"
	if e.simName != "" {
		labels[simkubev1.SimulationLabel] = e.simName
	}
	pod.SetLabels(labels)

	tolerations, _, err := unstructured.NestedSlice(pod.Object, "spec", "tolerations")
	if err != nil {
		return fmt.Errorf("invalid pod tolerations: %w", err)
	}
	for _, t := range tolerations {
		if m, ok := t.(map[string]interface{}); ok && m["key"] == simkubev1.VirtualNodeTolerationKey {
			return nil
		}
	}
	tolerations = append(tolerations, map[string]interface{}{
		"key":      simkubev1.VirtualNodeTolerationKey,
		"operator": string(corev1.TolerationOpExists),
		"effect":   string(corev1.TaintEffectNoSchedule),
	})
	if err := unstructured.SetNestedSlice(pod.Object, tolerations, "spec", "tolerations"); err != nil {
		return fmt.Errorf("failed to set tolerations: %w", err)
	}
	return nil
}

func setAnnotation(obj *unstructured.Unstructured, key, value string) {
	annotations := obj.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[key] = value
	obj.SetAnnotations(annotations)
}

func diff(original, mutated *unstructured.Unstructured) ([]jsonpatch.JsonPatchOperation, error) {
	before, err := json.Marshal(original.Object)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pod: %w", err)
	}
	after, err := json.Marshal(mutated.Object)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutated pod: %w", err)
	}
	patch, err := jsonpatch.CreatePatch(before, after)
	if err != nil {
		return nil, fmt.Errorf("failed to compute pod patch: %w", err)
	}
	return patch, nil
}

func podName(pod *unstructured.Unstructured) string {
	if name := pod.GetName(); name != "" {
		return name
	}
	return pod.GetGenerateName()
}
