package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/metrics"
	"github.com/simkube-io/simkube/pkg/owners"
	"github.com/simkube-io/simkube/pkg/tracestore"
)

const (
	DefaultTeardownTimeout = 10 * time.Minute
	teardownPollInterval   = 2 * time.Second
)

// Replay actions, as recorded in metrics.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionSkipped = "skipped"
)

// EventSource provides the recorded events of a trace.
type EventSource interface {
	Events() []tracestore.Event
	Start() int64
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Client  client.Client
	Context *DriverContext
	Events  EventSource
	// Clock paces the replay. Defaults to the real clock.
	Clock clock.Clock
	// Linger keeps the final state of the trace in place this long before it is torn down.
	Linger time.Duration
	// TeardownTimeout bounds how long Run waits for the virtual namespaces to disappear.
	TeardownTimeout time.Duration
	Metrics         *metrics.Collectors
	Log             logr.Logger
}

// Runner replays the events of a trace into virtual namespaces, keeping the
// recorded spacing between events. Once the trace is exhausted it deletes the
// virtual namespaces and waits for them to be gone, so every pod the replayed
// workloads create passes through the admission webhook while the driver runs.
type Runner struct {
	client          client.Client
	dctx            *DriverContext
	events          EventSource
	clock           clock.Clock
	linger          time.Duration
	teardownTimeout time.Duration
	metrics         *metrics.Collectors
	log             logr.Logger

	namespaces map[string]struct{}
}

// NewRunner creates a new Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	timeout := cfg.TeardownTimeout
	if timeout <= 0 {
		timeout = DefaultTeardownTimeout
	}
	return &Runner{
		client:          cfg.Client,
		dctx:            cfg.Context,
		events:          cfg.Events,
		clock:           clk,
		linger:          cfg.Linger,
		teardownTimeout: timeout,
		metrics:         cfg.Metrics,
		log:             log.WithName("runner"),
		namespaces:      make(map[string]struct{}),
	}
}

// Run replays every event, then tears the replayed objects down. It returns once the
// virtual namespaces are gone or ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	root := &simkubev1.SimulationRoot{}
	if err := r.client.Get(ctx, client.ObjectKey{Name: r.dctx.RootName}, root); err != nil {
		return fmt.Errorf("failed to get simulation root %q: %w", r.dctx.RootName, err)
	}
	owner := metav1.OwnerReference{
		APIVersion: simkubev1.GroupVersion.String(),
		Kind:       "SimulationRoot",
		Name:       root.Name,
		UID:        root.UID,
	}

	events := r.events.Events()
	traceStart := r.events.Start()
	wallStart := r.clock.Now()
	r.log.Info("starting replay", "events", len(events))

	for i, evt := range events {
		target := wallStart.Add(time.Duration(evt.TS-traceStart) * time.Second)
		if err := r.waitUntil(ctx, target); err != nil {
			return err
		}

		log := r.log.WithValues("event", i, "ts", evt.TS)
		for j := range evt.Applied {
			if err := r.apply(ctx, log, &evt.Applied[j], owner); err != nil {
				return err
			}
		}
		for j := range evt.Deleted {
			if err := r.delete(ctx, log, &evt.Deleted[j]); err != nil {
				return err
			}
		}
	}

	r.log.Info("replay finished", "events", len(events))

	if r.linger > 0 {
		r.log.Info("holding final state", "duration", r.linger)
		if err := r.waitUntil(ctx, r.clock.Now().Add(r.linger)); err != nil {
			return err
		}
	}
	return r.teardown(ctx)
}

// teardown deletes the virtual namespaces and waits until the apiserver has removed them.
func (r *Runner) teardown(ctx context.Context) error {
	for ns := range r.namespaces {
		obj := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: ns}}
		err := r.client.Delete(ctx, obj, client.PropagationPolicy(metav1.DeletePropagationBackground))
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete virtual namespace %q: %w", ns, err)
		}
		r.log.Info("deleting virtual namespace", "namespace", ns)
	}

	deadline := r.clock.Now().Add(r.teardownTimeout)
	for {
		for ns := range r.namespaces {
			err := r.client.Get(ctx, client.ObjectKey{Name: ns}, &corev1.Namespace{})
			switch {
			case apierrors.IsNotFound(err):
				delete(r.namespaces, ns)
			case err != nil:
				return fmt.Errorf("failed to get virtual namespace %q: %w", ns, err)
			}
		}
		if len(r.namespaces) == 0 {
			r.log.Info("virtual namespaces removed")
			return nil
		}
		if !r.clock.Now().Before(deadline) {
			return fmt.Errorf("%d virtual namespace(s) still present after %s", len(r.namespaces), r.teardownTimeout)
		}
		if err := r.waitUntil(ctx, r.clock.Now().Add(teardownPollInterval)); err != nil {
			return err
		}
	}
}

func (r *Runner) waitUntil(ctx context.Context, target time.Time) error {
	d := target.Sub(r.clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}

func (r *Runner) apply(ctx context.Context, log logr.Logger, recorded *unstructured.Unstructured, owner metav1.OwnerReference) error {
	origNS := recorded.GetNamespace()
	if origNS == "" {
		log.Info("skipping cluster-scoped object", "kind", recorded.GetKind(), "name", recorded.GetName())
		r.metrics.RecordReplay(ActionSkipped)
		return nil
	}

	ns := r.dctx.VirtualNamespace(origNS)
	if err := r.ensureNamespace(ctx, ns, owner); err != nil {
		return err
	}

	obj := r.prepare(recorded, ns, owner)
	key := client.ObjectKeyFromObject(obj)
	log = log.WithValues("kind", obj.GetKind(), "object", key.String())

	err := r.client.Create(ctx, obj)
	if err == nil {
		log.V(1).Info("created object")
		r.metrics.RecordReplay(ActionCreated)
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create %s %s: %w", obj.GetKind(), key, err)
	}

	existing := &unstructured.Unstructured{}
	existing.SetGroupVersionKind(obj.GroupVersionKind())
	if err := r.client.Get(ctx, key, existing); err != nil {
		return fmt.Errorf("failed to get %s %s: %w", obj.GetKind(), key, err)
	}
	obj.SetResourceVersion(existing.GetResourceVersion())
	if err := r.client.Update(ctx, obj); err != nil {
		return fmt.Errorf("failed to update %s %s: %w", obj.GetKind(), key, err)
	}
	log.V(1).Info("updated object")
	r.metrics.RecordReplay(ActionUpdated)
	return nil
}

func (r *Runner) delete(ctx context.Context, log logr.Logger, recorded *unstructured.Unstructured) error {
	if recorded.GetNamespace() == "" {
		r.metrics.RecordReplay(ActionSkipped)
		return nil
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(recorded.GroupVersionKind())
	obj.SetNamespace(r.dctx.VirtualNamespace(recorded.GetNamespace()))
	obj.SetName(recorded.GetName())
	key := client.ObjectKeyFromObject(obj)

	err := r.client.Delete(ctx, obj, client.PropagationPolicy(metav1.DeletePropagationBackground))
	switch {
	case err == nil:
		log.V(1).Info("deleted object", "kind", obj.GetKind(), "object", key.String())
		r.metrics.RecordReplay(ActionDeleted)
	case apierrors.IsNotFound(err):
		log.V(1).Info("object already gone", "kind", obj.GetKind(), "object", key.String())
		r.metrics.RecordReplay(ActionSkipped)
	default:
		return fmt.Errorf("failed to delete %s %s: %w", obj.GetKind(), key, err)
	}

	if r.dctx.Owners != nil {
		r.dctx.Owners.Invalidate(owners.Key{
			APIVersion: obj.GetAPIVersion(),
			Kind:       obj.GetKind(),
			Namespace:  key.Namespace,
			Name:       key.Name,
		})
	}
	return nil
}

func (r *Runner) ensureNamespace(ctx context.Context, name string, owner metav1.OwnerReference) error {
	if _, ok := r.namespaces[name]; ok {
		return nil
	}
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:            name,
			Labels:          map[string]string{simkubev1.SimulationLabel: r.dctx.Name},
			OwnerReferences: []metav1.OwnerReference{owner},
		},
	}
	if err := r.client.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create virtual namespace %q: %w", name, err)
	}
	r.namespaces[name] = struct{}{}
	return nil
}

// prepare returns a copy of a recorded object ready to be created in namespace ns.
func (r *Runner) prepare(recorded *unstructured.Unstructured, ns string, owner metav1.OwnerReference) *unstructured.Unstructured {
	obj := recorded.DeepCopy()
	origNS := obj.GetNamespace()

	obj.SetNamespace(ns)
	obj.SetResourceVersion("")
	obj.SetUID("")
	obj.SetGeneration(0)
	obj.SetCreationTimestamp(metav1.Time{})
	obj.SetManagedFields(nil)
	obj.SetOwnerReferences([]metav1.OwnerReference{owner})
	unstructured.RemoveNestedField(obj.Object, "status")

	annotations := obj.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[simkubev1.OrigNamespaceAnnotation] = origNS
	obj.SetAnnotations(annotations)

	labels := obj.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	labels[simkubev1.SimulationLabel] = r.dctx.Name
	obj.SetLabels(labels)

	// pods created from the template need the original namespace too
	if tmpl, ok, _ := unstructured.NestedMap(obj.Object, "spec", "template", "metadata"); ok || hasTemplate(obj) {
		if tmpl == nil {
			tmpl = map[string]interface{}{}
		}
		tmplAnnotations, _, _ := unstructured.NestedStringMap(tmpl, "annotations")
		if tmplAnnotations == nil {
			tmplAnnotations = map[string]string{}
		}
		tmplAnnotations[simkubev1.OrigNamespaceAnnotation] = origNS
		_ = unstructured.SetNestedStringMap(tmpl, tmplAnnotations, "annotations")
		_ = unstructured.SetNestedMap(obj.Object, tmpl, "spec", "template", "metadata")
	}

	return obj
}

func hasTemplate(obj *unstructured.Unstructured) bool {
	_, ok, _ := unstructured.NestedFieldNoCopy(obj.Object, "spec", "template")
	return ok
}
