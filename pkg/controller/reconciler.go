package controller

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/config"
	"github.com/simkube-io/simkube/pkg/metrics"
)

// SimulationReconciler reconciles Simulation resources.
type SimulationReconciler struct {
	client.Client
	Log     logr.Logger
	Scheme  *runtime.Scheme
	Config  *config.Config
	Metrics *metrics.Collectors
}

// Reconcile handles a single Simulation reconciliation.
func (r *SimulationReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("simulation", req.Name)
	ctx = logr.NewContext(ctx, log)

	result, err := r.reconcile(ctx, req)
	switch {
	case err != nil:
		r.Metrics.RecordReconcile("error")
	case result.RequeueAfter > 0:
		r.Metrics.RecordReconcile("requeue")
	default:
		r.Metrics.RecordReconcile("await")
	}
	return result, err
}

func (r *SimulationReconciler) reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logr.FromContextOrDiscard(ctx)

	var sim simkubev1.Simulation
	if err := r.Get(ctx, req.NamespacedName, &sim); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	simCtx := NewSimulationContext(&sim, r.Config.Metrics.Namespace)

	// Handle deletion
	if !sim.DeletionTimestamp.IsZero() {
		if controllerutil.ContainsFinalizer(&sim, simkubev1.SimulationFinalizer) {
			r.Cleanup(ctx, simCtx)

			controllerutil.RemoveFinalizer(&sim, simkubev1.SimulationFinalizer)
			if err := r.Update(ctx, &sim); err != nil {
				return requeueOnConflict(err)
			}
		}
		return ctrl.Result{}, nil
	}

	if !controllerutil.ContainsFinalizer(&sim, simkubev1.SimulationFinalizer) {
		controllerutil.AddFinalizer(&sim, simkubev1.SimulationFinalizer)
		if err := r.Update(ctx, &sim); err != nil {
			return requeueOnConflict(err)
		}
	}

	root, err := r.ensureRoot(ctx, log, &sim, simCtx)
	if err != nil {
		return ctrl.Result{}, err
	}

	state, err := FetchDriverStatus(ctx, r, simCtx)
	if err != nil {
		return ctrl.Result{}, err
	}
	if sim.Status.State != state {
		log.Info("simulation state changed", "from", sim.Status.State, "to", state)
		sim.Status.State = state
		if err := r.Status().Update(ctx, &sim); err != nil {
			return requeueOnConflict(err)
		}
		r.Metrics.RecordStateTransition(string(state))
	}

	if state.IsTerminal() {
		return ctrl.Result{}, nil
	}
	return r.SetupDriver(ctx, &sim, simCtx, root)
}

func (r *SimulationReconciler) ensureRoot(ctx context.Context, log logr.Logger, sim *simkubev1.Simulation, simCtx *SimulationContext) (*simkubev1.SimulationRoot, error) {
	obj, _, err := r.ensure(ctx, log, buildSimulationRoot(sim, simCtx))
	if err != nil {
		return nil, err
	}
	root, ok := obj.(*simkubev1.SimulationRoot)
	if !ok {
		return nil, fmt.Errorf("unexpected root type %T", obj)
	}
	return root, nil
}

// requeueOnConflict returns a requeue result without error for conflict errors,
// allowing silent retry. Other errors are returned normally.
func requeueOnConflict(err error) (ctrl.Result, error) {
	if apierrors.IsConflict(err) {
		return ctrl.Result{Requeue: true}, nil
	}
	return ctrl.Result{}, err
}

// SetupWithManager sets up the controller with the Manager.
func (r *SimulationReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&simkubev1.Simulation{}).
		Owns(&batchv1.Job{}).
		Complete(r)
}
