package controller

import (
	"context"

	"github.com/go-logr/logr"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/monitoring"
)

// Cleanup deletes the objects of a simulation that neither namespace deletion nor owner
// references remove. Failures are logged and otherwise ignored.
func (r *SimulationReconciler) Cleanup(ctx context.Context, simCtx *SimulationContext) {
	log := logr.FromContextOrDiscard(ctx)

	root := &simkubev1.SimulationRoot{ObjectMeta: metav1.ObjectMeta{Name: simCtx.RootName}}

	svcMon := monitoring.NewServiceMonitor()
	svcMon.SetName(simCtx.ServiceMonitorName)
	svcMon.SetNamespace(simCtx.MetricsNamespace)

	prom := monitoring.NewPrometheus()
	prom.SetName(simCtx.PrometheusName)
	prom.SetNamespace(simCtx.MetricsNamespace)

	for _, target := range []struct {
		kind string
		obj  client.Object
	}{
		{kind: "SimulationRoot", obj: root},
		{kind: "ServiceMonitor", obj: svcMon},
		{kind: "Prometheus", obj: prom},
	} {
		key := client.ObjectKeyFromObject(target.obj)
		err := r.Delete(ctx, target.obj, client.PropagationPolicy(metav1.DeletePropagationBackground))
		switch {
		case err == nil:
			log.Info("deleted "+target.kind, "name", key.String())
		case apierrors.IsNotFound(err):
			log.V(1).Info(target.kind+" already gone", "name", key.String())
		default:
			log.Error(err, "failed to delete "+target.kind, "name", key.String())
		}
	}
}
