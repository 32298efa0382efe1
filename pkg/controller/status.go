package controller

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
)

// jobConditionCompleted is accepted alongside batch/v1's Complete.
const jobConditionCompleted batchv1.JobConditionType = "Completed"

// FetchDriverStatus reads the driver Job and derives the Simulation state from it.
func FetchDriverStatus(ctx context.Context, c client.Reader, simCtx *SimulationContext) (simkubev1.SimulationState, error) {
	var job batchv1.Job
	err := c.Get(ctx, client.ObjectKey{Namespace: simCtx.DriverNamespace, Name: simCtx.DriverName}, &job)
	if apierrors.IsNotFound(err) {
		return JobState(nil), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get driver job: %w", err)
	}
	return JobState(&job), nil
}

// JobState maps a driver Job to a Simulation state. A nil job has not been created yet.
// Failed outranks finished which outranks running, independent of condition order; a job
// without any recognized condition has started and counts as running.
func JobState(job *batchv1.Job) simkubev1.SimulationState {
	if job == nil {
		return simkubev1.SimulationInitializing
	}

	var failed, finished bool
	for _, cond := range job.Status.Conditions {
		switch cond.Type {
		case batchv1.JobFailed:
			failed = true
		case batchv1.JobComplete, jobConditionCompleted:
			finished = true
		}
	}

	switch {
	case failed:
		return simkubev1.SimulationFailed
	case finished:
		return simkubev1.SimulationFinished
	default:
		return simkubev1.SimulationRunning
	}
}
