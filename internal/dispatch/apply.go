package dispatch

import (
	"context"

	"go.uber.org/zap"

	"fielddispatch/internal/metrics"
	"fielddispatch/internal/model"
	"fielddispatch/internal/store"
)

// Applier commits route stops back to the job store.
type Applier struct {
	jobs store.JobStore
	log  *zap.Logger
}

func NewApplier(jobs store.JobStore, log *zap.Logger) *Applier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Applier{jobs: jobs, log: log}
}

// Apply marks every routed job assigned and returns the ids that were
// committed. A failed or refused update is logged and skipped; the rest still
// go through. Once started, Apply runs to completion even if ctx is cancelled.
func (a *Applier) Apply(ctx context.Context, routes []model.Route) []string {
	ctx = context.WithoutCancel(ctx)
	var done []string
	for _, r := range routes {
		for _, j := range r.Jobs {
			patch := model.JobPatch{
				TechnicianID:           r.TechnicianID,
				Status:                 model.JobAssigned,
				EstimatedArrivalTime:   j.EstimatedArrivalTime,
				EstimatedDepartureTime: j.EstimatedDepartureTime,
			}
			ok, err := a.jobs.UpdateJob(ctx, j.JobID, patch)
			if err != nil {
				a.log.Warn("job update failed", zap.String("job_id", j.JobID), zap.String("technician_id", r.TechnicianID), zap.Error(err))
				metrics.StoreUpdateFailures.Inc()
				continue
			}
			if !ok {
				a.log.Warn("job no longer pending, skipped", zap.String("job_id", j.JobID), zap.String("technician_id", r.TechnicianID))
				metrics.StoreUpdateFailures.Inc()
				continue
			}
			done = append(done, j.JobID)
		}
	}
	return done
}
