package store

import (
	"context"
	"errors"

	"fielddispatch/internal/model"
)

// JobSource lists the jobs waiting for a technician on one day.
type JobSource interface {
	ListPendingJobs(ctx context.Context, date string) ([]model.Job, error)
}

// TechnicianSource lists technicians that can take work. An empty ids slice
// means every available technician.
type TechnicianSource interface {
	ListAvailableTechnicians(ctx context.Context, ids []string) ([]model.Technician, error)
}

// JobStore commits assignments. UpdateJob applies the patch only while the job
// is still pending and reports whether it did.
type JobStore interface {
	UpdateJob(ctx context.Context, jobID string, patch model.JobPatch) (bool, error)
}

// Store is the persistence interface used by the dispatch service and API.
type Store interface {
	JobSource
	TechnicianSource
	JobStore
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")
