package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fielddispatch/internal/model"
)

// JobUpdate records one applied assignment.
type JobUpdate struct {
	JobID string
	Patch model.JobPatch
	At    time.Time
}

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]model.Job        // id -> job
	techs   map[string]model.Technician // id -> technician
	updates []JobUpdate                 // applied patches in commit order
}

func NewMemory() *Memory {
	return &Memory{
		jobs:  map[string]model.Job{},
		techs: map[string]model.Technician{},
	}
}

// AddJob stores j, assigning an id and pending status when missing.
func (m *Memory) AddJob(j model.Job) model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	m.jobs[j.ID] = j
	return j
}

// AddTechnician stores t, assigning an id and available status when missing.
func (m *Memory) AddTechnician(t model.Technician) model.Technician {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = model.TechAvailable
	}
	m.techs[t.ID] = t
	return t
}

func (m *Memory) Job(id string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

// Updates returns a copy of the applied patches.
func (m *Memory) Updates() []JobUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]JobUpdate(nil), m.updates...)
}

func (m *Memory) ListPendingJobs(ctx context.Context, date string) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Job{}
	for _, j := range m.jobs {
		if j.ScheduledDate == date && j.Status == model.JobPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *Memory) ListAvailableTechnicians(ctx context.Context, ids []string) ([]model.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Technician{}
	if len(ids) == 0 {
		for _, t := range m.techs {
			if t.Status == model.TechAvailable {
				out = append(out, t)
			}
		}
		sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
		return out, nil
	}
	seen := map[string]bool{}
	for _, id := range ids {
		t, ok := m.techs[id]
		if !ok || seen[id] || t.Status != model.TechAvailable {
			continue
		}
		seen[id] = true
		out = append(out, t)
	}
	return out, nil
}

func (m *Memory) UpdateJob(ctx context.Context, jobID string, patch model.JobPatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if j.Status != model.JobPending {
		return false, nil
	}
	j.TechnicianID = patch.TechnicianID
	j.Status = patch.Status
	j.EstimatedArrivalTime = patch.EstimatedArrivalTime
	j.EstimatedDepartureTime = patch.EstimatedDepartureTime
	m.jobs[jobID] = j
	m.updates = append(m.updates, JobUpdate{JobID: jobID, Patch: patch, At: time.Now()})
	return true, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
