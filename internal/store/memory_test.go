package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fielddispatch/internal/model"
)

func seedMemory() *Memory {
	m := NewMemory()
	m.AddJob(model.Job{ID: "j2", CustomerID: "c1", ScheduledDate: "2026-03-02"})
	m.AddJob(model.Job{ID: "j1", CustomerID: "c2", ScheduledDate: "2026-03-02"})
	m.AddJob(model.Job{ID: "j3", CustomerID: "c3", ScheduledDate: "2026-03-03"})
	m.AddJob(model.Job{ID: "j4", CustomerID: "c4", ScheduledDate: "2026-03-02", Status: model.JobCompleted})
	m.AddTechnician(model.Technician{ID: "t2", Name: "Bea"})
	m.AddTechnician(model.Technician{ID: "t1", Name: "Al"})
	m.AddTechnician(model.Technician{ID: "t3", Name: "Cy", Status: model.TechOffDuty})
	return m
}

func TestMemoryListPendingJobs(t *testing.T) {
	m := seedMemory()
	jobs, err := m.ListPendingJobs(context.Background(), "2026-03-02")
	if err != nil {
		t.Fatalf("ListPendingJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "j1" || jobs[1].ID != "j2" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	jobs, _ = m.ListPendingJobs(context.Background(), "2026-01-01")
	if jobs == nil || len(jobs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", jobs)
	}
}

func TestMemoryListAvailableTechnicians(t *testing.T) {
	m := seedMemory()
	all, _ := m.ListAvailableTechnicians(context.Background(), nil)
	if len(all) != 2 || all[0].ID != "t1" || all[1].ID != "t2" {
		t.Fatalf("unexpected technicians: %+v", all)
	}
	some, _ := m.ListAvailableTechnicians(context.Background(), []string{"t2", "t3", "nope", "t2"})
	if len(some) != 1 || some[0].ID != "t2" {
		t.Fatalf("expected only t2, got %+v", some)
	}
}

func TestMemoryUpdateJobOnlyWhilePending(t *testing.T) {
	m := seedMemory()
	ctx := context.Background()
	patch := model.JobPatch{TechnicianID: "t1", Status: model.JobAssigned, EstimatedArrivalTime: "09:10", EstimatedDepartureTime: "10:10"}
	ok, err := m.UpdateJob(ctx, "j1", patch)
	if err != nil || !ok {
		t.Fatalf("first update: ok=%v err=%v", ok, err)
	}
	j, _ := m.Job("j1")
	if j.Status != model.JobAssigned || j.TechnicianID != "t1" || j.EstimatedArrivalTime != "09:10" {
		t.Fatalf("patch not applied: %+v", j)
	}
	ok, err = m.UpdateJob(ctx, "j1", model.JobPatch{TechnicianID: "t2", Status: model.JobAssigned})
	if err != nil || ok {
		t.Fatalf("second update must be refused: ok=%v err=%v", ok, err)
	}
	if _, err := m.UpdateJob(ctx, "missing", patch); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if n := len(m.Updates()); n != 1 {
		t.Fatalf("want 1 recorded update, got %d", n)
	}
}

func TestMemoryConcurrentClaims(t *testing.T) {
	m := seedMemory()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _ := m.UpdateJob(context.Background(), "j2", model.JobPatch{TechnicianID: "t1", Status: model.JobAssigned})
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("exactly one claim must win, got %d", wins)
	}
}

func TestMemoryAssignsIDs(t *testing.T) {
	m := NewMemory()
	j := m.AddJob(model.Job{CustomerID: "c"})
	if j.ID == "" || j.Status != model.JobPending {
		t.Fatalf("defaults not applied: %+v", j)
	}
	tech := m.AddTechnician(model.Technician{Name: "x"})
	if tech.ID == "" || tech.Status != model.TechAvailable {
		t.Fatalf("defaults not applied: %+v", tech)
	}
	if err := m.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
