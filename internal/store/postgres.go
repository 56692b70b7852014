package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fielddispatch/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the jobs and technicians tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const jobColumns = `id, customer_id, COALESCE(service_type,''), lat, lng, COALESCE(address,''),
    to_char(scheduled_date, 'YYYY-MM-DD'), COALESCE(window_start,''), COALESCE(window_end,''),
    COALESCE(duration_minutes,0), array_to_string(required_skills, ','), COALESCE(priority,''), status,
    COALESCE(technician_id,''), COALESCE(estimated_arrival_time,''), COALESCE(estimated_departure_time,'')`

func (p *Postgres) ListPendingJobs(ctx context.Context, date string) ([]model.Job, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
        WHERE scheduled_date = $1::date AND status = $2 ORDER BY id`, date, model.JobPending)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()
	out := []model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// GetJob returns one job by id.
func (p *Postgres) GetJob(ctx context.Context, id string) (model.Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (model.Job, error) {
	var j model.Job
	var ws, we, skills string
	err := r.Scan(&j.ID, &j.CustomerID, &j.ServiceType, &j.Location.Lat, &j.Location.Lng, &j.Location.Address,
		&j.ScheduledDate, &ws, &we, &j.DurationMinutes, &skills, &j.Priority, &j.Status,
		&j.TechnicianID, &j.EstimatedArrivalTime, &j.EstimatedDepartureTime)
	if err != nil {
		return model.Job{}, err
	}
	if ws != "" && we != "" {
		j.TimeWindow = &model.ClockWindow{Start: ws, End: we}
	}
	j.SkillRequirement = splitSkills(skills)
	return j, nil
}

func (p *Postgres) ListAvailableTechnicians(ctx context.Context, ids []string) ([]model.Technician, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, status, home_lat, home_lng, COALESCE(home_address,''),
        current_lat, current_lng, weekly_schedule, array_to_string(skills, ',')
        FROM technicians
        WHERE status = $1 AND ($2::text[] IS NULL OR id = ANY($2::text[]))
        ORDER BY id`, model.TechAvailable, pqStringArray(ids))
	if err != nil {
		return nil, fmt.Errorf("list technicians: %w", err)
	}
	defer rows.Close()
	out := []model.Technician{}
	for rows.Next() {
		var t model.Technician
		var homeLat, homeLng, curLat, curLng sql.NullFloat64
		var addr, skills string
		var sched []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &homeLat, &homeLng, &addr, &curLat, &curLng, &sched, &skills); err != nil {
			return nil, err
		}
		if homeLat.Valid && homeLng.Valid {
			t.Location = &model.GeoPoint{Lat: homeLat.Float64, Lng: homeLng.Float64, Address: addr}
		}
		if curLat.Valid && curLng.Valid {
			t.CurrentLocation = &model.GeoPoint{Lat: curLat.Float64, Lng: curLng.Float64}
		}
		if len(sched) > 0 {
			if err := json.Unmarshal(sched, &t.WeeklySchedule); err != nil {
				return nil, fmt.Errorf("technician %s: weekly_schedule: %w", t.ID, err)
			}
		}
		t.SkillSet = splitSkills(skills)
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateJob only touches rows still pending, so a job claimed by a concurrent
// run is reported as not updated rather than reassigned.
func (p *Postgres) UpdateJob(ctx context.Context, jobID string, patch model.JobPatch) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE jobs SET technician_id=$2, status=$3,
        estimated_arrival_time=$4, estimated_departure_time=$5, updated_at=now()
        WHERE id=$1 AND status=$6`,
		jobID, nullIfEmpty(patch.TechnicianID), patch.Status,
		nullIfEmpty(patch.EstimatedArrivalTime), nullIfEmpty(patch.EstimatedDepartureTime), model.JobPending)
	if err != nil {
		return false, fmt.Errorf("update job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id=$1)`, jobID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return false, nil
}

// UpsertTechnician inserts or replaces a technician row.
func (p *Postgres) UpsertTechnician(ctx context.Context, t model.Technician) error {
	var homeLat, homeLng, curLat, curLng any
	var addr string
	if t.Location != nil {
		homeLat, homeLng, addr = t.Location.Lat, t.Location.Lng, t.Location.Address
	}
	if t.CurrentLocation != nil {
		curLat, curLng = t.CurrentLocation.Lat, t.CurrentLocation.Lng
	}
	var sched any
	if t.WeeklySchedule != nil {
		b, err := json.Marshal(t.WeeklySchedule)
		if err != nil {
			return err
		}
		sched = string(b)
	}
	status := t.Status
	if status == "" {
		status = model.TechAvailable
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO technicians
        (id, name, status, home_lat, home_lng, home_address, current_lat, current_lng, weekly_schedule, skills)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,COALESCE($10::text[],'{}'))
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, status=EXCLUDED.status,
            home_lat=EXCLUDED.home_lat, home_lng=EXCLUDED.home_lng, home_address=EXCLUDED.home_address,
            current_lat=EXCLUDED.current_lat, current_lng=EXCLUDED.current_lng,
            weekly_schedule=EXCLUDED.weekly_schedule, skills=EXCLUDED.skills`,
		t.ID, t.Name, status, homeLat, homeLng, nullIfEmpty(addr), curLat, curLng, sched, pqStringArray(t.SkillSet))
	return err
}

// UpsertJob inserts or replaces a job row.
func (p *Postgres) UpsertJob(ctx context.Context, j model.Job) error {
	var ws, we string
	if j.TimeWindow != nil {
		ws, we = j.TimeWindow.Start, j.TimeWindow.End
	}
	var dur any
	if j.DurationMinutes > 0 {
		dur = j.DurationMinutes
	}
	status := j.Status
	if status == "" {
		status = model.JobPending
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO jobs
        (id, customer_id, service_type, lat, lng, address, scheduled_date, window_start, window_end,
         duration_minutes, required_skills, priority, status, technician_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7::date,$8,$9,$10,COALESCE($11::text[],'{}'),$12,$13,$14)
        ON CONFLICT (id) DO UPDATE SET customer_id=EXCLUDED.customer_id, service_type=EXCLUDED.service_type,
            lat=EXCLUDED.lat, lng=EXCLUDED.lng, address=EXCLUDED.address, scheduled_date=EXCLUDED.scheduled_date,
            window_start=EXCLUDED.window_start, window_end=EXCLUDED.window_end,
            duration_minutes=EXCLUDED.duration_minutes, required_skills=EXCLUDED.required_skills,
            priority=EXCLUDED.priority, status=EXCLUDED.status, technician_id=EXCLUDED.technician_id,
            updated_at=now()`,
		j.ID, j.CustomerID, nullIfEmpty(j.ServiceType), j.Location.Lat, j.Location.Lng, nullIfEmpty(j.Location.Address),
		j.ScheduledDate, nullIfEmpty(ws), nullIfEmpty(we), dur, pqStringArray(j.SkillRequirement),
		nullIfEmpty(j.Priority), status, nullIfEmpty(j.TechnicianID))
	return err
}

func splitSkills(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// pqStringArray passes nil for an empty slice so SQL sees NULL rather than '{}'.
func pqStringArray(v []string) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
