package model

// Core domain and wire types shared by the store, dispatch and api packages.

// Job statuses. Only pending -> assigned is driven by the optimizer.
const (
	JobPending    = "pending"
	JobAssigned   = "assigned"
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobCancelled  = "cancelled"
)

// Technician statuses.
const (
	TechAvailable = "available"
	TechBusy      = "busy"
	TechOffDuty   = "off-duty"
)

type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// ClockWindow is a wall-clock interval within one day, "HH:MM" on both ends.
type ClockWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Job struct {
	ID               string       `json:"id"`
	CustomerID       string       `json:"customer_id"`
	ServiceType      string       `json:"service_type,omitempty"`
	Location         GeoPoint     `json:"location"`
	ScheduledDate    string       `json:"scheduled_date"`
	TimeWindow       *ClockWindow `json:"time_window,omitempty"`
	DurationMinutes  int          `json:"duration_minutes,omitempty"`
	SkillRequirement []string     `json:"skill_requirement,omitempty"`
	Priority         string       `json:"priority,omitempty"`
	Status           string       `json:"status"`
	TechnicianID     string       `json:"technician_id,omitempty"`

	EstimatedArrivalTime   string `json:"estimated_arrival_time,omitempty"`
	EstimatedDepartureTime string `json:"estimated_departure_time,omitempty"`
}

// WeeklySchedule maps a lower-case weekday name to its working hours.
// A nil entry marks the day off.
type WeeklySchedule map[string]*ClockWindow

type Technician struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Status          string         `json:"status"`
	Location        *GeoPoint      `json:"location,omitempty"`
	CurrentLocation *GeoPoint      `json:"current_location,omitempty"`
	WeeklySchedule  WeeklySchedule `json:"weekly_schedule,omitempty"`
	SkillSet        []string       `json:"skill_set,omitempty"`
}

// JobPatch is the assignment commit written back through the job store.
type JobPatch struct {
	TechnicianID           string `json:"technician_id"`
	Status                 string `json:"status"`
	EstimatedArrivalTime   string `json:"estimated_arrival_time"`
	EstimatedDepartureTime string `json:"estimated_departure_time"`
}

type OptimizeRequest struct {
	Date            string   `json:"date" validate:"required,datetime=2006-01-02"`
	TechnicianIDs   []string `json:"technician_ids,omitempty" validate:"omitempty,dive,required"`
	ConsiderTraffic *bool    `json:"consider_traffic,omitempty"`
	ConsiderWeather *bool    `json:"consider_weather,omitempty"`
}

// Traffic reports the consider_traffic flag, defaulting to true.
func (r OptimizeRequest) Traffic() bool { return r.ConsiderTraffic == nil || *r.ConsiderTraffic }

// Weather reports the consider_weather flag, defaulting to true.
func (r OptimizeRequest) Weather() bool { return r.ConsiderWeather == nil || *r.ConsiderWeather }

type RouteJob struct {
	JobID                  string   `json:"job_id"`
	CustomerID             string   `json:"customer_id"`
	ServiceType            string   `json:"service_type"`
	Priority               string   `json:"priority,omitempty"`
	Location               GeoPoint `json:"location"`
	EstimatedArrivalTime   string   `json:"estimated_arrival_time"`
	EstimatedDepartureTime string   `json:"estimated_departure_time"`
	EstimatedDuration      int      `json:"estimated_duration"`
}

type Route struct {
	TechnicianID   string     `json:"technician_id"`
	TechnicianName string     `json:"technician_name"`
	Jobs           []RouteJob `json:"jobs"`
}

type OptimizeMetrics struct {
	TotalJobs          int      `json:"total_jobs"`
	AssignedJobs       int      `json:"assigned_jobs"`
	UnassignedJobIDs   []string `json:"unassigned_job_ids,omitempty"`
	TotalTravelMinutes int      `json:"total_travel_minutes"`
}

type OptimizeResult struct {
	RunID           string          `json:"run_id"`
	Date            string          `json:"date"`
	ConsiderWeather bool            `json:"consider_weather"`
	Routes          []Route         `json:"optimized_routes"`
	Metrics         OptimizeMetrics `json:"metrics"`
}
