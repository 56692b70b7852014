package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fielddispatch/internal/distance"
	"fielddispatch/internal/model"
	"fielddispatch/internal/opt"
)

const (
	defaultWindowStart = 9 * 60
	defaultWindowEnd   = 17 * 60
	defaultDuration    = 60
	depotPrefix        = "depot:"
)

// MatrixSource prices every pair of locations in minutes.
type MatrixSource interface {
	Matrix(ctx context.Context, points []model.GeoPoint, opts distance.Options) ([][]int, error)
}

// Instance is an optimization problem plus the records behind its nodes and
// vehicles.
type Instance struct {
	Problem *opt.Problem // nil when no technician works that day
	Techs   []model.Technician
	Jobs    map[int]model.Job // node index -> job
	// Rejected lists jobs dropped for unusable data; they stay unassigned.
	Rejected []string
}

type Builder struct {
	distances MatrixSource
	log       *zap.Logger
}

func NewBuilder(distances MatrixSource, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{distances: distances, log: log}
}

// Weekday returns the lower-case English weekday of a YYYY-MM-DD date.
func Weekday(date string) (string, error) {
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return strings.ToLower(d.Weekday().String()), nil
}

// ShiftFor resolves a technician's working window for weekday. ok is false
// when the technician does not work that day: the schedule marks the day off
// or lists other days only. A technician without any schedule works the
// default 09:00-17:00.
func ShiftFor(t model.Technician, weekday string) (w opt.TimeWindow, ok bool, err error) {
	if len(t.WeeklySchedule) == 0 {
		return opt.TimeWindow{Start: defaultWindowStart, End: defaultWindowEnd}, true, nil
	}
	cw, present := t.WeeklySchedule[weekday]
	if !present || cw == nil {
		return opt.TimeWindow{}, false, nil
	}
	w, err = clockWindow(*cw)
	return w, err == nil, err
}

// JobWindow resolves a job's time window and service duration, applying the
// 09:00-17:00 and 60 minute defaults.
func JobWindow(j model.Job) (opt.TimeWindow, int, error) {
	w := opt.TimeWindow{Start: defaultWindowStart, End: defaultWindowEnd}
	if j.TimeWindow != nil {
		var err error
		if w, err = clockWindow(*j.TimeWindow); err != nil {
			return opt.TimeWindow{}, 0, err
		}
	}
	d := j.DurationMinutes
	if d <= 0 {
		d = defaultDuration
	}
	return w, d, nil
}

func clockWindow(cw model.ClockWindow) (opt.TimeWindow, error) {
	s, err := model.ParseClock(cw.Start)
	if err != nil {
		return opt.TimeWindow{}, err
	}
	e, err := model.ParseClock(cw.End)
	if err != nil {
		return opt.TimeWindow{}, err
	}
	if e < s {
		return opt.TimeWindow{}, fmt.Errorf("window %s-%s ends before it starts", cw.Start, cw.End)
	}
	return opt.TimeWindow{Start: s, End: e}, nil
}

// StartLocation is where a technician begins the day: the live position when
// known, otherwise home. ok is false when neither is set.
func StartLocation(t model.Technician) (model.GeoPoint, bool) {
	if t.CurrentLocation != nil {
		return *t.CurrentLocation, true
	}
	if t.Location != nil {
		return *t.Location, true
	}
	return model.GeoPoint{}, false
}

// Assemble turns jobs and technicians into a solver instance for date.
// Technicians off that day are left out entirely. Node order is technician
// depots first, then jobs, matching the matrix rows.
func (b *Builder) Assemble(ctx context.Context, jobs []model.Job, techs []model.Technician, date string, opts distance.Options) (*Instance, error) {
	weekday, err := Weekday(date)
	if err != nil {
		return nil, err
	}
	inst := &Instance{Jobs: map[int]model.Job{}}

	var nodes []opt.Node
	var vehicles []opt.Vehicle
	var points []model.GeoPoint
	for _, t := range techs {
		shift, ok, err := ShiftFor(t, weekday)
		if err != nil {
			b.log.Warn("technician schedule unusable, skipping", zap.String("technician_id", t.ID), zap.Error(err))
			continue
		}
		if !ok {
			b.log.Debug("technician off", zap.String("technician_id", t.ID), zap.String("weekday", weekday))
			continue
		}
		loc, ok := StartLocation(t)
		if !ok {
			b.log.Warn("technician has no location, starting at 0,0", zap.String("technician_id", t.ID))
		}
		vehicles = append(vehicles, opt.Vehicle{ID: t.ID, StartNode: len(nodes), Skills: t.SkillSet, Shift: shift})
		nodes = append(nodes, opt.Node{ID: depotPrefix + t.ID, Kind: opt.KindDepot, Lat: loc.Lat, Lng: loc.Lng, Window: shift})
		points = append(points, loc)
		inst.Techs = append(inst.Techs, t)
	}
	if len(vehicles) == 0 {
		return inst, nil
	}

	for _, j := range jobs {
		w, d, err := JobWindow(j)
		if err != nil {
			b.log.Warn("job window unusable, leaving unassigned", zap.String("job_id", j.ID), zap.Error(err))
			inst.Rejected = append(inst.Rejected, j.ID)
			continue
		}
		inst.Jobs[len(nodes)] = j
		nodes = append(nodes, opt.Node{
			ID:         j.ID,
			Kind:       opt.KindJob,
			Lat:        j.Location.Lat,
			Lng:        j.Location.Lng,
			ServiceMin: d,
			Window:     w,
			Skills:     j.SkillRequirement,
		})
		points = append(points, j.Location)
	}

	matrix, err := b.distances.Matrix(ctx, points, opts)
	if err != nil {
		return nil, fmt.Errorf("distance matrix: %w", err)
	}
	p, err := opt.NewProblem(nodes, vehicles, matrix)
	if err != nil {
		return nil, fmt.Errorf("build problem: %w", err)
	}
	inst.Problem = p
	return inst, nil
}
