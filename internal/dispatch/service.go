package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fielddispatch/internal/distance"
	"fielddispatch/internal/events"
	"fielddispatch/internal/metrics"
	"fielddispatch/internal/model"
	"fielddispatch/internal/opt"
	"fielddispatch/internal/store"
)

// Service runs optimize requests end to end: load, build, solve, extract,
// commit and announce.
type Service struct {
	store     store.Store
	builder   *Builder
	applier   *Applier
	locker    Locker
	publisher events.Publisher
	solverCfg opt.Config
	log       *zap.Logger
}

type Option func(*Service)

// WithLocker replaces the in-process per-date lock.
func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

// WithPublisher sets where routes.optimized events go.
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithSolverConfig(cfg opt.Config) Option { return func(s *Service) { s.solverCfg = cfg } }

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(st store.Store, distances MatrixSource, opts ...Option) *Service {
	s := &Service{
		store:     st,
		locker:    NewLocalLocker(),
		solverCfg: opt.DefaultConfig(),
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.builder = NewBuilder(distances, s.log)
	s.applier = NewApplier(st, s.log)
	return s
}

// Optimize assigns the pending jobs of req.Date to technicians. Only a bad
// request returns an *InputError; unroutable jobs, lookup failures and
// refused updates all end up in the result. Runs for the same date are
// serialized.
func (s *Service) Optimize(ctx context.Context, req model.OptimizeRequest) (res model.OptimizeResult, err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = "error"
			var ie *InputError
			if errors.As(err, &ie) {
				outcome = "invalid"
			}
		}
		metrics.OptimizeRuns.WithLabelValues(outcome).Inc()
		metrics.OptimizeDuration.Observe(time.Since(start).Seconds())
	}()

	if req.Date == "" {
		return res, &InputError{Field: "date", Reason: "required", Err: ErrInvalidDate}
	}
	if _, err := Weekday(req.Date); err != nil {
		return res, &InputError{Field: "date", Reason: "must be YYYY-MM-DD", Err: err}
	}

	res = model.OptimizeResult{
		RunID:           uuid.NewString(),
		Date:            req.Date,
		ConsiderWeather: req.Weather(),
		Routes:          []model.Route{},
	}
	log := s.log.With(zap.String("run_id", res.RunID), zap.String("date", req.Date))

	unlock, err := s.locker.Lock(ctx, req.Date)
	if err != nil {
		return res, fmt.Errorf("lock %s: %w", req.Date, err)
	}
	defer unlock()

	jobs, err := s.store.ListPendingJobs(ctx, req.Date)
	if err != nil {
		return res, fmt.Errorf("list jobs: %w", err)
	}
	res.Metrics.TotalJobs = len(jobs)
	if len(jobs) == 0 {
		outcome = "empty"
		log.Info("no pending jobs")
		return res, nil
	}
	techs, err := s.store.ListAvailableTechnicians(ctx, req.TechnicianIDs)
	if err != nil {
		return res, fmt.Errorf("list technicians: %w", err)
	}

	inst, err := s.builder.Assemble(ctx, jobs, techs, req.Date, distance.Options{ConsiderTraffic: req.Traffic()})
	if err != nil {
		return res, err
	}
	if inst.Problem == nil {
		outcome = "empty"
		for _, j := range jobs {
			res.Metrics.UnassignedJobIDs = append(res.Metrics.UnassignedJobIDs, j.ID)
		}
		metrics.JobsUnassigned.Add(float64(len(jobs)))
		log.Info("no technician working", zap.Int("jobs", len(jobs)), zap.Int("technicians", len(techs)))
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	solver := opt.NewSolver(s.solverCfg, log)
	sol, sm := solver.Solve(ctx, inst.Problem)
	metrics.SolverPhaseDuration.WithLabelValues(opt.PhaseConstructing.String()).Observe(sm.ConstructTime.Seconds())
	metrics.SolverPhaseDuration.WithLabelValues(opt.PhaseImproving.String()).Observe(sm.ImproveTime.Seconds())
	if err := sol.Validate(inst.Problem); err != nil {
		log.Error("solver produced an invalid plan", zap.Error(err))
		return res, fmt.Errorf("validate solution: %w", err)
	}

	routes := Extract(inst, sol)
	// last point where the run can be abandoned without side effects
	if err := ctx.Err(); err != nil {
		return res, err
	}
	committed := s.applier.Apply(ctx, routes)

	done := make(map[string]bool, len(committed))
	for _, id := range committed {
		done[id] = true
	}
	res.Routes = routes
	res.Metrics.AssignedJobs = len(committed)
	res.Metrics.TotalTravelMinutes = sol.TotalTravel
	for _, j := range jobs {
		if !done[j.ID] {
			res.Metrics.UnassignedJobIDs = append(res.Metrics.UnassignedJobIDs, j.ID)
		}
	}
	metrics.JobsAssigned.Add(float64(len(committed)))
	metrics.JobsUnassigned.Add(float64(len(res.Metrics.UnassignedJobIDs)))

	if s.publisher != nil {
		evt := events.New(events.TypeRoutesOptimized, map[string]any{
			"run_id":         res.RunID,
			"date":           req.Date,
			"total_jobs":     res.Metrics.TotalJobs,
			"assigned_jobs":  res.Metrics.AssignedJobs,
			"routes":         len(routes),
			"travel_minutes": sol.TotalTravel,
		})
		if err := s.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
			log.Warn("publish event failed", zap.Error(err))
		}
	}

	log.Info("routes optimized",
		zap.Int("jobs", len(jobs)),
		zap.Int("technicians", len(inst.Techs)),
		zap.Int("assigned", len(committed)),
		zap.Int("travel_minutes", sol.TotalTravel),
		zap.Int("evaluations", sm.MoveEvaluations),
		zap.String("stop", string(sm.Stop)),
		zap.Bool("consider_weather", req.Weather()))
	return res, nil
}
