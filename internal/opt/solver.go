package opt

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config bounds the improving phase. Whichever of TimeBudget and MaxMoves
// triggers first ends the search.
type Config struct {
	TimeBudget    time.Duration
	MaxMoves      int     // move evaluations; 0 means unlimited
	Seed          int64   // 0 selects a fixed default seed
	Guided        bool    // penalize edges at local optima instead of stopping
	PenaltyFactor float64 // lambda = PenaltyFactor * average edge travel
	CheckEvery    int     // evaluations between clock and context checks
}

// DefaultConfig caps a run at 200000 move evaluations, which ends guided
// search in well under a second for a few hundred jobs. TimeBudget is only a
// ceiling for instances large enough that the cap takes longer than 30s;
// raise MaxMoves (or set it to 0) to let the clock bound the search instead.
func DefaultConfig() Config {
	return Config{
		TimeBudget:    30 * time.Second,
		MaxMoves:      200000,
		Seed:          1,
		Guided:        true,
		PenaltyFactor: 0.3,
		CheckEvery:    128,
	}
}

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConstructing
	PhaseImproving
	PhaseFinalized
)

func (ph Phase) String() string {
	switch ph {
	case PhaseConstructing:
		return "constructing"
	case PhaseImproving:
		return "improving"
	case PhaseFinalized:
		return "finalized"
	default:
		return "idle"
	}
}

type StopReason string

const (
	StopLocalOptimum  StopReason = "local_optimum"
	StopTimeBudget    StopReason = "time_budget"
	StopMoveBudget    StopReason = "move_budget"
	StopCancelled     StopReason = "cancelled"
	StopNothingRouted StopReason = "nothing_routed"
)

type Metrics struct {
	Seed            int64
	Constructed     int // jobs routed by the construction phase
	MoveEvaluations int
	Improvements    int
	LocalOptima     int
	Penalties       int
	BestTravel      int
	BestUnassigned  int
	ConstructTime   time.Duration
	ImproveTime     time.Duration
	Stop            StopReason
	TimedOut        bool
}

// Solver runs one construction plus local search. A Solver is meant for a
// single Solve call; Phase may be read from other goroutines.
type Solver struct {
	cfg   Config
	log   *zap.Logger
	phase atomic.Int32
}

func NewSolver(cfg Config, log *zap.Logger) *Solver {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = 128
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.TimeBudget <= 0 && cfg.MaxMoves <= 0 {
		// unbounded guided search never terminates
		cfg.Guided = false
	}
	return &Solver{cfg: cfg, log: log}
}

func (s *Solver) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Solver) setPhase(ph Phase) {
	s.phase.Store(int32(ph))
	s.log.Debug("solver phase", zap.Stringer("phase", ph))
}

// Solve never fails: jobs that cannot be placed feasibly are reported in
// Solution.Unassigned. Cancelling ctx ends the improving phase early and the
// best plan seen so far is returned.
func (s *Solver) Solve(ctx context.Context, p *Problem) (Solution, Metrics) {
	m := Metrics{Seed: s.cfg.Seed}
	defer s.setPhase(PhaseFinalized)

	s.setPhase(PhaseConstructing)
	t0 := time.Now()
	cur := p.construct()
	m.ConstructTime = time.Since(t0)
	m.Constructed = len(p.jobs) - len(cur.unassigned)
	if m.Constructed == 0 {
		m.Stop = StopNothingRouted
		m.BestUnassigned = len(p.jobs)
		return p.solution(cur), m
	}

	s.setPhase(PhaseImproving)
	t1 := time.Now()
	b := &budget{ctx: ctx, maxMoves: s.cfg.MaxMoves, checkEvery: s.cfg.CheckEvery}
	if s.cfg.TimeBudget > 0 {
		b.deadline = t1.Add(s.cfg.TimeBudget)
	}
	sr := newSearcher(p, s.cfg, cur, b, &m)
	sr.run()
	m.ImproveTime = time.Since(t1)
	m.MoveEvaluations = b.used
	m.Stop = b.reason
	if m.Stop == "" {
		m.Stop = StopLocalOptimum
	}
	m.TimedOut = m.Stop == StopTimeBudget
	m.BestTravel = sr.bestObj.Travel
	m.BestUnassigned = sr.bestObj.Unassigned
	s.log.Debug("solver finished",
		zap.Int("constructed", m.Constructed),
		zap.Int("unassigned", m.BestUnassigned),
		zap.Int("travel", m.BestTravel),
		zap.Int("evaluations", m.MoveEvaluations),
		zap.String("stop", string(m.Stop)))
	return p.solution(sr.best), m
}

type budget struct {
	ctx        context.Context
	deadline   time.Time
	maxMoves   int
	checkEvery int
	used       int
	reason     StopReason
}

// spend records one move evaluation and reports whether the search must stop.
func (b *budget) spend() bool {
	if b.reason != "" {
		return true
	}
	if b.maxMoves > 0 && b.used >= b.maxMoves {
		b.reason = StopMoveBudget
		return true
	}
	b.used++
	if b.used%b.checkEvery == 0 {
		return b.check()
	}
	return false
}

func (b *budget) check() bool {
	if b.reason != "" {
		return true
	}
	if b.ctx.Err() != nil {
		b.reason = StopCancelled
		return true
	}
	if !b.deadline.IsZero() && !time.Now().Before(b.deadline) {
		b.reason = StopTimeBudget
		return true
	}
	return false
}

func newRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }
