package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pt struct{ x, y float64 }

func gridMatrix(pts []pt) [][]int {
	m := make([][]int, len(pts))
	for i := range pts {
		m[i] = make([]int, len(pts))
		for j := range pts {
			m[i][j] = int(math.Round(math.Hypot(pts[i].x-pts[j].x, pts[i].y-pts[j].y)))
		}
	}
	return m
}

func depot(id string, shift TimeWindow) Node {
	return Node{ID: id, Kind: KindDepot, Window: shift}
}

func job(id string, start, end, svc int, skills ...string) Node {
	return Node{ID: id, Kind: KindJob, ServiceMin: svc, Window: TimeWindow{start, end}, Skills: skills}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeBudget = 0
	cfg.MaxMoves = 20000
	return cfg
}

func randomProblem(t *testing.T, seed int64, jobs, vehicles int) *Problem {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	shift := TimeWindow{8 * 60, 17 * 60}
	var nodes []Node
	var pts []pt
	var vs []Vehicle
	for v := 0; v < vehicles; v++ {
		nodes = append(nodes, depot(fmt.Sprintf("depot-%d", v), shift))
		pts = append(pts, pt{rng.Float64() * 40, rng.Float64() * 40})
		vs = append(vs, Vehicle{ID: fmt.Sprintf("v%d", v), StartNode: v, Shift: shift})
	}
	for j := 0; j < jobs; j++ {
		start := 8*60 + rng.Intn(7)*60
		nodes = append(nodes, job(fmt.Sprintf("job-%02d", j), start, start+60+rng.Intn(180), 15+rng.Intn(30)))
		pts = append(pts, pt{rng.Float64() * 40, rng.Float64() * 40})
	}
	p, err := NewProblem(nodes, vs, gridMatrix(pts))
	require.NoError(t, err)
	return p
}

func TestScenarioTwoWindowsOneTechnician(t *testing.T) {
	nodes := []Node{
		depot("tech-1", TimeWindow{540, 1020}),
		job("job-b", 840, 900, 30),
		job("job-a", 540, 600, 30),
	}
	m := [][]int{
		{0, 20, 10},
		{20, 0, 10},
		{10, 10, 0},
	}
	p, err := NewProblem(nodes, []Vehicle{{ID: "tech-1", StartNode: 0, Shift: TimeWindow{540, 1020}}}, m)
	require.NoError(t, err)

	sol, _ := NewSolver(testConfig(), nil).Solve(context.Background(), p)
	require.NoError(t, sol.Validate(p))
	require.Len(t, sol.Routes, 1)
	stops := sol.Routes[0].Jobs()
	require.Len(t, stops, 2)
	assert.Equal(t, "job-a", stops[0].NodeID)
	assert.Equal(t, 550, stops[0].Arrival)
	assert.Equal(t, 580, stops[0].Departure)
	assert.Equal(t, "job-b", stops[1].NodeID)
	assert.Equal(t, 840, stops[1].Arrival, "waits for the window to open")
	assert.Equal(t, 870, stops[1].Departure)
	assert.Empty(t, sol.Unassigned)
	assert.Equal(t, 2, sol.Assigned())
	assert.Equal(t, 20, sol.TotalTravel)
	assert.Equal(t, 870, sol.Completion)
}

func TestScenarioInfeasibleWindow(t *testing.T) {
	shift := TimeWindow{540, 585}
	nodes := []Node{depot("tech-1", shift), job("job-1", 540, 570, 60)}
	p, err := NewProblem(nodes, []Vehicle{{ID: "tech-1", StartNode: 0, Shift: shift}}, [][]int{{0, 0}, {0, 0}})
	require.NoError(t, err)

	s := NewSolver(testConfig(), nil)
	sol, m := s.Solve(context.Background(), p)
	assert.Empty(t, sol.Routes)
	assert.Equal(t, []string{"job-1"}, sol.Unassigned)
	assert.Equal(t, 0, sol.Assigned())
	assert.Equal(t, StopNothingRouted, m.Stop)
	assert.Equal(t, PhaseFinalized, s.Phase())
	require.NoError(t, sol.Validate(p))
}

func TestShiftBoundLimitsRoute(t *testing.T) {
	shift := TimeWindow{540, 660}
	nodes := []Node{
		depot("d", shift),
		job("a", 540, 1020, 60),
		job("b", 540, 1020, 60),
	}
	p, err := NewProblem(nodes, []Vehicle{{ID: "v", StartNode: 0, Shift: shift}}, [][]int{{0, 5, 5}, {5, 0, 5}, {5, 5, 0}})
	require.NoError(t, err)

	sol, _ := NewSolver(testConfig(), nil).Solve(context.Background(), p)
	require.NoError(t, sol.Validate(p))
	assert.Equal(t, 1, sol.Assigned())
	assert.Equal(t, []string{"b"}, sol.Unassigned, "ties resolve by ascending node id")
}

func TestSkillsRestrictVehicles(t *testing.T) {
	shift := TimeWindow{480, 1020}
	nodes := []Node{
		depot("d1", shift),
		depot("d2", shift),
		job("plumbing", 480, 1020, 30, "plumbing"),
		job("hvac", 480, 1020, 30, "hvac", "electrical"),
		job("any", 480, 1020, 30),
	}
	pts := []pt{{0, 0}, {100, 0}, {1, 0}, {2, 0}, {99, 0}}
	vs := []Vehicle{
		{ID: "near", StartNode: 0, Shift: shift, Skills: []string{"plumbing"}},
		{ID: "far", StartNode: 1, Shift: shift, Skills: []string{"hvac", "electrical", "plumbing"}},
	}
	p, err := NewProblem(nodes, vs, gridMatrix(pts))
	require.NoError(t, err)
	assert.True(t, p.CanServe(0, 2))
	assert.False(t, p.CanServe(0, 3))
	assert.True(t, p.CanServe(1, 4))

	sol, _ := NewSolver(testConfig(), nil).Solve(context.Background(), p)
	require.NoError(t, sol.Validate(p))
	assert.Equal(t, 3, sol.Assigned())
	for _, r := range sol.Routes {
		for _, st := range r.Jobs() {
			if st.NodeID == "hvac" {
				assert.Equal(t, "far", r.VehicleID)
			}
		}
	}
}

func TestSortByNodeIDIsStable(t *testing.T) {
	nodes := []Node{{ID: "c"}, {ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "c"}}
	idx := []int{0, 1, 2, 3, 4}
	sortByNodeID(idx, nodes)
	assert.Equal(t, []int{1, 3, 2, 0, 4}, idx)
}

func TestCoversSkills(t *testing.T) {
	assert.True(t, CoversSkills(nil, nil))
	assert.True(t, CoversSkills([]string{"a"}, nil))
	assert.True(t, CoversSkills([]string{"a", "b"}, []string{"b"}))
	assert.False(t, CoversSkills([]string{"a"}, []string{"a", "b"}))
	assert.False(t, CoversSkills(nil, []string{"a"}))
}

func TestSolutionInvariantsRandomInstances(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		p := randomProblem(t, seed, 30, 3)
		start := p.score(p.construct())

		sol, m := NewSolver(testConfig(), nil).Solve(context.Background(), p)
		require.NoError(t, sol.Validate(p), "seed %d", seed)
		got := objective{Unassigned: len(sol.Unassigned), Travel: sol.TotalTravel, Completion: sol.Completion}
		assert.False(t, start.better(got), "seed %d: search made the plan worse", seed)
		assert.LessOrEqual(t, m.MoveEvaluations, 20000)
		assert.Equal(t, len(sol.Unassigned), m.BestUnassigned)
	}
}

func TestSolveDeterministicWithSeed(t *testing.T) {
	p := randomProblem(t, 42, 25, 3)
	cfg := testConfig()
	cfg.Seed = 99
	a, ma := NewSolver(cfg, nil).Solve(context.Background(), p)
	b, mb := NewSolver(cfg, nil).Solve(context.Background(), p)
	assert.Equal(t, a, b)
	assert.Equal(t, ma.MoveEvaluations, mb.MoveEvaluations)
}

func TestMoveBudgetStopsSearch(t *testing.T) {
	p := randomProblem(t, 3, 30, 3)
	cfg := testConfig()
	cfg.MaxMoves = 10
	sol, m := NewSolver(cfg, nil).Solve(context.Background(), p)
	require.NoError(t, sol.Validate(p))
	assert.Equal(t, StopMoveBudget, m.Stop)
	assert.Equal(t, 10, m.MoveEvaluations)
	assert.False(t, m.TimedOut)
}

func TestDefaultConfigEndsOnMoveCap(t *testing.T) {
	p := randomProblem(t, 11, 40, 4)
	cfg := DefaultConfig()
	start := time.Now()
	sol, m := NewSolver(cfg, nil).Solve(context.Background(), p)
	require.NoError(t, sol.Validate(p))
	assert.Equal(t, StopMoveBudget, m.Stop)
	assert.Equal(t, cfg.MaxMoves, m.MoveEvaluations)
	assert.Less(t, time.Since(start), cfg.TimeBudget)
}

func TestTimeBudgetStopsSearch(t *testing.T) {
	p := randomProblem(t, 4, 40, 4)
	cfg := testConfig()
	cfg.MaxMoves = 0
	cfg.TimeBudget = 50 * time.Millisecond
	cfg.CheckEvery = 1
	start := time.Now()
	sol, m := NewSolver(cfg, nil).Solve(context.Background(), p)
	require.NoError(t, sol.Validate(p))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, m.TimedOut)
	assert.Equal(t, StopTimeBudget, m.Stop)
}

func TestCancelledContextReturnsConstruction(t *testing.T) {
	p := randomProblem(t, 5, 20, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sol, m := NewSolver(testConfig(), nil).Solve(ctx, p)
	require.NoError(t, sol.Validate(p))
	assert.Equal(t, StopCancelled, m.Stop)
	assert.Zero(t, m.MoveEvaluations)
	assert.Equal(t, m.Constructed, sol.Assigned())
}

func TestPlainDescentStopsAtLocalOptimum(t *testing.T) {
	p := randomProblem(t, 6, 15, 2)
	cfg := testConfig()
	cfg.Guided = false
	cfg.MaxMoves = 0
	_, m := NewSolver(cfg, nil).Solve(context.Background(), p)
	assert.Equal(t, StopLocalOptimum, m.Stop)
	assert.Equal(t, 1, m.LocalOptima)
	assert.Zero(t, m.Penalties)
}

func TestDescentReordersRoute(t *testing.T) {
	shift := TimeWindow{0, 1000}
	nodes := []Node{depot("d", shift), job("a", 0, 1000, 0), job("b", 0, 1000, 0)}
	p, err := NewProblem(nodes, []Vehicle{{ID: "v", StartNode: 0, Shift: shift}}, gridMatrix([]pt{{0, 0}, {10, 0}, {20, 0}}))
	require.NoError(t, err)

	pl := newPlan(p)
	pl.routes[0] = []int{2, 1}
	pl.travel[0] = p.travel(0, pl.routes[0])
	pl.unassigned = nil
	require.Equal(t, 30, pl.travel[0])

	cfg := testConfig()
	cfg.Guided = false
	var m Metrics
	s := newSearcher(p, cfg, pl, &budget{ctx: context.Background(), maxMoves: 100, checkEvery: 8}, &m)
	s.run()
	assert.Equal(t, []int{1, 2}, s.best.routes[0])
	assert.Equal(t, 20, s.bestObj.Travel)
	assert.Positive(t, m.Improvements)
}

func TestEmptyInputs(t *testing.T) {
	shift := TimeWindow{540, 1020}
	p, err := NewProblem([]Node{depot("d", shift)}, []Vehicle{{ID: "v", StartNode: 0, Shift: shift}}, [][]int{{0}})
	require.NoError(t, err)
	sol, _ := NewSolver(testConfig(), nil).Solve(context.Background(), p)
	assert.Empty(t, sol.Routes)
	assert.Empty(t, sol.Unassigned)

	p, err = NewProblem([]Node{job("j", 540, 600, 10)}, nil, [][]int{{0}})
	require.NoError(t, err)
	sol, _ = NewSolver(testConfig(), nil).Solve(context.Background(), p)
	assert.Empty(t, sol.Routes)
	assert.Equal(t, []string{"j"}, sol.Unassigned)
}

func TestNewProblemRejectsBadInstances(t *testing.T) {
	shift := TimeWindow{540, 1020}
	nodes := []Node{depot("d", shift), job("j", 540, 600, 10)}
	vs := []Vehicle{{ID: "v", StartNode: 0, Shift: shift}}

	_, err := NewProblem(nodes, vs, nil)
	assert.ErrorIs(t, err, ErrEmptyMatrix)
	_, err = NewProblem(nodes, vs, [][]int{{0, 1}, {2, 0}})
	assert.ErrorContains(t, err, "symmetric")
	_, err = NewProblem(nodes, vs, [][]int{{1, 1}, {1, 0}})
	assert.ErrorContains(t, err, "diagonal")
	_, err = NewProblem(nodes, vs, [][]int{{0, -1}, {-1, 0}})
	assert.ErrorContains(t, err, "negative")
	_, err = NewProblem(nodes, []Vehicle{{ID: "v", StartNode: 1, Shift: shift}}, [][]int{{0, 1}, {1, 0}})
	assert.ErrorContains(t, err, "not a depot")
	_, err = NewProblem([]Node{depot("d", shift), job("j", 600, 540, 10)}, vs, [][]int{{0, 1}, {1, 0}})
	assert.ErrorContains(t, err, "window")
}

func TestValidateCatchesBrokenSolution(t *testing.T) {
	p := randomProblem(t, 8, 10, 2)
	sol, _ := NewSolver(testConfig(), nil).Solve(context.Background(), p)
	require.NoError(t, sol.Validate(p))
	require.NotZero(t, sol.Assigned())

	broken := sol
	broken.TotalTravel++
	assert.ErrorIs(t, broken.Validate(p), ErrInvalidSolution)

	for ri, r := range sol.Routes {
		if len(r.Jobs()) == 0 {
			continue
		}
		dup := Solution{Routes: append([]Route(nil), sol.Routes...), Unassigned: sol.Unassigned, TotalTravel: sol.TotalTravel, Completion: sol.Completion}
		stops := append([]Stop(nil), r.Stops...)
		stops[1].Arrival--
		dup.Routes[ri].Stops = stops
		assert.ErrorIs(t, dup.Validate(p), ErrInvalidSolution)
		break
	}
}

func TestPhaseString(t *testing.T) {
	s := NewSolver(DefaultConfig(), nil)
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "constructing", PhaseConstructing.String())
	assert.Equal(t, "improving", PhaseImproving.String())
	assert.Equal(t, "finalized", PhaseFinalized.String())
}
