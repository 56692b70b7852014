package opt

import "math"

// plan is the mutable search state: one job sequence per vehicle (depot
// excluded) plus the jobs no route holds.
type plan struct {
	routes     [][]int
	travel     []int
	unassigned []int // node indices in ascending node id order
}

func newPlan(p *Problem) *plan {
	return &plan{
		routes:     make([][]int, len(p.Vehicles)),
		travel:     make([]int, len(p.Vehicles)),
		unassigned: p.JobNodes(),
	}
}

func (pl *plan) clone() *plan {
	out := &plan{
		routes:     make([][]int, len(pl.routes)),
		travel:     append([]int(nil), pl.travel...),
		unassigned: append([]int(nil), pl.unassigned...),
	}
	for i, r := range pl.routes {
		out.routes[i] = append([]int(nil), r...)
	}
	return out
}

func (pl *plan) totalTravel() int {
	t := 0
	for _, x := range pl.travel {
		t += x
	}
	return t
}

func (pl *plan) dropUnassigned(n int) {
	for i, u := range pl.unassigned {
		if u == n {
			pl.unassigned = append(pl.unassigned[:i], pl.unassigned[i+1:]...)
			return
		}
	}
}

// objective orders solutions lexicographically: fewer unassigned jobs, then
// less travel, then earlier completion.
type objective struct {
	Unassigned int
	Travel     int
	Completion int
}

func (a objective) better(b objective) bool {
	if a.Unassigned != b.Unassigned {
		return a.Unassigned < b.Unassigned
	}
	if a.Travel != b.Travel {
		return a.Travel < b.Travel
	}
	return a.Completion < b.Completion
}

func (p *Problem) score(pl *plan) objective {
	o := objective{Unassigned: len(pl.unassigned), Travel: pl.totalTravel()}
	for vi, r := range pl.routes {
		if len(r) == 0 {
			continue
		}
		if f := p.finish(vi, r); f > o.Completion {
			o.Completion = f
		}
	}
	return o
}

type insertion struct {
	node, vehicle, pos int
	delta              int
}

// cheapestInsertion finds the feasible placement of node n with the smallest
// travel increase. Ties keep the first vehicle and position scanned.
func (p *Problem) cheapestInsertion(pl *plan, n int, count func() bool) (insertion, bool) {
	best := insertion{node: n, vehicle: -1, delta: math.MaxInt}
	for vi, r := range pl.routes {
		if !p.serves[vi][n] {
			continue
		}
		for pos := 0; pos <= len(r); pos++ {
			d := p.insertionDelta(vi, r, n, pos)
			if d >= best.delta {
				continue
			}
			if count != nil && count() {
				return best, best.vehicle >= 0
			}
			if !p.feasible(vi, insertAt(r, n, pos)) {
				continue
			}
			best = insertion{node: n, vehicle: vi, pos: pos, delta: d}
		}
	}
	return best, best.vehicle >= 0
}

func (pl *plan) apply(p *Problem, ins insertion) {
	r := insertAt(pl.routes[ins.vehicle], ins.node, ins.pos)
	pl.routes[ins.vehicle] = r
	pl.travel[ins.vehicle] = p.travel(ins.vehicle, r)
	pl.dropUnassigned(ins.node)
}

// construct builds the initial plan by cheapest feasible insertion. Each round
// commits the single job whose best placement adds the least travel; jobs are
// scanned in ascending node id so equal deltas resolve the same way every run.
func (p *Problem) construct() *plan {
	pl := newPlan(p)
	for len(pl.unassigned) > 0 {
		chosen := insertion{vehicle: -1, delta: math.MaxInt}
		for _, n := range pl.unassigned {
			ins, ok := p.cheapestInsertion(pl, n, nil)
			if ok && ins.delta < chosen.delta {
				chosen = ins
			}
		}
		if chosen.vehicle < 0 {
			break
		}
		pl.apply(p, chosen)
	}
	return pl
}
