package opt

import (
	"errors"
	"fmt"
)

// Stop is one visit. For jobs Arrival is the service start, so waiting for
// the window to open is already folded in.
type Stop struct {
	NodeID    string
	Node      int
	Arrival   int
	Departure int
}

// Route lists the stops of one vehicle; Stops[0] is always its depot.
type Route struct {
	VehicleID string
	Vehicle   int
	Stops     []Stop
}

// Jobs returns the stops after the depot.
func (r Route) Jobs() []Stop {
	if len(r.Stops) == 0 {
		return nil
	}
	return r.Stops[1:]
}

type Solution struct {
	Routes      []Route  // one per vehicle, or empty when nothing could be routed
	Unassigned  []string // job node ids in ascending order
	TotalTravel int
	Completion  int // latest departure over all routes
}

// Assigned counts routed jobs.
func (s Solution) Assigned() int {
	n := 0
	for _, r := range s.Routes {
		n += len(r.Jobs())
	}
	return n
}

func (p *Problem) solution(pl *plan) Solution {
	sol := Solution{Routes: []Route{}}
	for _, n := range pl.unassigned {
		sol.Unassigned = append(sol.Unassigned, p.Nodes[n].ID)
	}
	if len(pl.unassigned) == len(p.jobs) {
		return sol
	}
	for vi, r := range pl.routes {
		v := p.Vehicles[vi]
		route := Route{VehicleID: v.ID, Vehicle: vi, Stops: make([]Stop, 0, len(r)+1)}
		route.Stops = append(route.Stops, Stop{
			NodeID:    p.Nodes[v.StartNode].ID,
			Node:      v.StartNode,
			Arrival:   v.Shift.Start,
			Departure: v.Shift.Start,
		})
		starts, deps := make([]int, len(r)), make([]int, len(r))
		p.propagate(vi, r, starts, deps)
		for k, n := range r {
			route.Stops = append(route.Stops, Stop{NodeID: p.Nodes[n].ID, Node: n, Arrival: starts[k], Departure: deps[k]})
			if deps[k] > sol.Completion {
				sol.Completion = deps[k]
			}
		}
		sol.TotalTravel += p.travel(vi, r)
		sol.Routes = append(sol.Routes, route)
	}
	return sol
}

var ErrInvalidSolution = errors.New("invalid solution")

// Validate rechecks a solution against the instance: every job routed at most
// once or listed unassigned, windows and shift bounds respected, skills
// covered, and times consistent with the travel matrix.
func (s Solution) Validate(p *Problem) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSolution, fmt.Sprintf(format, args...))
	}
	seen := make(map[int]bool, len(p.jobs))
	travel, completion := 0, 0
	for _, r := range s.Routes {
		if r.Vehicle < 0 || r.Vehicle >= len(p.Vehicles) {
			return bad("route for unknown vehicle %d", r.Vehicle)
		}
		v := p.Vehicles[r.Vehicle]
		if len(r.Stops) == 0 || r.Stops[0].Node != v.StartNode {
			return bad("route %s does not start at its depot", v.ID)
		}
		prev, t := v.StartNode, v.Shift.Start
		for _, st := range r.Jobs() {
			nd := p.Nodes[st.Node]
			if nd.Kind != KindJob {
				return bad("route %s visits non-job node %s", v.ID, nd.ID)
			}
			if seen[st.Node] {
				return bad("job %s routed twice", nd.ID)
			}
			seen[st.Node] = true
			if !CoversSkills(v.Skills, nd.Skills) {
				return bad("vehicle %s lacks skills for job %s", v.ID, nd.ID)
			}
			want := t + p.Matrix[prev][st.Node]
			if want < nd.Window.Start {
				want = nd.Window.Start
			}
			if st.Arrival != want || st.Departure != st.Arrival+nd.ServiceMin {
				return bad("job %s times %d-%d inconsistent", nd.ID, st.Arrival, st.Departure)
			}
			if st.Arrival < nd.Window.Start || st.Departure > nd.Window.End {
				return bad("job %s outside its window", nd.ID)
			}
			if st.Departure-v.Shift.Start > v.Shift.Len() {
				return bad("vehicle %s exceeds its shift", v.ID)
			}
			travel += p.Matrix[prev][st.Node]
			if st.Departure > completion {
				completion = st.Departure
			}
			prev, t = st.Node, st.Departure
		}
	}
	for _, id := range s.Unassigned {
		for _, n := range p.jobs {
			if p.Nodes[n].ID == id && seen[n] {
				return bad("job %s both routed and unassigned", id)
			}
		}
	}
	if len(seen)+len(s.Unassigned) != len(p.jobs) {
		return bad("%d routed + %d unassigned != %d jobs", len(seen), len(s.Unassigned), len(p.jobs))
	}
	if travel != s.TotalTravel {
		return bad("total travel %d, recomputed %d", s.TotalTravel, travel)
	}
	if completion != s.Completion {
		return bad("completion %d, recomputed %d", s.Completion, completion)
	}
	return nil
}
