package opt

// Routes are open paths: a vehicle leaves its depot at shift start and
// finishes at the departure of its last stop. There is no return leg.

// propagate fills starts and deps with the service start and departure of
// every stop on route for vehicle vi. It stops at the first violated window
// or shift bound and reports false. starts and deps may be nil.
func (p *Problem) propagate(vi int, route []int, starts, deps []int) bool {
	v := p.Vehicles[vi]
	prev, t := v.StartNode, v.Shift.Start
	for k, n := range route {
		if !p.serves[vi][n] {
			return false
		}
		nd := &p.Nodes[n]
		start := t + p.Matrix[prev][n]
		if start < nd.Window.Start {
			start = nd.Window.Start
		}
		dep := start + nd.ServiceMin
		if dep > nd.Window.End || dep > v.Shift.End {
			return false
		}
		if starts != nil {
			starts[k] = start
		}
		if deps != nil {
			deps[k] = dep
		}
		prev, t = n, dep
	}
	return true
}

// feasible reports whether route satisfies every time window, the shift bound
// and the skill requirements on vehicle vi.
func (p *Problem) feasible(vi int, route []int) bool {
	return p.propagate(vi, route, nil, nil)
}

// finish returns the departure time of the last stop, or the shift start for
// an empty route. The route must be feasible.
func (p *Problem) finish(vi int, route []int) int {
	v := p.Vehicles[vi]
	prev, t := v.StartNode, v.Shift.Start
	for _, n := range route {
		nd := &p.Nodes[n]
		t += p.Matrix[prev][n]
		if t < nd.Window.Start {
			t = nd.Window.Start
		}
		t += nd.ServiceMin
		prev = n
	}
	return t
}

// travel sums the matrix entries along route starting from the depot of vi.
func (p *Problem) travel(vi int, route []int) int {
	prev, total := p.Vehicles[vi].StartNode, 0
	for _, n := range route {
		total += p.Matrix[prev][n]
		prev = n
	}
	return total
}

// insertionDelta is the travel increase of placing node n at position pos of
// route on vehicle vi.
func (p *Problem) insertionDelta(vi int, route []int, n, pos int) int {
	prev := p.Vehicles[vi].StartNode
	if pos > 0 {
		prev = route[pos-1]
	}
	d := p.Matrix[prev][n]
	if pos < len(route) {
		next := route[pos]
		d += p.Matrix[n][next] - p.Matrix[prev][next]
	}
	return d
}

// insertAt returns a fresh slice with n placed at pos.
func insertAt(route []int, n, pos int) []int {
	out := make([]int, 0, len(route)+1)
	out = append(out, route[:pos]...)
	out = append(out, n)
	return append(out, route[pos:]...)
}

// removeAt returns a fresh slice without the element at pos.
func removeAt(route []int, pos int) []int {
	out := make([]int, 0, len(route))
	out = append(out, route[:pos]...)
	return append(out, route[pos+1:]...)
}

// twoOptSwap returns a copy of ord with the segment i..k reversed.
func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}
