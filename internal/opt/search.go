package opt

import (
	"math"
	"math/rand"
)

const eps = 1e-9

// searcher runs first-improvement descent over insert, relocate, swap and
// 2-opt neighborhoods. With guided search enabled, each local optimum raises
// penalties on its highest-utility edges and descent continues on the
// augmented cost until the budget runs out.
type searcher struct {
	p   *Problem
	cfg Config
	rng *rand.Rand
	b   *budget
	m   *Metrics

	pen    [][]int
	lambda float64

	cur     *plan
	best    *plan
	bestObj objective
}

func newSearcher(p *Problem, cfg Config, start *plan, b *budget, m *Metrics) *searcher {
	s := &searcher{p: p, cfg: cfg, rng: newRand(cfg.Seed), b: b, m: m, cur: start}
	s.best = start.clone()
	s.bestObj = p.score(start)
	if cfg.Guided && cfg.PenaltyFactor > 0 {
		s.pen = make([][]int, len(p.Nodes))
		for i := range s.pen {
			s.pen[i] = make([]int, len(p.Nodes))
		}
	}
	return s
}

func (s *searcher) run() {
	if s.b.check() {
		return
	}
	for {
		before := s.b.used
		s.descend()
		if s.b.reason != "" {
			return
		}
		s.m.LocalOptima++
		if s.pen == nil || s.b.used == before || !s.penalize() {
			return
		}
	}
}

func (s *searcher) descend() {
	for s.b.reason == "" {
		if s.insertUnassigned() || s.relocate() || s.swap() || s.twoOpt() {
			s.m.Improvements++
			s.track()
			continue
		}
		return
	}
}

func (s *searcher) track() {
	if o := s.p.score(s.cur); o.better(s.bestObj) {
		s.best = s.cur.clone()
		s.bestObj = o
	}
}

// cost is the route travel plus the weighted edge penalties.
func (s *searcher) cost(vi int, route []int) float64 {
	c := float64(s.p.travel(vi, route))
	if s.lambda == 0 {
		return c
	}
	prev, pen := s.p.Vehicles[vi].StartNode, 0
	for _, n := range route {
		pen += s.pen[prev][n]
		prev = n
	}
	return c + s.lambda*float64(pen)
}

// improves accepts strictly cheaper candidates, and equal-cost candidates
// that finish earlier.
func improves(before, after float64, finishGain func() int) bool {
	if after < before-eps {
		return true
	}
	if after > before+eps {
		return false
	}
	return finishGain() > 0
}

func (s *searcher) commit(vi int, route []int) {
	s.cur.routes[vi] = route
	s.cur.travel[vi] = s.p.travel(vi, route)
}

func (s *searcher) tryOne(vi int, cand []int) bool {
	old := s.cur.routes[vi]
	gain := func() int { return s.p.finish(vi, old) - s.p.finish(vi, cand) }
	if !improves(s.cost(vi, old), s.cost(vi, cand), gain) {
		return false
	}
	if !s.p.feasible(vi, cand) {
		return false
	}
	s.commit(vi, cand)
	return true
}

func (s *searcher) tryTwo(a int, ca []int, b int, cb []int) bool {
	oa, ob := s.cur.routes[a], s.cur.routes[b]
	gain := func() int {
		return s.p.finish(a, oa) + s.p.finish(b, ob) - s.p.finish(a, ca) - s.p.finish(b, cb)
	}
	if !improves(s.cost(a, oa)+s.cost(b, ob), s.cost(a, ca)+s.cost(b, cb), gain) {
		return false
	}
	if !s.p.feasible(a, ca) || !s.p.feasible(b, cb) {
		return false
	}
	s.commit(a, ca)
	s.commit(b, cb)
	return true
}

// insertUnassigned places the first unassigned job that now fits anywhere.
func (s *searcher) insertUnassigned() bool {
	for _, n := range s.cur.unassigned {
		ins, ok := s.p.cheapestInsertion(s.cur, n, s.b.spend)
		if s.b.reason != "" {
			return false
		}
		if ok {
			s.cur.apply(s.p, ins)
			return true
		}
	}
	return false
}

// relocate moves one job to another position on its own route or onto
// another route.
func (s *searcher) relocate() bool {
	m := len(s.cur.routes)
	off := s.rng.Intn(m)
	for x := 0; x < m; x++ {
		a := (off + x) % m
		ra := s.cur.routes[a]
		for i, n := range ra {
			without := removeAt(ra, i)
			for y := 0; y < m; y++ {
				b := (off + y) % m
				if !s.p.serves[b][n] {
					continue
				}
				if a == b {
					for j := 0; j <= len(without); j++ {
						if j == i {
							continue
						}
						if s.b.spend() {
							return false
						}
						if s.tryOne(a, insertAt(without, n, j)) {
							return true
						}
					}
					continue
				}
				rb := s.cur.routes[b]
				for j := 0; j <= len(rb); j++ {
					if s.b.spend() {
						return false
					}
					if s.tryTwo(a, without, b, insertAt(rb, n, j)) {
						return true
					}
				}
			}
		}
	}
	return false
}

// swap exchanges two jobs, within one route or across two routes.
func (s *searcher) swap() bool {
	m := len(s.cur.routes)
	off := s.rng.Intn(m)
	for x := 0; x < m; x++ {
		a := (off + x) % m
		ra := s.cur.routes[a]
		for i := range ra {
			for y := x; y < m; y++ {
				b := (off + y) % m
				rb := s.cur.routes[b]
				j0 := 0
				if a == b {
					j0 = i + 1
				}
				for j := j0; j < len(rb); j++ {
					if a != b && (!s.p.serves[a][rb[j]] || !s.p.serves[b][ra[i]]) {
						continue
					}
					if s.b.spend() {
						return false
					}
					if a == b {
						cand := append([]int(nil), ra...)
						cand[i], cand[j] = cand[j], cand[i]
						if s.tryOne(a, cand) {
							return true
						}
						continue
					}
					ca := append([]int(nil), ra...)
					cb := append([]int(nil), rb...)
					ca[i], cb[j] = rb[j], ra[i]
					if s.tryTwo(a, ca, b, cb) {
						return true
					}
				}
			}
		}
	}
	return false
}

// twoOpt reverses a segment of a single route.
func (s *searcher) twoOpt() bool {
	m := len(s.cur.routes)
	off := s.rng.Intn(m)
	for x := 0; x < m; x++ {
		a := (off + x) % m
		r := s.cur.routes[a]
		for i := 0; i < len(r)-1; i++ {
			for k := i + 1; k < len(r); k++ {
				if s.b.spend() {
					return false
				}
				if s.tryOne(a, twoOptSwap(r, i, k)) {
					return true
				}
			}
		}
	}
	return false
}

// penalize raises the penalty of every edge in the current plan whose utility
// travel/(1+penalty) is maximal. It reports false when no edge carries any
// travel, in which case guided search has nothing to work with.
func (s *searcher) penalize() bool {
	if s.lambda == 0 {
		edges, total := 0, 0
		s.eachEdge(func(a, b int) {
			edges++
			total += s.p.Matrix[a][b]
		})
		if edges == 0 || total == 0 {
			return false
		}
		s.lambda = s.cfg.PenaltyFactor * float64(total) / float64(edges)
	}
	maxU := 0.0
	s.eachEdge(func(a, b int) {
		if u := s.utility(a, b); u > maxU {
			maxU = u
		}
	})
	if maxU == 0 {
		return false
	}
	s.eachEdge(func(a, b int) {
		if math.Abs(s.utility(a, b)-maxU) < eps {
			s.pen[a][b]++
			if a != b {
				s.pen[b][a]++
			}
			s.m.Penalties++
		}
	})
	return true
}

func (s *searcher) utility(a, b int) float64 {
	return float64(s.p.Matrix[a][b]) / float64(1+s.pen[a][b])
}

func (s *searcher) eachEdge(fn func(a, b int)) {
	for vi, r := range s.cur.routes {
		prev := s.p.Vehicles[vi].StartNode
		for _, n := range r {
			fn(prev, n)
			prev = n
		}
	}
}
