package opt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// TimeWindow is an interval in minutes since midnight.
type TimeWindow struct{ Start, End int }

// Len returns the window length in minutes.
func (w TimeWindow) Len() int { return w.End - w.Start }

type NodeKind int

const (
	KindDepot NodeKind = iota
	KindJob
)

func (k NodeKind) String() string {
	if k == KindDepot {
		return "depot"
	}
	return "job"
}

type Node struct {
	ID         string
	Kind       NodeKind
	Lat, Lng   float64
	ServiceMin int
	Window     TimeWindow
	Skills     []string // required skills; the visiting vehicle must cover all of them
}

type Vehicle struct {
	ID        string
	StartNode int // index into Problem.Nodes, always a depot
	Skills    []string
	Shift     TimeWindow
}

// Problem is an immutable optimization instance. Build it with NewProblem.
type Problem struct {
	Nodes    []Node
	Vehicles []Vehicle
	Matrix   [][]int // travel minutes, symmetric, zero diagonal

	jobs   []int    // job node indices sorted by node id
	serves [][]bool // serves[v][n]: vehicle v covers the skills of node n
}

var ErrEmptyMatrix = errors.New("distance matrix is empty")

// NewProblem validates the instance invariants and precomputes skill coverage.
func NewProblem(nodes []Node, vehicles []Vehicle, matrix [][]int) (*Problem, error) {
	n := len(nodes)
	if n == 0 || len(matrix) == 0 {
		return nil, ErrEmptyMatrix
	}
	if len(matrix) != n {
		return nil, fmt.Errorf("matrix has %d rows, want %d", len(matrix), n)
	}
	for i := range matrix {
		if len(matrix[i]) != n {
			return nil, fmt.Errorf("matrix row %d has %d columns, want %d", i, len(matrix[i]), n)
		}
		if matrix[i][i] != 0 {
			return nil, fmt.Errorf("matrix diagonal [%d][%d] is %d, want 0", i, i, matrix[i][i])
		}
		for j := range matrix[i] {
			if matrix[i][j] < 0 {
				return nil, fmt.Errorf("matrix entry [%d][%d] is negative", i, j)
			}
			if matrix[i][j] != matrix[j][i] {
				return nil, fmt.Errorf("matrix not symmetric at [%d][%d]", i, j)
			}
		}
	}
	for i, nd := range nodes {
		if nd.Window.End < nd.Window.Start {
			return nil, fmt.Errorf("node %s: window ends before it starts", nd.ID)
		}
		if nd.ServiceMin < 0 {
			return nil, fmt.Errorf("node %s: negative service duration", nd.ID)
		}
		if nd.Kind == KindDepot && nd.ServiceMin != 0 {
			return nil, fmt.Errorf("depot node %d has a service duration", i)
		}
	}
	for _, v := range vehicles {
		if v.StartNode < 0 || v.StartNode >= n || nodes[v.StartNode].Kind != KindDepot {
			return nil, fmt.Errorf("vehicle %s: start node %d is not a depot", v.ID, v.StartNode)
		}
		if v.Shift.End < v.Shift.Start {
			return nil, fmt.Errorf("vehicle %s: shift ends before it starts", v.ID)
		}
	}
	p := &Problem{Nodes: nodes, Vehicles: vehicles, Matrix: matrix}
	for i, nd := range nodes {
		if nd.Kind == KindJob {
			p.jobs = append(p.jobs, i)
		}
	}
	sortByNodeID(p.jobs, nodes)
	p.serves = make([][]bool, len(vehicles))
	for vi, v := range vehicles {
		p.serves[vi] = make([]bool, n)
		for i, nd := range nodes {
			p.serves[vi][i] = nd.Kind == KindJob && CoversSkills(v.Skills, nd.Skills)
		}
	}
	return p, nil
}

// JobNodes returns job node indices in ascending node id order.
func (p *Problem) JobNodes() []int { return append([]int(nil), p.jobs...) }

// CanServe reports whether vehicle vi may visit node n.
func (p *Problem) CanServe(vi, n int) bool { return p.serves[vi][n] }

// CoversSkills reports whether have is a superset of need.
func CoversSkills(have, need []string) bool {
	if len(need) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, s := range need {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// sortByNodeID orders job indices by node ID; equal IDs keep input order.
func sortByNodeID(idx []int, nodes []Node) {
	slices.SortStableFunc(idx, func(a, b int) int { return strings.Compare(nodes[a].ID, nodes[b].ID) })
}
