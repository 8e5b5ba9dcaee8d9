package graph

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Graph is a binary adjacency matrix over vars nodes. adj[i*vars+j] == 1
// means a directed edge i -> j. Cycles are representable; acyclicity is a
// property driven by the prior, not enforced here.
type Graph struct {
	vars int
	adj  []uint8
}

func NewGraph(vars int) *Graph {
	return &Graph{vars: vars, adj: make([]uint8, vars*vars)}
}

func FromAdjacency(rows [][]int) (*Graph, error) {
	vars := len(rows)
	g := NewGraph(vars)
	for i, row := range rows {
		if len(row) != vars {
			return nil, fmt.Errorf("adjacency row %d length mismatch: got=%d want=%d", i, len(row), vars)
		}
		for j, v := range row {
			if v != 0 {
				if i == j {
					return nil, fmt.Errorf("self loop at node %d", i)
				}
				g.SetEdge(i, j, true)
			}
		}
	}
	return g, nil
}

func (g *Graph) Vars() int { return g.vars }

func (g *Graph) Has(i, j int) bool { return g.adj[i*g.vars+j] != 0 }

func (g *Graph) SetEdge(i, j int, present bool) {
	if i == j {
		return
	}
	if present {
		g.adj[i*g.vars+j] = 1
	} else {
		g.adj[i*g.vars+j] = 0
	}
}

func (g *Graph) Edges() int {
	count := 0
	for _, v := range g.adj {
		if v != 0 {
			count++
		}
	}
	return count
}

// Parents returns the in-neighborhood of node j in ascending order.
func (g *Graph) Parents(j int) []int {
	parents := make([]int, 0, g.vars)
	for i := 0; i < g.vars; i++ {
		if g.Has(i, j) {
			parents = append(parents, i)
		}
	}
	return parents
}

func (g *Graph) Clone() *Graph {
	out := NewGraph(g.vars)
	copy(out.adj, g.adj)
	return out
}

// Key is a canonical string encoding used to collapse duplicate graphs.
func (g *Graph) Key() string {
	var b strings.Builder
	b.Grow(len(g.adj))
	for _, v := range g.adj {
		if v != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func (g *Graph) Adjacency() [][]int {
	out := make([][]int, g.vars)
	for i := 0; i < g.vars; i++ {
		row := make([]int, g.vars)
		for j := 0; j < g.vars; j++ {
			if g.Has(i, j) {
				row[j] = 1
			}
		}
		out[i] = row
	}
	return out
}

func (g *Graph) Dense() *mat.Dense {
	out := mat.NewDense(g.vars, g.vars, nil)
	for i := 0; i < g.vars; i++ {
		for j := 0; j < g.vars; j++ {
			if g.Has(i, j) {
				out.Set(i, j, 1)
			}
		}
	}
	return out
}

// IsDAG reports whether the graph is acyclic, by Kahn's peeling.
func (g *Graph) IsDAG() bool {
	indegree := make([]int, g.vars)
	for i := 0; i < g.vars; i++ {
		for j := 0; j < g.vars; j++ {
			if g.Has(i, j) {
				indegree[j]++
			}
		}
	}
	queue := make([]int, 0, g.vars)
	for j, deg := range indegree {
		if deg == 0 {
			queue = append(queue, j)
		}
	}
	removed := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		removed++
		for j := 0; j < g.vars; j++ {
			if g.Has(node, j) {
				indegree[j]--
				if indegree[j] == 0 {
					queue = append(queue, j)
				}
			}
		}
	}
	return removed == g.vars
}

// TopologicalOrder returns a node order with all edges pointing forward, or
// an error when the graph contains a directed cycle.
func (g *Graph) TopologicalOrder() ([]int, error) {
	indegree := make([]int, g.vars)
	for i := 0; i < g.vars; i++ {
		for j := 0; j < g.vars; j++ {
			if g.Has(i, j) {
				indegree[j]++
			}
		}
	}
	order := make([]int, 0, g.vars)
	queue := make([]int, 0, g.vars)
	for j, deg := range indegree {
		if deg == 0 {
			queue = append(queue, j)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for j := 0; j < g.vars; j++ {
			if g.Has(node, j) {
				indegree[j]--
				if indegree[j] == 0 {
					queue = append(queue, j)
				}
			}
		}
	}
	if len(order) != g.vars {
		return nil, fmt.Errorf("graph contains a directed cycle")
	}
	return order, nil
}

// SHD is the structural Hamming distance between two graphs of equal size.
func SHD(a, b *Graph) (int, error) {
	if a.vars != b.vars {
		return 0, fmt.Errorf("graph size mismatch: got=%d want=%d", b.vars, a.vars)
	}
	dist := 0
	for i := range a.adj {
		if (a.adj[i] != 0) != (b.adj[i] != 0) {
			dist++
		}
	}
	return dist, nil
}
