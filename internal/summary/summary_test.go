package summary

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
)

func edgeGraph(t *testing.T, vars int, edges ...[2]int) *graph.Graph {
	t.Helper()
	g := graph.NewGraph(vars)
	for _, e := range edges {
		g.SetEdge(e[0], e[1], true)
	}
	return g
}

func TestEmpiricalCollapsesDuplicates(t *testing.T) {
	a := edgeGraph(t, 3, [2]int{0, 1})
	b := edgeGraph(t, 3, [2]int{0, 1})
	c := edgeGraph(t, 3, [2]int{1, 2})

	dist, err := Empirical([]*graph.Graph{a, b, c, c}, nil)
	if err != nil {
		t.Fatalf("empirical: %v", err)
	}
	if dist.Support() != 2 {
		t.Fatalf("expected 2 support points, got %d", dist.Support())
	}
	for _, item := range dist.Items {
		if item.Weight != 0.5 || item.Count != 2 {
			t.Fatalf("expected weight 0.5 count 2, got %v %d", item.Weight, item.Count)
		}
	}
	if got := dist.TotalWeight(); math.Abs(got-1) > 1e-12 {
		t.Fatalf("weights must sum to one, got %v", got)
	}
}

func TestEmpiricalKeepsFirstTheta(t *testing.T) {
	g := edgeGraph(t, 2, [2]int{0, 1})
	first := mat.NewDense(2, 2, []float64{0, 1.5, 0, 0})
	second := mat.NewDense(2, 2, []float64{0, -9, 0, 0})

	dist, err := Empirical([]*graph.Graph{g, g.Clone()}, []*mat.Dense{first, second})
	if err != nil {
		t.Fatalf("empirical: %v", err)
	}
	if dist.Support() != 1 {
		t.Fatalf("expected one support point, got %d", dist.Support())
	}
	if got := dist.Items[0].Theta.At(0, 1); got != 1.5 {
		t.Fatalf("expected first occurrence theta, got %v", got)
	}
}

func TestEmpiricalValidation(t *testing.T) {
	if _, err := Empirical(nil, nil); err == nil {
		t.Fatal("expected empty population error")
	}
	g := edgeGraph(t, 2, [2]int{0, 1})
	if _, err := Empirical([]*graph.Graph{g}, []*mat.Dense{nil, nil}); err == nil {
		t.Fatal("expected theta count mismatch error")
	}
}

func TestMixtureWeighsByLogJoint(t *testing.T) {
	a := edgeGraph(t, 3, [2]int{0, 1})
	b := edgeGraph(t, 3, [2]int{1, 2})

	dist, err := Mixture([]*graph.Graph{a, b}, nil, []float64{math.Log(3), math.Log(1)})
	if err != nil {
		t.Fatalf("mixture: %v", err)
	}
	if dist.Support() != 2 {
		t.Fatalf("expected 2 support points, got %d", dist.Support())
	}
	if math.Abs(dist.Items[0].Weight-0.75) > 1e-12 {
		t.Fatalf("expected dominant weight 0.75, got %v", dist.Items[0].Weight)
	}
	if math.Abs(dist.Items[1].Weight-0.25) > 1e-12 {
		t.Fatalf("expected minor weight 0.25, got %v", dist.Items[1].Weight)
	}
	if dist.Items[0].Graph.Key() != a.Key() {
		t.Fatal("items must be ordered by descending weight")
	}
}

func TestMixtureSumsDuplicateWeights(t *testing.T) {
	a := edgeGraph(t, 3, [2]int{0, 1})
	b := edgeGraph(t, 3, [2]int{0, 1})
	c := edgeGraph(t, 3, [2]int{1, 2})

	dist, err := Mixture([]*graph.Graph{a, b, c}, nil, []float64{-1, -2, -1})
	if err != nil {
		t.Fatalf("mixture: %v", err)
	}
	if dist.Support() != 2 {
		t.Fatalf("expected duplicates collapsed, got %d", dist.Support())
	}
	dup := dist.Items[0]
	if dup.Graph.Key() != a.Key() {
		t.Fatal("duplicate graph should dominate")
	}
	if dup.Count != 2 {
		t.Fatalf("expected count 2 for collapsed graph, got %d", dup.Count)
	}
	if dup.LogJoint != -1 {
		t.Fatalf("expected best log joint kept, got %v", dup.LogJoint)
	}
	if got := dist.TotalWeight(); math.Abs(got-1) > 1e-12 {
		t.Fatalf("weights must sum to one, got %v", got)
	}
}

func TestMixtureIsShiftInvariant(t *testing.T) {
	a := edgeGraph(t, 3, [2]int{0, 1})
	b := edgeGraph(t, 3, [2]int{1, 2})
	graphs := []*graph.Graph{a, b}

	lo, err := Mixture(graphs, nil, []float64{-2, -4})
	if err != nil {
		t.Fatalf("mixture: %v", err)
	}
	hi, err := Mixture(graphs, nil, []float64{-1002, -1004})
	if err != nil {
		t.Fatalf("mixture with shifted scores: %v", err)
	}
	for i := range lo.Items {
		if math.Abs(lo.Items[i].Weight-hi.Items[i].Weight) > 1e-12 {
			t.Fatalf("weights must be invariant to constant shifts: %v vs %v", lo.Items[i].Weight, hi.Items[i].Weight)
		}
	}
}

func TestMixtureSkipsNonFiniteScores(t *testing.T) {
	a := edgeGraph(t, 3, [2]int{0, 1})
	b := edgeGraph(t, 3, [2]int{1, 2})

	dist, err := Mixture([]*graph.Graph{a, b}, nil, []float64{-1, math.Inf(-1)})
	if err != nil {
		t.Fatalf("mixture: %v", err)
	}
	if dist.Support() != 1 {
		t.Fatalf("failed particle must be dropped, got support %d", dist.Support())
	}
	if dist.Items[0].Weight != 1 {
		t.Fatalf("surviving graph must carry full weight, got %v", dist.Items[0].Weight)
	}
}

func TestMixtureDegenerate(t *testing.T) {
	a := edgeGraph(t, 2, [2]int{0, 1})
	_, err := Mixture([]*graph.Graph{a, a.Clone()}, nil, []float64{math.Inf(-1), math.NaN()})
	if !errors.Is(err, ErrDegeneratePosterior) {
		t.Fatalf("expected ErrDegeneratePosterior, got %v", err)
	}
}

func TestMixtureValidation(t *testing.T) {
	g := edgeGraph(t, 2, [2]int{0, 1})
	if _, err := Mixture(nil, nil, nil); err == nil {
		t.Fatal("expected empty population error")
	}
	if _, err := Mixture([]*graph.Graph{g}, nil, []float64{1, 2}); err == nil {
		t.Fatal("expected log joint count mismatch error")
	}
	if _, err := Mixture([]*graph.Graph{g}, []*mat.Dense{nil, nil}, []float64{1}); err == nil {
		t.Fatal("expected theta count mismatch error")
	}
}

func TestEdgeMarginals(t *testing.T) {
	a := edgeGraph(t, 3, [2]int{0, 1}, [2]int{1, 2})
	b := edgeGraph(t, 3, [2]int{0, 1})

	dist, err := Mixture([]*graph.Graph{a, b}, nil, []float64{math.Log(1), math.Log(3)})
	if err != nil {
		t.Fatalf("mixture: %v", err)
	}
	m := dist.EdgeMarginals()
	if got := m.At(0, 1); math.Abs(got-1) > 1e-12 {
		t.Fatalf("shared edge must have marginal 1, got %v", got)
	}
	if got := m.At(1, 2); math.Abs(got-0.25) > 1e-12 {
		t.Fatalf("minority edge must have marginal 0.25, got %v", got)
	}
	if got := m.At(2, 0); got != 0 {
		t.Fatalf("absent edge must be zero, got %v", got)
	}

	var empty Distribution
	if empty.EdgeMarginals() != nil {
		t.Fatal("empty distribution has no marginals")
	}
}
