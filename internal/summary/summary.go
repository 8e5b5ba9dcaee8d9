package summary

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
)

// ErrDegeneratePosterior is returned when every particle's mixture weight
// underflows even after log-domain stabilization. Callers get the explicit
// condition instead of a distribution that silently sums to zero.
var ErrDegeneratePosterior = errors.New("degenerate posterior: all particle weights vanished")

// Weighted is one support point of a distribution over graphs.
type Weighted struct {
	Graph    *graph.Graph
	Theta    *mat.Dense
	Weight   float64
	LogJoint float64
	Count    int
}

// Distribution maps distinct graphs to non-negative weights summing to one.
// Built once and read-only afterward; items are ordered by descending
// weight with the graph key breaking ties for determinism.
type Distribution struct {
	Items []Weighted
}

func (d Distribution) Support() int { return len(d.Items) }

func (d Distribution) TotalWeight() float64 {
	total := 0.0
	for _, item := range d.Items {
		total += item.Weight
	}
	return total
}

// EdgeMarginals returns the weight-averaged probability of each directed
// edge, consumable by threshold metrics such as AUROC.
func (d Distribution) EdgeMarginals() *mat.Dense {
	if len(d.Items) == 0 {
		return nil
	}
	vars := d.Items[0].Graph.Vars()
	out := mat.NewDense(vars, vars, nil)
	for _, item := range d.Items {
		for i := 0; i < vars; i++ {
			for j := 0; j < vars; j++ {
				if item.Graph.Has(i, j) {
					out.Set(i, j, out.At(i, j)+item.Weight)
				}
			}
		}
	}
	return out
}

// Empirical builds the frequency-weighted distribution: weight = occurrence
// count / population size, duplicate graphs collapsed. thetas may be nil for
// the marginal variant; when present, the first occurrence's theta is kept.
func Empirical(graphs []*graph.Graph, thetas []*mat.Dense) (Distribution, error) {
	if len(graphs) == 0 {
		return Distribution{}, errors.New("empirical distribution requires at least one graph")
	}
	if thetas != nil && len(thetas) != len(graphs) {
		return Distribution{}, fmt.Errorf("theta count mismatch: got=%d want=%d", len(thetas), len(graphs))
	}

	byKey := map[string]*Weighted{}
	order := make([]string, 0, len(graphs))
	for i, g := range graphs {
		key := g.Key()
		item := byKey[key]
		if item == nil {
			item = &Weighted{Graph: g.Clone()}
			if thetas != nil && thetas[i] != nil {
				item.Theta = mat.DenseCopyOf(thetas[i])
			}
			byKey[key] = item
			order = append(order, key)
		}
		item.Count++
	}

	total := float64(len(graphs))
	items := make([]Weighted, 0, len(order))
	for _, key := range order {
		item := byKey[key]
		item.Weight = float64(item.Count) / total
		items = append(items, *item)
	}
	sortItems(items)
	return Distribution{Items: items}, nil
}

// Mixture weighs each particle's graph by exp(logJoint), normalized in the
// log domain, duplicate graphs' weights summed.
func Mixture(graphs []*graph.Graph, thetas []*mat.Dense, logJoints []float64) (Distribution, error) {
	if len(graphs) == 0 {
		return Distribution{}, errors.New("mixture distribution requires at least one graph")
	}
	if len(logJoints) != len(graphs) {
		return Distribution{}, fmt.Errorf("log joint count mismatch: got=%d want=%d", len(logJoints), len(graphs))
	}
	if thetas != nil && len(thetas) != len(graphs) {
		return Distribution{}, fmt.Errorf("theta count mismatch: got=%d want=%d", len(thetas), len(graphs))
	}

	finite := make([]float64, 0, len(logJoints))
	for _, lj := range logJoints {
		if !math.IsInf(lj, -1) && !math.IsNaN(lj) {
			finite = append(finite, lj)
		}
	}
	if len(finite) == 0 {
		return Distribution{}, ErrDegeneratePosterior
	}
	norm := floats.LogSumExp(finite)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return Distribution{}, ErrDegeneratePosterior
	}

	byKey := map[string]*Weighted{}
	order := make([]string, 0, len(graphs))
	for i, g := range graphs {
		lj := logJoints[i]
		if math.IsInf(lj, -1) || math.IsNaN(lj) {
			continue
		}
		weight := math.Exp(lj - norm)
		key := g.Key()
		item := byKey[key]
		if item == nil {
			item = &Weighted{Graph: g.Clone(), LogJoint: lj}
			if thetas != nil && thetas[i] != nil {
				item.Theta = mat.DenseCopyOf(thetas[i])
			}
			byKey[key] = item
			order = append(order, key)
		}
		item.Weight += weight
		item.Count++
		if lj > item.LogJoint {
			item.LogJoint = lj
		}
	}

	items := make([]Weighted, 0, len(order))
	total := 0.0
	for _, key := range order {
		items = append(items, *byKey[key])
		total += byKey[key].Weight
	}
	if total <= 0 || math.IsNaN(total) {
		return Distribution{}, ErrDegeneratePosterior
	}
	// renormalize the residual floating point drift
	for i := range items {
		items[i].Weight /= total
	}
	sortItems(items)
	return Distribution{Items: items}, nil
}

func sortItems(items []Weighted) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Weight == items[j].Weight {
			return items[i].Graph.Key() < items[j].Graph.Key()
		}
		return items[i].Weight > items[j].Weight
	})
}
