package prior

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
	"aitia/internal/model"
)

// Structure is a prior over graph skeletons. LogProb scores a hard graph,
// used for posterior mixture weights. ExpectedLogProb and Grad work on the
// expected adjacency so the term stays differentiable during optimization.
type Structure interface {
	Name() string
	LogProb(g *graph.Graph) float64
	ExpectedLogProb(p *graph.Particle, alpha float64) float64
	Grad(p *graph.Particle, alpha float64) *graph.Particle
}

func StructureFromConfig(cfg model.ModelConfig) (Structure, error) {
	switch cfg.GraphPrior {
	case model.GraphPriorErdosRenyi:
		pairs := float64(cfg.Vars * (cfg.Vars - 1))
		q := cfg.EdgesPerVar * float64(cfg.Vars) / pairs
		if q <= 0 || q >= 1 {
			return nil, fmt.Errorf("erdos-renyi edge probability out of range: %g", q)
		}
		return ErdosRenyi{Vars: cfg.Vars, EdgeProb: q}, nil
	case model.GraphPriorScaleFree:
		return ScaleFree{Vars: cfg.Vars, Power: 3}, nil
	default:
		return nil, fmt.Errorf("unsupported graph prior family: %s", cfg.GraphPrior)
	}
}

// ErdosRenyi puts an independent Bernoulli(EdgeProb) on each ordered pair.
type ErdosRenyi struct {
	Vars     int
	EdgeProb float64
}

func (ErdosRenyi) Name() string { return model.GraphPriorErdosRenyi }

func (e ErdosRenyi) LogProb(g *graph.Graph) float64 {
	pairs := float64(e.Vars * (e.Vars - 1))
	edges := float64(g.Edges())
	return edges*math.Log(e.EdgeProb) + (pairs-edges)*math.Log(1-e.EdgeProb)
}

func (e ErdosRenyi) ExpectedLogProb(p *graph.Particle, alpha float64) float64 {
	probs := graph.ExpectedAdjacency(p, alpha)
	vars, _ := p.Dims()
	logit := math.Log(e.EdgeProb) - math.Log(1-e.EdgeProb)
	total := float64(vars*(vars-1)) * math.Log(1-e.EdgeProb)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			total += probs.At(i, j) * logit
		}
	}
	return total
}

func (e ErdosRenyi) Grad(p *graph.Particle, alpha float64) *graph.Particle {
	vars, _ := p.Dims()
	logit := math.Log(e.EdgeProb) - math.Log(1-e.EdgeProb)
	gradAdj := constantOffDiagonal(vars, logit)
	return graph.ChainRule(p, alpha, gradAdj)
}

// ScaleFree scores log p(G) = -Power * sum_j log(1 + indegree_j). The sum
// of concave terms is smallest when in-degree concentrates on few nodes, so
// skewed degree distributions outscore uniform ones at equal edge counts.
type ScaleFree struct {
	Vars  int
	Power float64
}

func (ScaleFree) Name() string { return model.GraphPriorScaleFree }

func (s ScaleFree) LogProb(g *graph.Graph) float64 {
	total := 0.0
	for j := 0; j < s.Vars; j++ {
		total += math.Log1p(float64(len(g.Parents(j))))
	}
	return -s.Power * total
}

func (s ScaleFree) ExpectedLogProb(p *graph.Particle, alpha float64) float64 {
	probs := graph.ExpectedAdjacency(p, alpha)
	vars, _ := p.Dims()
	total := 0.0
	for j := 0; j < vars; j++ {
		indegree := 0.0
		for i := 0; i < vars; i++ {
			indegree += probs.At(i, j)
		}
		total += math.Log1p(indegree)
	}
	return -s.Power * total
}

func (s ScaleFree) Grad(p *graph.Particle, alpha float64) *graph.Particle {
	probs := graph.ExpectedAdjacency(p, alpha)
	vars, _ := p.Dims()
	gradAdj := constantOffDiagonal(vars, 0)
	for j := 0; j < vars; j++ {
		indegree := 0.0
		for i := 0; i < vars; i++ {
			indegree += probs.At(i, j)
		}
		coef := -s.Power / (1 + indegree)
		for i := 0; i < vars; i++ {
			if i == j {
				continue
			}
			gradAdj.Set(i, j, coef)
		}
	}
	return graph.ChainRule(p, alpha, gradAdj)
}

func constantOffDiagonal(vars int, v float64) *mat.Dense {
	out := mat.NewDense(vars, vars, nil)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i != j {
				out.Set(i, j, v)
			}
		}
	}
	return out
}
