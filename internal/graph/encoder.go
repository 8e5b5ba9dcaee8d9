package graph

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// ExpectedAdjacency maps a particle to the d×d matrix of edge probabilities
// sigma(alpha * U_i . V_j), with a zero diagonal. Entries stay strictly
// inside (0, 1) up to floating point.
func ExpectedAdjacency(p *Particle, alpha float64) *mat.Dense {
	vars, _ := p.Dims()
	scores := Scores(p)
	out := mat.NewDense(vars, vars, nil)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			out.Set(i, j, sigmoid(alpha*scores.At(i, j)))
		}
	}
	return out
}

// Scores returns the raw pairwise dot products U V^T before the sigmoid.
func Scores(p *Particle) *mat.Dense {
	vars, _ := p.Dims()
	out := mat.NewDense(vars, vars, nil)
	out.Mul(p.U, p.V.T())
	return out
}

// SampleGraph draws one binary graph by independent Bernoulli draws per
// off-diagonal entry. No acyclicity enforcement: cycles are penalized by the
// prior, not rejected here.
func SampleGraph(p *Particle, alpha float64, rng *rand.Rand) *Graph {
	probs := ExpectedAdjacency(p, alpha)
	vars, _ := p.Dims()
	g := NewGraph(vars)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			g.SetEdge(i, j, rng.Float64() < probs.At(i, j))
		}
	}
	return g
}

// HardGraph thresholds the expected adjacency at 1/2. Non-differentiable
// read-out used only for final outputs and metrics.
func HardGraph(p *Particle, alpha float64) *Graph {
	probs := ExpectedAdjacency(p, alpha)
	vars, _ := p.Dims()
	g := NewGraph(vars)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			g.SetEdge(i, j, probs.At(i, j) > 0.5)
		}
	}
	return g
}

// SoftSample draws a relaxed adjacency via the Gumbel-sigmoid trick:
// sigma((alpha*s_ij + L_ij) / tau) with logistic noise L. Entries are in
// (0, 1) and differentiable in the particle; used on the relaxed gradient
// path for the explicit-parameter likelihood.
func SoftSample(p *Particle, alpha, tau float64, rng *rand.Rand) *mat.Dense {
	if tau <= 0 {
		tau = 1
	}
	vars, _ := p.Dims()
	scores := Scores(p)
	out := mat.NewDense(vars, vars, nil)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			u := rng.Float64()
			// Logistic(0,1) noise; clamp away from {0,1} to keep the
			// log finite.
			u = math.Min(math.Max(u, 1e-12), 1-1e-12)
			noise := math.Log(u) - math.Log1p(-u)
			out.Set(i, j, sigmoid((alpha*scores.At(i, j)+noise)/tau))
		}
	}
	return out
}

// EdgeLogProb is log p(G|Z) under the independent-Bernoulli edge model.
func EdgeLogProb(p *Particle, alpha float64, g *Graph) float64 {
	vars, _ := p.Dims()
	scores := Scores(p)
	total := 0.0
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			s := alpha * scores.At(i, j)
			if g.Has(i, j) {
				total += logSigmoid(s)
			} else {
				total += logSigmoid(-s)
			}
		}
	}
	return total
}

// EdgeLogProbGrad is the closed-form gradient of log p(G|Z) in the particle:
// with C_ij = alpha * (G_ij - sigma(alpha*s_ij)) and zero diagonal,
// dU = C V and dV = C^T U.
func EdgeLogProbGrad(p *Particle, alpha float64, g *Graph) *Particle {
	vars, _ := p.Dims()
	scores := Scores(p)
	coef := mat.NewDense(vars, vars, nil)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			target := 0.0
			if g.Has(i, j) {
				target = 1
			}
			coef.Set(i, j, alpha*(target-sigmoid(alpha*scores.At(i, j))))
		}
	}
	grad, _ := NewParticle(p.Dims())
	grad.U.Mul(coef, p.V)
	grad.V.Mul(coef.T(), p.U)
	return grad
}

// ChainRule maps a gradient in expected-adjacency space back to particle
// space: with E_ij = dL/dGhat_ij * alpha * Ghat_ij * (1 - Ghat_ij) and zero
// diagonal, dU = E V and dV = E^T U.
func ChainRule(p *Particle, alpha float64, gradAdj *mat.Dense) *Particle {
	vars, _ := p.Dims()
	probs := ExpectedAdjacency(p, alpha)
	coef := mat.NewDense(vars, vars, nil)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			prob := probs.At(i, j)
			coef.Set(i, j, gradAdj.At(i, j)*alpha*prob*(1-prob))
		}
	}
	grad, _ := NewParticle(p.Dims())
	grad.U.Mul(coef, p.V)
	grad.V.Mul(coef.T(), p.U)
	return grad
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func logSigmoid(x float64) float64 {
	if x >= 0 {
		return -math.Log1p(math.Exp(-x))
	}
	return x - math.Log1p(math.Exp(x))
}
