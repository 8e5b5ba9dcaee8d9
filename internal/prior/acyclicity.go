package prior

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
)

// maxPenalty caps the cyclicity functional so that a badly cyclic expected
// graph at large d cannot overflow downstream arithmetic.
const maxPenalty = 1e12

// Acyclicity scores how far an expected adjacency is from describing a DAG,
// using the polynomial functional h(G) = tr[(I + G/d)^d] - d. h is zero iff
// the (thresholded) graph is acyclic and grows with the mass of closed walks.
type Acyclicity struct{}

// Penalty evaluates h at the expected adjacency of the particle.
func (Acyclicity) Penalty(p *graph.Particle, alpha float64) float64 {
	return cyclicity(graph.ExpectedAdjacency(p, alpha))
}

// PenaltyGraph evaluates h at a deterministic binary adjacency.
func (Acyclicity) PenaltyGraph(g *graph.Graph) float64 {
	return cyclicity(g.Dense())
}

// LogPrior is the unnormalized acyclicity log-density -beta * h(Ghat).
func (a Acyclicity) LogPrior(p *graph.Particle, alpha, beta float64) float64 {
	return -beta * a.Penalty(p, alpha)
}

// Grad is the analytic particle-space gradient of LogPrior. The adjacency
// gradient of h is ((I + G/d)^(d-1))^T, chained through the sigmoid.
func (Acyclicity) Grad(p *graph.Particle, alpha, beta float64) *graph.Particle {
	vars, _ := p.Dims()
	probs := graph.ExpectedAdjacency(p, alpha)
	base := baseMatrix(probs)
	power := matrixPower(base, vars-1)

	gradAdj := mat.NewDense(vars, vars, nil)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			// transpose of the matrix power, scaled by -beta
			v := -beta * power.At(j, i)
			gradAdj.Set(i, j, clamp(v, -maxPenalty, maxPenalty))
		}
	}
	return graph.ChainRule(p, alpha, gradAdj)
}

func cyclicity(adj *mat.Dense) float64 {
	vars, _ := adj.Dims()
	if vars == 0 {
		return 0
	}
	power := matrixPower(baseMatrix(adj), vars)
	trace := 0.0
	for i := 0; i < vars; i++ {
		trace += power.At(i, i)
	}
	h := trace - float64(vars)
	if math.IsNaN(h) {
		return maxPenalty
	}
	return clamp(h, 0, maxPenalty)
}

func baseMatrix(adj *mat.Dense) *mat.Dense {
	vars, _ := adj.Dims()
	base := mat.NewDense(vars, vars, nil)
	scale := 1 / float64(vars)
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			v := adj.At(i, j) * scale
			if i == j {
				v++
			}
			base.Set(i, j, v)
		}
	}
	return base
}

// matrixPower computes base^exp by binary exponentiation, clamping entries
// between squarings so repeated products cannot overflow for large d.
func matrixPower(base *mat.Dense, exp int) *mat.Dense {
	vars, _ := base.Dims()
	result := identity(vars)
	if exp <= 0 {
		return result
	}
	acc := mat.DenseCopyOf(base)
	for exp > 0 {
		if exp&1 == 1 {
			next := mat.NewDense(vars, vars, nil)
			next.Mul(result, acc)
			clampDense(next)
			result = next
		}
		exp >>= 1
		if exp > 0 {
			next := mat.NewDense(vars, vars, nil)
			next.Mul(acc, acc)
			clampDense(next)
			acc = next
		}
	}
	return result
}

func identity(vars int) *mat.Dense {
	out := mat.NewDense(vars, vars, nil)
	for i := 0; i < vars; i++ {
		out.Set(i, i, 1)
	}
	return out
}

func clampDense(m *mat.Dense) {
	data := m.RawMatrix().Data
	for i, v := range data {
		if math.IsNaN(v) {
			data[i] = maxPenalty
			continue
		}
		data[i] = clamp(v, -maxPenalty, maxPenalty)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
