package score

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"

	"aitia/internal/graph"
	"aitia/internal/model"
)

// Marginal is the closed-form BGe score for linear-Gaussian networks. Both
// regression coefficients and noise covariance are integrated out under a
// Normal-Wishart prior, so no explicit theta exists. A node's contribution is
// the difference of two subset marginal likelihoods, which makes the score
// invariant to any reordering of the parent set.
type Marginal struct {
	vars    int
	n       int
	alphaMu float64
	alphaW  float64
	smallT  float64

	// posterior matrix R = T + scatter + (n*alphaMu/(n+alphaMu)) xbar xbar^T
	r    *mat.SymDense
	data model.Dataset

	// subset marginal likelihoods recur across graphs and Monte Carlo
	// samples; the score is invariant to parent order, so the sorted
	// subset is a sound memo key.
	mu   sync.RWMutex
	memo map[string]float64
}

func NewMarginal(cfg model.ModelConfig, data model.Dataset) (*Marginal, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	vars := data.Vars()
	n := data.Rows()
	if cfg.AlphaMu <= 0 {
		return nil, fmt.Errorf("bge: alpha_mu must be > 0, got %g", cfg.AlphaMu)
	}
	if cfg.AlphaW <= float64(vars)-1 {
		return nil, fmt.Errorf("bge: alpha_w must be > vars-1, got %g", cfg.AlphaW)
	}

	mean := make([]float64, vars)
	for j := 0; j < vars; j++ {
		total := 0.0
		for i := 0; i < n; i++ {
			total += data.X.At(i, j)
		}
		mean[j] = total / float64(n)
	}

	smallT := cfg.AlphaMu * (cfg.AlphaW - float64(vars) - 1) / (cfg.AlphaMu + 1)
	if smallT <= 0 {
		// keep the prior matrix positive definite when alpha_w is close
		// to its lower bound
		smallT = 1e-6
	}

	r := mat.NewSymDense(vars, nil)
	meanScale := float64(n) * cfg.AlphaMu / (float64(n) + cfg.AlphaMu)
	for a := 0; a < vars; a++ {
		for b := a; b < vars; b++ {
			scatter := 0.0
			for i := 0; i < n; i++ {
				scatter += (data.X.At(i, a) - mean[a]) * (data.X.At(i, b) - mean[b])
			}
			v := scatter + meanScale*mean[a]*mean[b]
			if a == b {
				v += smallT
			}
			r.SetSym(a, b, v)
		}
	}

	return &Marginal{
		vars:    vars,
		n:       n,
		alphaMu: cfg.AlphaMu,
		alphaW:  cfg.AlphaW,
		smallT:  smallT,
		r:       r,
		data:    data,
		memo:    make(map[string]float64),
	}, nil
}

func (m *Marginal) Name() string { return model.LikelihoodBGe }

func (m *Marginal) RequiresTheta() bool { return false }

// LogScore sums node-wise BGe contributions log ml(Pa(j) u {j}) - log ml(Pa(j)).
func (m *Marginal) LogScore(g *graph.Graph, _ *mat.Dense) (float64, error) {
	if g.Vars() != m.vars {
		return 0, fmt.Errorf("bge: graph size mismatch: got=%d want=%d", g.Vars(), m.vars)
	}
	total := 0.0
	for j := 0; j < m.vars; j++ {
		parents := g.Parents(j)
		family := append(append(make([]int, 0, len(parents)+1), parents...), j)
		familyML, err := m.subsetLogML(family)
		if err != nil {
			return 0, fmt.Errorf("node %d family: %w", j, err)
		}
		parentML, err := m.subsetLogML(parents)
		if err != nil {
			return 0, fmt.Errorf("node %d parents: %w", j, err)
		}
		total += familyML - parentML
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("bge: non-finite score: %w", ErrScoringFailure)
	}
	return total, nil
}

// subsetLogML is the marginal likelihood of the columns in subset:
// -nl/2 log pi + l/2 log(alphaMu/(n+alphaMu)) + log MvGamma ratio
// + (alphaW-d+l)/2 * l * log t - (n+alphaW-d+l)/2 * logdet(R_S).
func (m *Marginal) subsetLogML(subset []int) (float64, error) {
	l := len(subset)
	if l == 0 {
		return 0, nil
	}
	key := subsetKey(subset)
	m.mu.RLock()
	cached, ok := m.memo[key]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	nf := float64(m.n)
	df := float64(m.vars)
	lf := float64(l)

	logdet, err := m.subsetLogDet(subset)
	if err != nil {
		return 0, err
	}

	out := -0.5 * nf * lf * math.Log(math.Pi)
	out += 0.5 * lf * (math.Log(m.alphaMu) - math.Log(nf+m.alphaMu))
	out += mathext.MvLgamma(0.5*(nf+m.alphaW-df+lf), l)
	out -= mathext.MvLgamma(0.5*(m.alphaW-df+lf), l)
	out += 0.5 * (m.alphaW - df + lf) * lf * math.Log(m.smallT)
	out -= 0.5 * (nf + m.alphaW - df + lf) * logdet

	m.mu.Lock()
	m.memo[key] = out
	m.mu.Unlock()
	return out, nil
}

func subsetKey(subset []int) string {
	sorted := append(make([]int, 0, len(subset)), subset...)
	sort.Ints(sorted)
	var b strings.Builder
	for i, v := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func (m *Marginal) subsetLogDet(subset []int) (float64, error) {
	l := len(subset)
	sub := mat.NewSymDense(l, nil)
	for a := 0; a < l; a++ {
		for b := a; b < l; b++ {
			sub.SetSym(a, b, m.r.At(subset[a], subset[b]))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sub) {
		return 0, fmt.Errorf("posterior matrix not positive definite for subset %v: %w", subset, ErrScoringFailure)
	}
	return chol.LogDet(), nil
}

// EltwiseLogScore evaluates held-out rows under per-node ridge regressions
// fit on the training data given G, so external metric code gets a per-row
// predictive log density without reaching into internals.
func (m *Marginal) EltwiseLogScore(g *graph.Graph, _ *mat.Dense, rows *mat.Dense) ([]float64, error) {
	if rows == nil {
		return nil, errors.New("bge: rows are required for eltwise scoring")
	}
	nRows, cols := rows.Dims()
	if cols != m.vars {
		return nil, fmt.Errorf("bge: eltwise variable mismatch: got=%d want=%d", cols, m.vars)
	}

	out := make([]float64, nRows)
	for j := 0; j < m.vars; j++ {
		parents := g.Parents(j)
		weights, noiseVar, err := m.fitNode(j, parents)
		if err != nil {
			return nil, err
		}
		logNorm := -0.5 * math.Log(2*math.Pi*noiseVar)
		for r := 0; r < nRows; r++ {
			pred := 0.0
			for idx, parent := range parents {
				pred += weights[idx] * rows.At(r, parent)
			}
			resid := rows.At(r, j) - pred
			out[r] += logNorm - 0.5*resid*resid/noiseVar
		}
	}
	return out, nil
}

// fitNode solves the ridge system (Xp^T Xp + t I) w = Xp^T xj on the
// training data and estimates the residual noise variance.
func (m *Marginal) fitNode(j int, parents []int) ([]float64, float64, error) {
	const varianceFloor = 1e-6

	if len(parents) == 0 {
		sq := 0.0
		for i := 0; i < m.n; i++ {
			v := m.data.X.At(i, j)
			sq += v * v
		}
		// root node: zero-mean Gaussian with the column's second moment
		noiseVar := sq / float64(m.n)
		if noiseVar < varianceFloor {
			noiseVar = varianceFloor
		}
		return nil, noiseVar, nil
	}

	l := len(parents)
	gram := mat.NewSymDense(l, nil)
	rhs := mat.NewVecDense(l, nil)
	for a := 0; a < l; a++ {
		for b := a; b < l; b++ {
			total := 0.0
			for i := 0; i < m.n; i++ {
				total += m.data.X.At(i, parents[a]) * m.data.X.At(i, parents[b])
			}
			if a == b {
				total += m.smallT
			}
			gram.SetSym(a, b, total)
		}
		total := 0.0
		for i := 0; i < m.n; i++ {
			total += m.data.X.At(i, parents[a]) * m.data.X.At(i, j)
		}
		rhs.SetVec(a, total)
	}

	var chol mat.Cholesky
	if !chol.Factorize(gram) {
		return nil, 0, fmt.Errorf("ridge system not positive definite for node %d: %w", j, ErrScoringFailure)
	}
	var solution mat.VecDense
	if err := chol.SolveVecTo(&solution, rhs); err != nil {
		return nil, 0, fmt.Errorf("ridge solve for node %d: %w", j, err)
	}

	weights := make([]float64, l)
	for a := 0; a < l; a++ {
		weights[a] = solution.AtVec(a)
	}
	rss := 0.0
	for i := 0; i < m.n; i++ {
		pred := 0.0
		for a, parent := range parents {
			pred += weights[a] * m.data.X.At(i, parent)
		}
		resid := m.data.X.At(i, j) - pred
		rss += resid * resid
	}
	noiseVar := rss / float64(m.n)
	if noiseVar < varianceFloor {
		noiseVar = varianceFloor
	}
	return weights, noiseVar, nil
}
