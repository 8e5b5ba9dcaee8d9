package score

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
	"aitia/internal/model"
)

// LinearGaussian scores an explicit d×d weight matrix theta: each node's
// conditional mean is a linear combination of its parents' values, masked by
// the graph so non-parent columns contribute exactly zero. Noise is Gaussian
// with a configured variance and theta carries an independent zero-mean
// Gaussian prior on the masked entries.
type LinearGaussian struct {
	vars          int
	n             int
	noiseVar      float64
	thetaPriorVar float64
	data          model.Dataset
}

func NewLinearGaussian(cfg model.ModelConfig, data model.Dataset) (*LinearGaussian, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if cfg.NoiseVar <= 0 {
		return nil, fmt.Errorf("linear-gaussian: noise variance must be > 0, got %g", cfg.NoiseVar)
	}
	if cfg.ThetaPriorVar <= 0 {
		return nil, fmt.Errorf("linear-gaussian: theta prior variance must be > 0, got %g", cfg.ThetaPriorVar)
	}
	return &LinearGaussian{
		vars:          data.Vars(),
		n:             data.Rows(),
		noiseVar:      cfg.NoiseVar,
		thetaPriorVar: cfg.ThetaPriorVar,
		data:          data,
	}, nil
}

func (s *LinearGaussian) Name() string { return model.LikelihoodLinearGaussian }

func (s *LinearGaussian) RequiresTheta() bool { return true }

func (s *LinearGaussian) InitTheta() *mat.Dense {
	return mat.NewDense(s.vars, s.vars, nil)
}

// LogScore is log p(x|G,theta) + log p(theta|G) on the training data.
func (s *LinearGaussian) LogScore(g *graph.Graph, theta *mat.Dense) (float64, error) {
	if theta == nil {
		return 0, errors.New("linear-gaussian: theta is required")
	}
	rows, err := s.rowLogLik(g, theta, s.data.X)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, v := range rows {
		total += v
	}
	total += s.ThetaLogPrior(g.Dense(), theta)
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("linear-gaussian: non-finite score: %w", ErrScoringFailure)
	}
	return total, nil
}

func (s *LinearGaussian) EltwiseLogScore(g *graph.Graph, theta *mat.Dense, rows *mat.Dense) ([]float64, error) {
	if theta == nil {
		return nil, errors.New("linear-gaussian: theta is required")
	}
	return s.rowLogLik(g, theta, rows)
}

func (s *LinearGaussian) rowLogLik(g *graph.Graph, theta *mat.Dense, x *mat.Dense) ([]float64, error) {
	if x == nil {
		return nil, errors.New("linear-gaussian: rows are required")
	}
	if g.Vars() != s.vars {
		return nil, fmt.Errorf("linear-gaussian: graph size mismatch: got=%d want=%d", g.Vars(), s.vars)
	}
	tr, tc := theta.Dims()
	if tr != s.vars || tc != s.vars {
		return nil, fmt.Errorf("linear-gaussian: theta shape mismatch: got=%dx%d want=%dx%d", tr, tc, s.vars, s.vars)
	}
	nRows, cols := x.Dims()
	if cols != s.vars {
		return nil, fmt.Errorf("linear-gaussian: row variable mismatch: got=%d want=%d", cols, s.vars)
	}

	logNorm := -0.5 * math.Log(2*math.Pi*s.noiseVar)
	out := make([]float64, nRows)
	for r := 0; r < nRows; r++ {
		total := 0.0
		for j := 0; j < s.vars; j++ {
			pred := 0.0
			for i := 0; i < s.vars; i++ {
				if g.Has(i, j) {
					pred += theta.At(i, j) * x.At(r, i)
				}
			}
			resid := x.At(r, j) - pred
			total += logNorm - 0.5*resid*resid/s.noiseVar
		}
		out[r] = total
	}
	return out, nil
}

// ThetaLogPrior weighs each entry's Gaussian log density by the mask, which
// for a hard graph selects exactly the edge parameters and for a soft mask
// interpolates toward them.
func (s *LinearGaussian) ThetaLogPrior(mask *mat.Dense, theta *mat.Dense) float64 {
	logNorm := -0.5 * math.Log(2*math.Pi*s.thetaPriorVar)
	total := 0.0
	for i := 0; i < s.vars; i++ {
		for j := 0; j < s.vars; j++ {
			if i == j {
				continue
			}
			w := mask.At(i, j)
			if w == 0 {
				continue
			}
			v := theta.At(i, j)
			total += w * (logNorm - 0.5*v*v/s.thetaPriorVar)
		}
	}
	return total
}

// GradTheta is the analytic gradient of masked log-likelihood plus theta
// prior in theta. With E = X - X(M o theta) the likelihood part is
// (1/noiseVar) * (X^T E) o M.
func (s *LinearGaussian) GradTheta(mask *mat.Dense, theta *mat.Dense) *mat.Dense {
	masked := mat.NewDense(s.vars, s.vars, nil)
	masked.MulElem(mask, theta)

	var pred mat.Dense
	pred.Mul(s.data.X, masked)

	var resid mat.Dense
	resid.Sub(s.data.X, &pred)

	var likGrad mat.Dense
	likGrad.Mul(s.data.X.T(), &resid)
	likGrad.Scale(1/s.noiseVar, &likGrad)
	likGrad.MulElem(&likGrad, mask)

	grad := mat.NewDense(s.vars, s.vars, nil)
	for i := 0; i < s.vars; i++ {
		for j := 0; j < s.vars; j++ {
			if i == j {
				continue
			}
			prior := -mask.At(i, j) * theta.At(i, j) / s.thetaPriorVar
			grad.Set(i, j, likGrad.At(i, j)+prior)
		}
	}
	return grad
}
