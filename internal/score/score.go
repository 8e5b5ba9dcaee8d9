package score

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
	"aitia/internal/model"
)

// ErrScoringFailure marks a numerically unrecoverable score for one specific
// graph hypothesis. Callers contain it per graph; it must not abort a run
// unless every hypothesis is affected.
var ErrScoringFailure = errors.New("graph scoring failure")

// Scorer scores a graph hypothesis against the training data. The marginal
// variant ignores theta (pass nil); the explicit-parameter variant requires
// it. Callers depend only on this contract, never on the active variant.
type Scorer interface {
	Name() string
	RequiresTheta() bool
	LogScore(g *graph.Graph, theta *mat.Dense) (float64, error)
	// EltwiseLogScore returns one log-score contribution per row of rows,
	// the hook external metric code uses for held-out evaluation.
	EltwiseLogScore(g *graph.Graph, theta *mat.Dense, rows *mat.Dense) ([]float64, error)
}

// ThetaModel is the capability surface of scorers that carry explicit
// parameters: a parameter prior and analytic gradients for the relaxed path.
type ThetaModel interface {
	ThetaLogPrior(mask *mat.Dense, theta *mat.Dense) float64
	GradTheta(mask *mat.Dense, theta *mat.Dense) *mat.Dense
	InitTheta() *mat.Dense
}

func FromConfig(cfg model.ModelConfig, data model.Dataset) (Scorer, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if data.Vars() != cfg.Vars {
		return nil, fmt.Errorf("dataset variable mismatch: got=%d want=%d", data.Vars(), cfg.Vars)
	}
	switch cfg.Likelihood {
	case model.LikelihoodBGe:
		return NewMarginal(cfg, data)
	case model.LikelihoodLinearGaussian:
		return NewLinearGaussian(cfg, data)
	default:
		return nil, fmt.Errorf("unsupported likelihood family: %s", cfg.Likelihood)
	}
}
