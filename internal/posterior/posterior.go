package posterior

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
	"aitia/internal/model"
	"aitia/internal/prior"
	"aitia/internal/score"
)

// Posterior is the unnormalized log-density over one latent particle (and
// parameters, when the likelihood carries them): acyclicity prior +
// structure prior + a Monte Carlo estimate of the expected likelihood score
// over graphs drawn from the particle. Evaluation is per-particle and shares
// no mutable state, so a population can be evaluated in parallel.
type Posterior struct {
	cfg        model.ModelConfig
	acyclicity prior.Acyclicity
	structure  prior.Structure
	scorer     score.Scorer
	thetaModel score.ThetaModel
}

func New(cfg model.ModelConfig, data model.Dataset) (*Posterior, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	// Vars must be known before defaulting: AlphaW and LatentDim derive
	// from it.
	if cfg.Vars == 0 {
		cfg.Vars = data.Vars()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data.Vars() != cfg.Vars {
		return nil, fmt.Errorf("posterior: dataset variable mismatch: got=%d want=%d", data.Vars(), cfg.Vars)
	}

	structure, err := prior.StructureFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	scorer, err := score.FromConfig(cfg, data)
	if err != nil {
		return nil, err
	}

	p := &Posterior{
		cfg:       cfg,
		structure: structure,
		scorer:    scorer,
	}
	if tm, ok := scorer.(score.ThetaModel); ok && scorer.RequiresTheta() {
		p.thetaModel = tm
	}
	if scorer.RequiresTheta() && p.thetaModel == nil {
		return nil, fmt.Errorf("posterior: scorer %s requires theta but exposes no theta model", scorer.Name())
	}
	return p, nil
}

func (p *Posterior) Config() model.ModelConfig { return p.cfg }

func (p *Posterior) Scorer() score.Scorer { return p.scorer }

// RequiresTheta reports whether particles carry an explicit parameter matrix.
func (p *Posterior) RequiresTheta() bool { return p.scorer.RequiresTheta() }

// InitTheta returns a fresh zero parameter matrix for one particle slot, or
// nil for the marginal variant.
func (p *Posterior) InitTheta() *mat.Dense {
	if p.thetaModel == nil {
		return nil
	}
	return p.thetaModel.InitTheta()
}

// LogJoint estimates the unnormalized log-posterior of a particle at the
// given annealing coefficients. The likelihood expectation is averaged over
// cfg.GraphSamples Bernoulli graph samples.
func (p *Posterior) LogJoint(z *graph.Particle, theta *mat.Dense, alpha, beta float64, rng *rand.Rand) (float64, error) {
	if err := p.checkShapes(z, theta); err != nil {
		return 0, err
	}
	total := p.acyclicity.LogPrior(z, alpha, beta) + p.structure.ExpectedLogProb(z, alpha)

	sum := 0.0
	valid := 0
	var lastErr error
	for s := 0; s < p.cfg.GraphSamples; s++ {
		g := graph.SampleGraph(z, alpha, rng)
		v, err := p.scorer.LogScore(g, theta)
		if err != nil {
			if errors.Is(err, score.ErrScoringFailure) {
				lastErr = err
				continue
			}
			return 0, err
		}
		sum += v
		valid++
	}
	if valid == 0 {
		return 0, fmt.Errorf("posterior: every graph sample failed to score: %w", lastErr)
	}
	return total + sum/float64(valid), nil
}

// HardLogJoint scores the thresholded read-out graph of a particle, used for
// mixture weights over final particles.
func (p *Posterior) HardLogJoint(z *graph.Particle, theta *mat.Dense, alpha, beta float64) (float64, error) {
	if err := p.checkShapes(z, theta); err != nil {
		return 0, err
	}
	g := graph.HardGraph(z, alpha)
	v, err := p.scorer.LogScore(g, theta)
	if err != nil {
		return 0, err
	}
	return v + p.structure.LogProb(g) - beta*p.acyclicity.PenaltyGraph(g), nil
}

// Eval bundles one particle's gradient step inputs: the particle-space
// gradient, the theta gradient (joint variant only), and the log-joint
// estimate that falls out of the same Monte Carlo samples.
type Eval struct {
	GradZ     *graph.Particle
	GradTheta *mat.Dense
	LogJoint  float64
}

// Grad returns the particle-space gradient of LogJoint and, for the joint
// variant, the theta gradient. The prior terms are analytic. The likelihood
// term uses the score-function estimator over sampled graphs with a mean
// baseline: grad E[f] ~ mean_m (f_m - fbar) * grad log p(G_m|Z).
func (p *Posterior) Grad(z *graph.Particle, theta *mat.Dense, alpha, beta float64, rng *rand.Rand) (Eval, error) {
	if err := p.checkShapes(z, theta); err != nil {
		return Eval{}, err
	}

	gradZ := p.acyclicity.Grad(z, alpha, beta)
	gradZ.AddScaled(p.structure.Grad(z, alpha), 1)

	type sample struct {
		g *graph.Graph
		f float64
	}
	samples := make([]sample, 0, p.cfg.GraphSamples)
	var lastErr error
	for s := 0; s < p.cfg.GraphSamples; s++ {
		g := graph.SampleGraph(z, alpha, rng)
		f, err := p.scorer.LogScore(g, theta)
		if err != nil {
			if errors.Is(err, score.ErrScoringFailure) {
				lastErr = err
				continue
			}
			return Eval{}, err
		}
		samples = append(samples, sample{g: g, f: f})
	}
	if len(samples) == 0 {
		return Eval{}, fmt.Errorf("posterior: every graph sample failed to score: %w", lastErr)
	}

	baseline := 0.0
	for _, s := range samples {
		baseline += s.f
	}
	baseline /= float64(len(samples))

	scale := 1 / float64(len(samples))
	for _, s := range samples {
		weight := (s.f - baseline) * scale
		if weight == 0 {
			continue
		}
		gradZ.AddScaled(graph.EdgeLogProbGrad(z, alpha, s.g), weight)
	}

	var gradTheta *mat.Dense
	if p.thetaModel != nil {
		// relaxed path: the soft adjacency keeps the theta gradient
		// differentiable in the graph probabilities
		mask := graph.SoftSample(z, alpha, 1, rng)
		gradTheta = p.thetaModel.GradTheta(mask, theta)
	}

	logJoint := p.acyclicity.LogPrior(z, alpha, beta) + p.structure.ExpectedLogProb(z, alpha) + baseline
	return Eval{GradZ: gradZ, GradTheta: gradTheta, LogJoint: logJoint}, nil
}

func (p *Posterior) checkShapes(z *graph.Particle, theta *mat.Dense) error {
	vars, latentDim := z.Dims()
	if vars != p.cfg.Vars {
		return fmt.Errorf("posterior: particle vars mismatch: got=%d want=%d", vars, p.cfg.Vars)
	}
	if latentDim != p.cfg.LatentDim {
		return fmt.Errorf("posterior: particle latent dim mismatch: got=%d want=%d", latentDim, p.cfg.LatentDim)
	}
	if p.scorer.RequiresTheta() {
		if theta == nil {
			return errors.New("posterior: theta is required for the joint variant")
		}
		r, c := theta.Dims()
		if r != p.cfg.Vars || c != p.cfg.Vars {
			return fmt.Errorf("posterior: theta shape mismatch: got=%dx%d want=%dx%d", r, c, p.cfg.Vars, p.cfg.Vars)
		}
	}
	return nil
}
