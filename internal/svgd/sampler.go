package svgd

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
	"aitia/internal/model"
	"aitia/internal/posterior"
	"aitia/internal/prior"
	"aitia/internal/score"
)

// Callback receives a read-only snapshot of the population at fixed
// iteration boundaries. It is side-effecting only: nothing it does can feed
// back into the sampler, and it may be slow without affecting results.
type Callback func(Snapshot)

type Snapshot struct {
	Step      int
	Alpha     float64
	Beta      float64
	Particles []*graph.Particle
	Thetas    []*mat.Dense
	LogJoints []float64
}

type Config struct {
	Posterior     *posterior.Posterior
	Particles     int
	Steps         int
	Seed          int64
	InitStd       float64
	StepSize      float64
	ThetaStepSize float64
	Alpha         Schedule
	Beta          Schedule
	Bandwidth     float64
	Workers       int
	CallbackEvery int
	Callback      Callback
}

type Result struct {
	Particles []*graph.Particle
	Thetas    []*mat.Dense
	Graphs    []*graph.Graph
	LogJoints []float64
	History   []model.StepDiagnostics
}

// Sampler evolves a population of latent particles toward the posterior
// with kernelized gradient updates under an annealing schedule.
type Sampler struct {
	cfg Config
}

func New(cfg Config) (*Sampler, error) {
	if cfg.Posterior == nil {
		return nil, errors.New("svgd: posterior is required")
	}
	if cfg.Particles <= 0 {
		return nil, fmt.Errorf("svgd: particles must be > 0, got %d", cfg.Particles)
	}
	if cfg.Steps <= 0 {
		return nil, fmt.Errorf("svgd: steps must be > 0, got %d", cfg.Steps)
	}
	if cfg.InitStd <= 0 {
		cfg.InitStd = 1
	}
	if cfg.StepSize <= 0 {
		cfg.StepSize = 0.01
	}
	if cfg.ThetaStepSize <= 0 {
		cfg.ThetaStepSize = cfg.StepSize
	}
	if cfg.Alpha == (Schedule{}) {
		cfg.Alpha = Schedule{Base: 0.02, Slope: 0.05}
	}
	if cfg.Beta == (Schedule{}) {
		cfg.Beta = Schedule{Base: 0.1, Slope: 0.1}
	}
	if err := cfg.Alpha.validate("alpha"); err != nil {
		return nil, fmt.Errorf("svgd: %w", err)
	}
	if err := cfg.Beta.validate("beta"); err != nil {
		return nil, fmt.Errorf("svgd: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CallbackEvery < 0 {
		return nil, fmt.Errorf("svgd: callback interval must be >= 0, got %d", cfg.CallbackEvery)
	}
	return &Sampler{cfg: cfg}, nil
}

// Run executes the fixed iteration budget and returns the final population
// with its hard-sampled read-out graphs. Identical seed, config, and data
// produce bit-for-bit identical results: each particle's Monte Carlo stream
// is seeded from (seed, step, slot), so worker scheduling cannot perturb the
// outcome, and no position is written until every gradient and kernel
// contribution of the step has been computed from the frozen positions.
func (s *Sampler) Run(ctx context.Context) (Result, error) {
	cfg := s.cfg
	modelCfg := cfg.Posterior.Config()
	n := cfg.Particles

	initRng := rand.New(rand.NewSource(uint64(cfg.Seed)))
	particles := make([]*graph.Particle, n)
	thetas := make([]*mat.Dense, n)
	for i := 0; i < n; i++ {
		p, err := graph.RandomParticle(modelCfg.Vars, modelCfg.LatentDim, cfg.InitStd, initRng)
		if err != nil {
			return Result{}, err
		}
		particles[i] = p
		thetas[i] = cfg.Posterior.InitTheta()
	}

	history := make([]model.StepDiagnostics, 0, cfg.Steps)
	acyclicity := prior.Acyclicity{}

	for step := 0; step < cfg.Steps; step++ {
		// cancellation granularity is whole iterations
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		alpha := cfg.Alpha.Value(step)
		beta := cfg.Beta.Value(step)

		evals := make([]posterior.Eval, n)
		evalErrs := make([]error, n)
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(cfg.Workers)
		for i := 0; i < n; i++ {
			i := i
			group.Go(func() error {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				prng := rand.New(rand.NewSource(stepSeed(cfg.Seed, step, i)))
				ev, err := cfg.Posterior.Grad(particles[i], thetas[i], alpha, beta, prng)
				if err != nil {
					if errors.Is(err, score.ErrScoringFailure) {
						evalErrs[i] = err
						return nil
					}
					return err
				}
				evals[i] = ev
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return Result{}, err
		}

		failed := 0
		var firstFailure error
		for i := 0; i < n; i++ {
			if evalErrs[i] != nil {
				failed++
				if firstFailure == nil {
					firstFailure = evalErrs[i]
				}
			}
		}
		if failed == n {
			return Result{}, fmt.Errorf("svgd step %d: every particle failed to score: %w", step, firstFailure)
		}

		// synchronization barrier: freeze all positions before any update
		positions := make([][]float64, n)
		grads := make([][]float64, n)
		dim := 0
		for i := 0; i < n; i++ {
			positions[i] = particles[i].Flatten(nil)
			dim = len(positions[i])
			if evalErrs[i] == nil {
				grads[i] = evals[i].GradZ.Flatten(nil)
			} else {
				// contained failure: this particle contributes no
				// gradient this step but still feels the coupling
				grads[i] = make([]float64, dim)
			}
		}
		kernel := newRBFKernel(positions, cfg.Bandwidth)

		updates := make([][]float64, n)
		for i := 0; i < n; i++ {
			phi := make([]float64, dim)
			for j := 0; j < n; j++ {
				kij := kernel.at(j, i)
				if kij == 0 {
					continue
				}
				repulse := 2 * kij / kernel.bandwidth
				for d := 0; d < dim; d++ {
					phi[d] += kij*grads[j][d] + repulse*(positions[i][d]-positions[j][d])
				}
			}
			scale := cfg.StepSize / float64(n)
			for d := 0; d < dim; d++ {
				phi[d] *= scale
			}
			updates[i] = phi
		}

		var thetaUpdates []*mat.Dense
		if cfg.Posterior.RequiresTheta() {
			thetaUpdates = make([]*mat.Dense, n)
			for i := 0; i < n; i++ {
				up := mat.NewDense(modelCfg.Vars, modelCfg.Vars, nil)
				for j := 0; j < n; j++ {
					if evalErrs[j] != nil || evals[j].GradTheta == nil {
						continue
					}
					var scaled mat.Dense
					scaled.Scale(kernel.at(j, i), evals[j].GradTheta)
					up.Add(up, &scaled)
				}
				up.Scale(cfg.ThetaStepSize/float64(n), up)
				thetaUpdates[i] = up
			}
		}

		// apply after every contribution has been computed
		for i := 0; i < n; i++ {
			applyFlat(particles[i], updates[i])
			if thetaUpdates != nil {
				thetas[i].Add(thetas[i], thetaUpdates[i])
			}
		}

		history = append(history, s.summarizeStep(step, alpha, beta, failed, kernel.bandwidth, evals, evalErrs, particles, acyclicity))

		if cfg.Callback != nil && cfg.CallbackEvery > 0 && (step+1)%cfg.CallbackEvery == 0 {
			cfg.Callback(s.snapshot(step, alpha, beta, particles, thetas, evals, evalErrs))
		}
	}

	finalAlpha := cfg.Alpha.Value(cfg.Steps)
	finalBeta := cfg.Beta.Value(cfg.Steps)
	graphs := make([]*graph.Graph, n)
	logJoints := make([]float64, n)
	for i := 0; i < n; i++ {
		graphs[i] = graph.HardGraph(particles[i], finalAlpha)
		lj, err := cfg.Posterior.HardLogJoint(particles[i], thetas[i], finalAlpha, finalBeta)
		if err != nil {
			if errors.Is(err, score.ErrScoringFailure) {
				lj = math.Inf(-1)
			} else {
				return Result{}, err
			}
		}
		logJoints[i] = lj
	}

	return Result{
		Particles: particles,
		Thetas:    thetas,
		Graphs:    graphs,
		LogJoints: logJoints,
		History:   history,
	}, nil
}

func (s *Sampler) summarizeStep(step int, alpha, beta float64, failed int, bandwidth float64, evals []posterior.Eval, evalErrs []error, particles []*graph.Particle, acyclicity prior.Acyclicity) model.StepDiagnostics {
	best := math.Inf(-1)
	total := 0.0
	counted := 0
	for i, ev := range evals {
		if evalErrs[i] != nil {
			continue
		}
		if ev.LogJoint > best {
			best = ev.LogJoint
		}
		total += ev.LogJoint
		counted++
	}
	mean := 0.0
	if counted > 0 {
		mean = total / float64(counted)
	}
	penalty := 0.0
	for _, p := range particles {
		penalty += acyclicity.Penalty(p, alpha)
	}
	return model.StepDiagnostics{
		Step:            step + 1,
		Alpha:           alpha,
		Beta:            beta,
		BestLogJoint:    best,
		MeanLogJoint:    mean,
		MeanAcyclicity:  penalty / float64(len(particles)),
		KernelBandwidth: bandwidth,
		FailedParticles: failed,
	}
}

func (s *Sampler) snapshot(step int, alpha, beta float64, particles []*graph.Particle, thetas []*mat.Dense, evals []posterior.Eval, evalErrs []error) Snapshot {
	cloned := make([]*graph.Particle, len(particles))
	for i, p := range particles {
		cloned[i] = p.Clone()
	}
	var clonedThetas []*mat.Dense
	if s.cfg.Posterior.RequiresTheta() {
		clonedThetas = make([]*mat.Dense, len(thetas))
		for i, t := range thetas {
			clonedThetas[i] = mat.DenseCopyOf(t)
		}
	}
	logJoints := make([]float64, len(evals))
	for i, ev := range evals {
		if evalErrs[i] != nil {
			logJoints[i] = math.Inf(-1)
			continue
		}
		logJoints[i] = ev.LogJoint
	}
	return Snapshot{
		Step:      step + 1,
		Alpha:     alpha,
		Beta:      beta,
		Particles: cloned,
		Thetas:    clonedThetas,
		LogJoints: logJoints,
	}
}

func applyFlat(p *graph.Particle, update []float64) {
	vars, latentDim := p.Dims()
	half := vars * latentDim
	u := p.U.RawMatrix().Data
	v := p.V.RawMatrix().Data
	for i := 0; i < half; i++ {
		u[i] += update[i]
		v[i] += update[half+i]
	}
}

// stepSeed mixes run seed, step, and particle slot into one rng seed so the
// Monte Carlo stream of every (step, particle) pair is fixed regardless of
// worker scheduling.
func stepSeed(seed int64, step, slot int) uint64 {
	x := uint64(seed)
	x ^= uint64(step+1) * 0x9E3779B97F4A7C15
	x ^= uint64(slot+1) * 0xBF58476D1CE4E5B9
	x ^= x >> 31
	x *= 0x94D049BB133111EB
	x ^= x >> 29
	return x
}
