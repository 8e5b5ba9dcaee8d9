package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

const (
	GraphPriorErdosRenyi = "erdos-renyi"
	GraphPriorScaleFree  = "scale-free"

	LikelihoodBGe            = "bge"
	LikelihoodLinearGaussian = "linear-gaussian"
)

// Dataset holds the observed matrix and an optional held-out split. Both are
// shared read-only across all particles for the duration of a run.
type Dataset struct {
	X       *mat.Dense
	HeldOut *mat.Dense
}

func (d Dataset) Vars() int {
	if d.X == nil {
		return 0
	}
	_, cols := d.X.Dims()
	return cols
}

func (d Dataset) Rows() int {
	if d.X == nil {
		return 0
	}
	rows, _ := d.X.Dims()
	return rows
}

func (d Dataset) Validate() error {
	if d.X == nil {
		return errors.New("dataset is required")
	}
	rows, cols := d.X.Dims()
	if rows <= 0 {
		return errors.New("dataset has no observations")
	}
	if cols <= 0 {
		return errors.New("dataset has no variables")
	}
	if d.HeldOut != nil {
		_, hoCols := d.HeldOut.Dims()
		if hoCols != cols {
			return fmt.Errorf("held-out variable mismatch: got=%d want=%d", hoCols, cols)
		}
	}
	return nil
}

// ModelConfig resolves the graph prior and likelihood families plus their
// hyperparameters. Immutable for the duration of a run.
type ModelConfig struct {
	Vars      int
	LatentDim int

	GraphPrior  string
	EdgesPerVar float64

	Likelihood string

	// BGe Normal-Wishart hyperparameters.
	AlphaMu float64
	AlphaW  float64

	// Linear-Gaussian joint hyperparameters.
	NoiseVar      float64
	ThetaPriorVar float64

	// Number of Monte Carlo graph samples per gradient step.
	GraphSamples int
}

func (c ModelConfig) WithDefaults() ModelConfig {
	if c.LatentDim <= 0 {
		c.LatentDim = c.Vars
	}
	if c.GraphPrior == "" {
		c.GraphPrior = GraphPriorErdosRenyi
	}
	if c.EdgesPerVar <= 0 {
		c.EdgesPerVar = 1
	}
	if c.Likelihood == "" {
		c.Likelihood = LikelihoodBGe
	}
	if c.AlphaMu <= 0 {
		c.AlphaMu = 1
	}
	if c.AlphaW <= 0 {
		c.AlphaW = float64(c.Vars) + 2
	}
	if c.NoiseVar <= 0 {
		c.NoiseVar = 0.1
	}
	if c.ThetaPriorVar <= 0 {
		c.ThetaPriorVar = 1
	}
	if c.GraphSamples <= 0 {
		c.GraphSamples = 8
	}
	return c
}

func (c ModelConfig) Validate() error {
	if c.Vars <= 0 {
		return errors.New("model config: vars must be > 0")
	}
	if c.LatentDim <= 0 {
		return errors.New("model config: latent dim must be > 0")
	}
	switch c.GraphPrior {
	case GraphPriorErdosRenyi, GraphPriorScaleFree:
	default:
		return fmt.Errorf("unsupported graph prior family: %s", c.GraphPrior)
	}
	switch c.Likelihood {
	case LikelihoodBGe, LikelihoodLinearGaussian:
	default:
		return fmt.Errorf("unsupported likelihood family: %s", c.Likelihood)
	}
	if c.AlphaW <= float64(c.Vars)-1 {
		return fmt.Errorf("model config: alpha_w must be > vars-1, got %g", c.AlphaW)
	}
	if c.GraphSamples <= 0 {
		return errors.New("model config: graph samples must be > 0")
	}
	return nil
}

// RunConfig is the persisted record of how an inference run was launched.
type RunConfig struct {
	VersionedRecord
	RunID        string  `json:"run_id"`
	CreatedAtUTC string  `json:"created_at_utc"`
	Vars         int     `json:"vars"`
	LatentDim    int     `json:"latent_dim"`
	GraphPrior   string  `json:"graph_prior"`
	Likelihood   string  `json:"likelihood"`
	Particles    int     `json:"particles"`
	Steps        int     `json:"steps"`
	Seed         int64   `json:"seed"`
	Workers      int     `json:"workers"`
	GraphSamples int     `json:"graph_samples"`
	StepSize     float64 `json:"step_size"`
}

// StepDiagnostics summarizes one SVGD superstep.
type StepDiagnostics struct {
	Step            int     `json:"step"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	BestLogJoint    float64 `json:"best_log_joint"`
	MeanLogJoint    float64 `json:"mean_log_joint"`
	MeanAcyclicity  float64 `json:"mean_acyclicity"`
	KernelBandwidth float64 `json:"kernel_bandwidth"`
	FailedParticles int     `json:"failed_particles,omitempty"`
}

// GraphRecord is one support point of a persisted posterior distribution.
type GraphRecord struct {
	Key       string      `json:"key"`
	Adjacency [][]int     `json:"adjacency"`
	Weight    float64     `json:"weight"`
	LogJoint  float64     `json:"log_joint"`
	Theta     [][]float64 `json:"theta,omitempty"`
	Count     int         `json:"count"`
}

// PosteriorRecord is a persisted posterior distribution over graphs.
type PosteriorRecord struct {
	VersionedRecord
	RunID  string        `json:"run_id"`
	Kind   string        `json:"kind"`
	Graphs []GraphRecord `json:"graphs"`
}

// MetricsRecord holds post-run evaluation against a known ground truth.
type MetricsRecord struct {
	VersionedRecord
	RunID       string  `json:"run_id"`
	ExpectedSHD float64 `json:"expected_shd"`
	AUROC       float64 `json:"auroc"`
	HeldOutNLL  float64 `json:"held_out_nll"`
}
