package main

import (
	"encoding/json"
	"fmt"
	"os"

	"aitia/internal/map2rec"
	aitiaapi "aitia/pkg/aitia"
)

func loadRunRequestFromConfig(path string) (aitiaapi.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return aitiaapi.RunRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return aitiaapi.RunRequest{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return runRequestFromRecord(map2rec.ConvertRun(raw)), nil
}

// overrideFromFlags applies only the flags the user set explicitly on top of
// a config-file request.
func overrideFromFlags(req *aitiaapi.RunRequest, flags aitiaapi.RunRequest, set map[string]bool) {
	if set["run-id"] {
		req.RunID = flags.RunID
	}
	if set["csv"] {
		req.CSVPath = flags.CSVPath
	}
	if set["csv-header"] {
		req.CSVHasHeader = flags.CSVHasHeader
	}
	if set["normalize"] {
		req.Normalize = flags.Normalize
	}
	if set["held-out"] {
		req.HeldOutRows = flags.HeldOutRows
	}
	if set["vars"] {
		req.SynthVars = flags.SynthVars
	}
	if set["edges"] {
		req.SynthEdges = flags.SynthEdges
	}
	if set["noise-std"] {
		req.SynthNoiseStd = flags.SynthNoiseStd
	}
	if set["rows"] {
		req.Rows = flags.Rows
	}
	if set["graph-prior"] {
		req.GraphPrior = flags.GraphPrior
	}
	if set["edges-per-var"] {
		req.EdgesPerVar = flags.EdgesPerVar
	}
	if set["likelihood"] {
		req.Likelihood = flags.Likelihood
	}
	if set["latent-dim"] {
		req.LatentDim = flags.LatentDim
	}
	if set["graph-samples"] {
		req.GraphSamples = flags.GraphSamples
	}
	if set["particles"] {
		req.Particles = flags.Particles
	}
	if set["steps"] {
		req.Steps = flags.Steps
	}
	if set["seed"] {
		req.Seed = flags.Seed
	}
	if set["workers"] {
		req.Workers = flags.Workers
	}
	if set["step-size"] {
		req.StepSize = flags.StepSize
	}
	if set["theta-step-size"] {
		req.ThetaStepSize = flags.ThetaStepSize
	}
	if set["alpha-base"] {
		req.AlphaBase = flags.AlphaBase
	}
	if set["alpha-slope"] {
		req.AlphaSlope = flags.AlphaSlope
	}
	if set["beta-base"] {
		req.BetaBase = flags.BetaBase
	}
	if set["beta-slope"] {
		req.BetaSlope = flags.BetaSlope
	}
	if set["bandwidth"] {
		req.Bandwidth = flags.Bandwidth
	}
}

func runRequestFromRecord(rec map2rec.RunRecord) aitiaapi.RunRequest {
	return aitiaapi.RunRequest{
		RunID:         rec.RunID,
		CSVPath:       rec.CSVPath,
		CSVHasHeader:  rec.CSVHasHeader,
		CSVColumns:    rec.Columns,
		Normalize:     rec.Normalize,
		HeldOutRows:   rec.HeldOutRows,
		SynthVars:     rec.SynthVars,
		SynthEdges:    rec.SynthEdges,
		SynthNoiseStd: rec.SynthNoiseStd,
		Rows:          rec.Rows,
		GraphPrior:    rec.Model.GraphPrior,
		EdgesPerVar:   rec.Model.EdgesPerVar,
		Likelihood:    rec.Model.Likelihood,
		LatentDim:     rec.Model.LatentDim,
		AlphaMu:       rec.Model.AlphaMu,
		AlphaW:        rec.Model.AlphaW,
		NoiseVar:      rec.Model.NoiseVar,
		ThetaPriorVar: rec.Model.ThetaPriorVar,
		GraphSamples:  rec.Model.GraphSamples,
		Particles:     rec.Particles,
		Steps:         rec.Steps,
		Seed:          rec.Seed,
		Workers:       rec.Workers,
		StepSize:      rec.StepSize,
		ThetaStepSize: rec.ThetaStepSize,
		AlphaBase:     rec.Alpha.Base,
		AlphaSlope:    rec.Alpha.Slope,
		BetaBase:      rec.Beta.Base,
		BetaSlope:     rec.Beta.Slope,
		Bandwidth:     rec.Bandwidth,
	}
}
