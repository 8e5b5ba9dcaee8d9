package map2rec

func Convert(kind string, in map[string]any) (any, error) {
	switch kind {
	case "run":
		return ConvertRun(in), nil
	case "model":
		return ConvertModel(in), nil
	case "schedule":
		return ConvertSchedule(in), nil
	default:
		return nil, ErrUnsupportedKind
	}
}

func ConvertRun(in map[string]any) RunRecord {
	out := defaultRunRecord()
	for key, val := range in {
		switch key {
		case "run_id":
			if s, ok := asString(val); ok {
				out.RunID = s
			}
		case "csv_path":
			if s, ok := asString(val); ok {
				out.CSVPath = s
			}
		case "csv_has_header":
			if b, ok := asBool(val); ok {
				out.CSVHasHeader = b
			}
		case "columns":
			if xs, ok := asStrings(val); ok {
				out.Columns = xs
			}
		case "normalize":
			if s, ok := asString(val); ok {
				out.Normalize = s
			}
		case "rows":
			if n, ok := asInt(val); ok {
				out.Rows = n
			}
		case "held_out_rows":
			if n, ok := asInt(val); ok {
				out.HeldOutRows = n
			}
		case "synth_vars":
			if n, ok := asInt(val); ok {
				out.SynthVars = n
			}
		case "synth_edges":
			if n, ok := asInt(val); ok {
				out.SynthEdges = n
			}
		case "synth_noise_std":
			if f, ok := asFloat64(val); ok {
				out.SynthNoiseStd = f
			}
		case "particles":
			if n, ok := asInt(val); ok {
				out.Particles = n
			}
		case "steps":
			if n, ok := asInt(val); ok {
				out.Steps = n
			}
		case "seed":
			if n, ok := asInt64(val); ok {
				out.Seed = n
			}
		case "workers":
			if n, ok := asInt(val); ok {
				out.Workers = n
			}
		case "step_size":
			if f, ok := asFloat64(val); ok {
				out.StepSize = f
			}
		case "theta_step_size":
			if f, ok := asFloat64(val); ok {
				out.ThetaStepSize = f
			}
		case "alpha":
			if m, ok := val.(map[string]any); ok {
				out.Alpha = ConvertSchedule(m)
			}
		case "beta":
			if m, ok := val.(map[string]any); ok {
				out.Beta = ConvertSchedule(m)
			}
		case "bandwidth":
			if f, ok := asFloat64(val); ok {
				out.Bandwidth = f
			}
		case "model":
			if m, ok := val.(map[string]any); ok {
				out.Model = ConvertModel(m)
			}
		}
	}
	return out
}

func ConvertModel(in map[string]any) ModelRecord {
	out := defaultModelRecord()
	for key, val := range in {
		switch key {
		case "graph_prior":
			if s, ok := asString(val); ok {
				out.GraphPrior = s
			}
		case "edges_per_var":
			if f, ok := asFloat64(val); ok {
				out.EdgesPerVar = f
			}
		case "likelihood":
			if s, ok := asString(val); ok {
				out.Likelihood = s
			}
		case "latent_dim":
			if n, ok := asInt(val); ok {
				out.LatentDim = n
			}
		case "alpha_mu":
			if f, ok := asFloat64(val); ok {
				out.AlphaMu = f
			}
		case "alpha_w":
			if f, ok := asFloat64(val); ok {
				out.AlphaW = f
			}
		case "noise_var":
			if f, ok := asFloat64(val); ok {
				out.NoiseVar = f
			}
		case "theta_prior_var":
			if f, ok := asFloat64(val); ok {
				out.ThetaPriorVar = f
			}
		case "graph_samples":
			if n, ok := asInt(val); ok {
				out.GraphSamples = n
			}
		}
	}
	return out
}

func ConvertSchedule(in map[string]any) ScheduleSpec {
	out := defaultScheduleRecord()
	for key, val := range in {
		switch key {
		case "base":
			if f, ok := asFloat64(val); ok {
				out.Base = f
			}
		case "slope":
			if f, ok := asFloat64(val); ok {
				out.Slope = f
			}
		}
	}
	return out
}
