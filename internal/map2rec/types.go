package map2rec

// ScheduleSpec mirrors an annealing schedule: value(t) = Base + Slope*t.
type ScheduleSpec struct {
	Base  float64
	Slope float64
}

type ModelRecord struct {
	GraphPrior    string
	EdgesPerVar   float64
	Likelihood    string
	LatentDim     int
	AlphaMu       float64
	AlphaW        float64
	NoiseVar      float64
	ThetaPriorVar float64
	GraphSamples  int
}

type RunRecord struct {
	RunID         string
	CSVPath       string
	CSVHasHeader  bool
	Columns       []string
	Normalize     string
	Rows          int
	HeldOutRows   int
	SynthVars     int
	SynthEdges    int
	SynthNoiseStd float64
	Particles     int
	Steps         int
	Seed          int64
	Workers       int
	StepSize      float64
	ThetaStepSize float64
	Alpha         ScheduleSpec
	Beta          ScheduleSpec
	Bandwidth     float64
	Model         ModelRecord
}

func defaultModelRecord() ModelRecord {
	return ModelRecord{}
}

func defaultRunRecord() RunRecord {
	return RunRecord{
		CSVHasHeader: true,
		Rows:         200,
		SynthVars:    5,
		Particles:    20,
		Steps:        300,
		Seed:         1,
		Workers:      4,
		Model:        defaultModelRecord(),
	}
}

func defaultScheduleRecord() ScheduleSpec {
	return ScheduleSpec{}
}
