package aitia

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/exp/rand"

	"aitia/internal/dataextract"
	"aitia/internal/graph"
	"aitia/internal/model"
	"aitia/internal/platform"
	"aitia/internal/stats"
	"aitia/internal/storage"
	"aitia/internal/svgd"
	"aitia/internal/synth"
)

const (
	defaultResultsDir = "results"
	defaultExportsDir = "exports"
	defaultDBPath     = "aitia.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	ResultsDir string
	ExportsDir string
}

type Client struct {
	store storage.Store
	lab   *platform.Lab

	resultsDir string
	exportsDir string
}

// RunRequest describes one inference run. Observations come either from a
// CSV file or, when CSVPath is empty, from a synthetic linear-Gaussian
// network whose ground truth is then used to score the recovered posterior.
type RunRequest struct {
	RunID string

	CSVPath      string
	CSVHasHeader bool
	CSVColumns   []string
	Normalize    string
	HeldOutRows  int

	SynthVars     int
	SynthEdges    int
	SynthNoiseStd float64
	Rows          int

	GraphPrior    string
	EdgesPerVar   float64
	Likelihood    string
	LatentDim     int
	AlphaMu       float64
	AlphaW        float64
	NoiseVar      float64
	ThetaPriorVar float64
	GraphSamples  int

	Particles     int
	Steps         int
	Seed          int64
	Workers       int
	StepSize      float64
	ThetaStepSize float64
	AlphaBase     float64
	AlphaSlope    float64
	BetaBase      float64
	BetaSlope     float64
	Bandwidth     float64
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Vars         int
	SupportSize  int
	BestLogJoint float64
	Metrics      *model.MetricsRecord
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Vars         int
	GraphPrior   string
	Likelihood   string
	Particles    int
	Steps        int
	Seed         int64
	BestLogJoint float64
}

type GraphsRequest struct {
	RunID  string
	Latest bool
	Kind   string
	Limit  int
}

type MetricsRequest struct {
	RunID  string
	Latest bool
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	resultsDir := opts.ResultsDir
	if resultsDir == "" {
		resultsDir = defaultResultsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		resultsDir: resultsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureLab(ctx)
	return err
}

func (c *Client) Reset(ctx context.Context) error {
	lab, err := c.ensureLab(ctx)
	if err != nil {
		return err
	}
	return lab.Reset(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Particles <= 0 {
		req.Particles = 20
	}
	if req.Steps <= 0 {
		req.Steps = 300
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}
	if req.Rows <= 0 {
		req.Rows = 200
	}
	if req.SynthVars <= 0 {
		req.SynthVars = 5
	}
	if req.SynthEdges <= 0 {
		req.SynthEdges = req.SynthVars - 1
	}
	if req.HeldOutRows < 0 {
		return RunSummary{}, errors.New("held-out rows must be >= 0")
	}

	var (
		data  model.Dataset
		truth *graph.Graph
		err   error
	)
	if req.CSVPath != "" {
		data, err = c.loadCSVDataset(req)
		if err != nil {
			return RunSummary{}, err
		}
	} else {
		data, truth, err = c.synthesizeDataset(req)
		if err != nil {
			return RunSummary{}, err
		}
	}

	modelCfg := model.ModelConfig{
		Vars:          data.Vars(),
		LatentDim:     req.LatentDim,
		GraphPrior:    req.GraphPrior,
		EdgesPerVar:   req.EdgesPerVar,
		Likelihood:    req.Likelihood,
		AlphaMu:       req.AlphaMu,
		AlphaW:        req.AlphaW,
		NoiseVar:      req.NoiseVar,
		ThetaPriorVar: req.ThetaPriorVar,
		GraphSamples:  req.GraphSamples,
	}.WithDefaults()

	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d-%d", modelCfg.Likelihood, req.Seed, time.Now().UTC().Unix())
	}

	lab, err := c.ensureLab(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	var alpha, beta svgd.Schedule
	if req.AlphaBase > 0 {
		alpha = svgd.Schedule{Base: req.AlphaBase, Slope: req.AlphaSlope}
	}
	if req.BetaBase > 0 {
		beta = svgd.Schedule{Base: req.BetaBase, Slope: req.BetaSlope}
	}

	result, err := lab.RunInference(ctx, platform.InferenceConfig{
		RunID:         runID,
		Data:          data,
		Model:         modelCfg,
		Truth:         truth,
		Particles:     req.Particles,
		Steps:         req.Steps,
		Seed:          req.Seed,
		Workers:       req.Workers,
		StepSize:      req.StepSize,
		ThetaStepSize: req.ThetaStepSize,
		Alpha:         alpha,
		Beta:          beta,
		Bandwidth:     req.Bandwidth,
	})
	if err != nil {
		return RunSummary{}, err
	}

	best := 0.0
	if len(result.History) > 0 {
		best = result.History[len(result.History)-1].BestLogJoint
	}
	return RunSummary{
		RunID:        result.RunID,
		ArtifactsDir: filepath.Clean(filepath.Join(c.resultsDir, result.RunID)),
		Vars:         modelCfg.Vars,
		SupportSize:  result.Mixture.Support(),
		BestLogJoint: best,
		Metrics:      result.Metrics,
	}, nil
}

func (c *Client) loadCSVDataset(req RunRequest) (model.Dataset, error) {
	file, err := os.Open(req.CSVPath)
	if err != nil {
		return model.Dataset{}, err
	}
	defer file.Close()

	x, _, err := dataextract.LoadMatrixCSV(file, dataextract.MatrixOptions{
		HasHeader:   req.CSVHasHeader,
		ColumnNames: req.CSVColumns,
		Normalize:   req.Normalize,
	})
	if err != nil {
		return model.Dataset{}, fmt.Errorf("load %s: %w", req.CSVPath, err)
	}
	return dataextract.SplitDataset(x, req.HeldOutRows)
}

func (c *Client) synthesizeDataset(req RunRequest) (model.Dataset, *graph.Graph, error) {
	rng := rand.New(rand.NewSource(uint64(req.Seed) + 1))
	gt, err := synth.Generate(synth.Config{
		Vars:      req.SynthVars,
		Edges:     req.SynthEdges,
		GraphType: req.GraphPrior,
		NoiseStd:  req.SynthNoiseStd,
	}, rng)
	if err != nil {
		return model.Dataset{}, nil, err
	}
	data, err := synth.Dataset(gt, req.Rows, req.HeldOutRows, rng)
	if err != nil {
		return model.Dataset{}, nil, err
	}
	return data, gt.Graph, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.resultsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Vars:         e.Vars,
			GraphPrior:   e.GraphPrior,
			Likelihood:   e.Likelihood,
			Particles:    e.Particles,
			Steps:        e.Steps,
			Seed:         e.Seed,
			BestLogJoint: e.BestLogJoint,
		})
	}
	return out, nil
}

func (c *Client) Graphs(ctx context.Context, req GraphsRequest) ([]model.GraphRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if req.Kind == "" {
		req.Kind = platform.PosteriorKindMixture
	}
	switch req.Kind {
	case platform.PosteriorKindEmpirical, platform.PosteriorKindMixture:
	default:
		return nil, fmt.Errorf("unsupported posterior kind: %s", req.Kind)
	}

	runID, err := c.resolveRunID(req.RunID, req.Latest, "graphs")
	if err != nil {
		return nil, err
	}

	if _, err := c.ensureLab(ctx); err != nil {
		return nil, err
	}
	record, ok, err := c.store.GetPosterior(ctx, runID, req.Kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("posterior not found for run id: %s", runID)
	}

	graphs := record.Graphs
	if req.Limit > 0 && len(graphs) > req.Limit {
		graphs = graphs[:req.Limit]
	}
	out := make([]model.GraphRecord, len(graphs))
	copy(out, graphs)
	return out, nil
}

func (c *Client) Metrics(ctx context.Context, req MetricsRequest) (model.MetricsRecord, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "metrics")
	if err != nil {
		return model.MetricsRecord{}, err
	}

	if _, err := c.ensureLab(ctx); err != nil {
		return model.MetricsRecord{}, err
	}
	record, ok, err := c.store.GetMetrics(ctx, runID)
	if err != nil {
		return model.MetricsRecord{}, err
	}
	if !ok {
		return model.MetricsRecord{}, fmt.Errorf("metrics not found for run id: %s", runID)
	}
	return record, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.StepDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "history")
	if err != nil {
		return nil, err
	}

	if _, err := c.ensureLab(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[len(history)-req.Limit:]
	}
	out := make([]model.StepDiagnostics, len(history))
	copy(out, history)
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.resultsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.resultsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", op)
	}
	return runID, nil
}

func (c *Client) ensureLab(ctx context.Context) (*platform.Lab, error) {
	if c.lab != nil {
		return c.lab, nil
	}
	lab := platform.NewLab(platform.Config{Store: c.store, ResultsDir: c.resultsDir})
	if err := lab.Init(ctx); err != nil {
		return nil, err
	}
	c.lab = lab
	return c.lab, nil
}
