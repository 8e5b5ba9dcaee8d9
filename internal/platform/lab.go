package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
	"aitia/internal/model"
	"aitia/internal/posterior"
	"aitia/internal/stats"
	"aitia/internal/storage"
	"aitia/internal/summary"
	"aitia/internal/svgd"
)

type Config struct {
	Store          storage.Store
	ResultsDir     string
	SupportModules []SupportModule
}

type SupportModule interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

const (
	PosteriorKindEmpirical = "empirical"
	PosteriorKindMixture   = "mixture"
)

// InferenceConfig describes one structure inference run.
type InferenceConfig struct {
	RunID string

	Data  model.Dataset
	Model model.ModelConfig

	// Optional ground truth for post-run evaluation.
	Truth *graph.Graph

	Particles     int
	Steps         int
	Seed          int64
	Workers       int
	InitStd       float64
	StepSize      float64
	ThetaStepSize float64
	Alpha         svgd.Schedule
	Beta          svgd.Schedule
	Bandwidth     float64
	CallbackEvery int
	Callback      svgd.Callback
}

type InferenceResult struct {
	RunID     string
	Empirical summary.Distribution
	Mixture   summary.Distribution
	History   []model.StepDiagnostics
	LogJoints []float64
	Metrics   *model.MetricsRecord
}

// Lab owns the shared services an inference run needs: the store, the
// results directory, and any configured support modules. One Lab hosts many
// runs, each cancellable by run id.
type Lab struct {
	store      storage.Store
	resultsDir string

	mu sync.RWMutex

	supportModules map[string]SupportModule
	started        bool
	lastStopReason StopReason
	runs           map[string]context.CancelFunc

	supervisor *Supervisor
	config     Config
}

var (
	defaultLabMu sync.Mutex
	defaultLab   *Lab
)

func NewLab(cfg Config) *Lab {
	return &Lab{
		store:          cfg.Store,
		resultsDir:     cfg.ResultsDir,
		supportModules: make(map[string]SupportModule),
		runs:           make(map[string]context.CancelFunc),
		supervisor:     NewSupervisor(SupervisorPolicy{}),
		config:         cfg,
		lastStopReason: StopReasonNormal,
	}
}

func StartDefault(ctx context.Context, cfg Config) (*Lab, error) {
	defaultLabMu.Lock()
	defer defaultLabMu.Unlock()

	if defaultLab != nil && defaultLab.Started() {
		return defaultLab, nil
	}

	l := NewLab(cfg)
	if err := l.Init(ctx); err != nil {
		return nil, err
	}
	defaultLab = l
	return defaultLab, nil
}

func Default() (*Lab, bool) {
	defaultLabMu.Lock()
	l := defaultLab
	defaultLabMu.Unlock()

	if l == nil || !l.Started() {
		return nil, false
	}
	return l, true
}

func StopDefault(reason StopReason) error {
	defaultLabMu.Lock()
	l := defaultLab
	defaultLabMu.Unlock()
	if l == nil {
		return nil
	}
	if err := l.StopWithReason(reason); err != nil {
		return err
	}
	defaultLabMu.Lock()
	if defaultLab == l {
		defaultLab = nil
	}
	defaultLabMu.Unlock()
	return nil
}

func (l *Lab) Init(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("store is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}
	if err := l.store.Init(ctx); err != nil {
		return err
	}

	started := make([]SupportModule, 0, len(l.config.SupportModules))
	fail := func(err error) error {
		stopSupportModules(ctx, started)
		l.supportModules = make(map[string]SupportModule)
		return err
	}
	for i, module := range l.config.SupportModules {
		if module == nil {
			return fail(fmt.Errorf("support module is nil at index %d", i))
		}
		name := module.Name()
		if name == "" {
			return fail(fmt.Errorf("support module name is required at index %d", i))
		}
		if _, exists := l.supportModules[name]; exists {
			return fail(fmt.Errorf("duplicate support module: %s", name))
		}
		if err := module.Start(ctx); err != nil {
			return fail(fmt.Errorf("start support module %s: %w", name, err))
		}
		l.supportModules[name] = module
		started = append(started, module)
	}

	l.started = true
	return nil
}

func (l *Lab) Reset(ctx context.Context) error {
	_ = l.StopWithReason(StopReasonShutdown)
	if resetter, ok := l.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return l.Init(ctx)
}

func (l *Lab) Stop() {
	_ = l.StopWithReason(StopReasonNormal)
}

func (l *Lab) Shutdown() {
	_ = l.StopWithReason(StopReasonShutdown)
}

func (l *Lab) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
	default:
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	l.supervisor.StopAll()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cancel := range l.runs {
		cancel()
	}
	for _, module := range l.supportModules {
		_ = module.Stop(context.Background())
	}

	l.started = false
	l.lastStopReason = reason
	l.supportModules = make(map[string]SupportModule)
	l.runs = make(map[string]context.CancelFunc)
	return nil
}

// RunInference validates the request, evolves the particle population, and
// persists config, step history, both posterior summaries, and, when ground
// truth is supplied, the evaluation metrics.
func (l *Lab) RunInference(ctx context.Context, cfg InferenceConfig) (InferenceResult, error) {
	if err := cfg.Data.Validate(); err != nil {
		return InferenceResult{}, err
	}
	modelCfg := cfg.Model
	modelCfg.Vars = cfg.Data.Vars()
	modelCfg = modelCfg.WithDefaults()
	if cfg.Particles <= 0 {
		return InferenceResult{}, fmt.Errorf("particles must be > 0, got %d", cfg.Particles)
	}
	if cfg.Steps <= 0 {
		return InferenceResult{}, fmt.Errorf("steps must be > 0, got %d", cfg.Steps)
	}
	if cfg.Truth != nil && cfg.Truth.Vars() != modelCfg.Vars {
		return InferenceResult{}, fmt.Errorf("ground truth size mismatch: got=%d want=%d", cfg.Truth.Vars(), modelCfg.Vars)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	l.mu.RLock()
	started := l.started
	l.mu.RUnlock()
	if !started {
		return InferenceResult{}, fmt.Errorf("lab is not initialized")
	}

	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("svgd:%s:%d", modelCfg.Likelihood, cfg.Seed)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := l.registerRun(runID, cancel); err != nil {
		return InferenceResult{}, err
	}
	defer l.unregisterRun(runID)

	post, err := posterior.New(modelCfg, cfg.Data)
	if err != nil {
		return InferenceResult{}, err
	}

	sampler, err := svgd.New(svgd.Config{
		Posterior:     post,
		Particles:     cfg.Particles,
		Steps:         cfg.Steps,
		Seed:          cfg.Seed,
		InitStd:       cfg.InitStd,
		StepSize:      cfg.StepSize,
		ThetaStepSize: cfg.ThetaStepSize,
		Alpha:         cfg.Alpha,
		Beta:          cfg.Beta,
		Bandwidth:     cfg.Bandwidth,
		Workers:       cfg.Workers,
		CallbackEvery: cfg.CallbackEvery,
		Callback:      cfg.Callback,
	})
	if err != nil {
		return InferenceResult{}, err
	}

	result, err := sampler.Run(runCtx)
	if err != nil {
		return InferenceResult{}, err
	}

	empirical, err := summary.Empirical(result.Graphs, result.Thetas)
	if err != nil {
		return InferenceResult{}, err
	}
	mixture, err := summary.Mixture(result.Graphs, result.Thetas, result.LogJoints)
	if err != nil {
		return InferenceResult{}, err
	}

	runConfig := model.RunConfig{
		VersionedRecord: versioned(),
		RunID:           runID,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339),
		Vars:            modelCfg.Vars,
		LatentDim:       modelCfg.LatentDim,
		GraphPrior:      modelCfg.GraphPrior,
		Likelihood:      modelCfg.Likelihood,
		Particles:       cfg.Particles,
		Steps:           cfg.Steps,
		Seed:            cfg.Seed,
		Workers:         cfg.Workers,
		GraphSamples:    modelCfg.GraphSamples,
		StepSize:        cfg.StepSize,
	}
	if err := l.store.SaveRunConfig(ctx, runConfig); err != nil {
		return InferenceResult{}, err
	}
	if err := l.store.SaveHistory(ctx, runID, result.History); err != nil {
		return InferenceResult{}, err
	}
	empiricalRecord := toPosteriorRecord(runID, PosteriorKindEmpirical, empirical)
	mixtureRecord := toPosteriorRecord(runID, PosteriorKindMixture, mixture)
	if err := l.store.SavePosterior(ctx, empiricalRecord); err != nil {
		return InferenceResult{}, err
	}
	if err := l.store.SavePosterior(ctx, mixtureRecord); err != nil {
		return InferenceResult{}, err
	}

	var metrics *model.MetricsRecord
	if cfg.Truth != nil {
		record, err := l.evaluate(runID, mixture, cfg.Truth, post, cfg.Data)
		if err != nil {
			return InferenceResult{}, err
		}
		metrics = &record
		if err := l.store.SaveMetrics(ctx, record); err != nil {
			return InferenceResult{}, err
		}
	}

	if l.resultsDir != "" {
		if err := l.writeArtifacts(runConfig, result.History, empiricalRecord, mixtureRecord, metrics, mixture); err != nil {
			return InferenceResult{}, err
		}
	}

	return InferenceResult{
		RunID:     runID,
		Empirical: empirical,
		Mixture:   mixture,
		History:   result.History,
		LogJoints: result.LogJoints,
		Metrics:   metrics,
	}, nil
}

func (l *Lab) evaluate(runID string, mixture summary.Distribution, truth *graph.Graph, post *posterior.Posterior, data model.Dataset) (model.MetricsRecord, error) {
	record := model.MetricsRecord{VersionedRecord: versioned(), RunID: runID}

	shd, err := stats.ExpectedSHD(mixture, truth)
	if err != nil {
		return model.MetricsRecord{}, err
	}
	record.ExpectedSHD = shd

	auroc, err := stats.AUROC(mixture, truth)
	if err != nil {
		return model.MetricsRecord{}, err
	}
	record.AUROC = auroc

	if data.HeldOut != nil {
		nll, err := stats.HeldOutNLL(mixture, post.Scorer(), data.HeldOut)
		if err != nil {
			return model.MetricsRecord{}, err
		}
		record.HeldOutNLL = nll
	}
	return record, nil
}

func (l *Lab) writeArtifacts(cfg model.RunConfig, history []model.StepDiagnostics, empirical, mixture model.PosteriorRecord, metrics *model.MetricsRecord, mixtureDist summary.Distribution) error {
	runDir, err := stats.WriteRunArtifacts(l.resultsDir, stats.RunArtifacts{
		Config:    cfg,
		History:   history,
		Empirical: empirical,
		Mixture:   mixture,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	if marginals := mixtureDist.EdgeMarginals(); marginals != nil {
		if err := stats.WriteMarginalsSeries(runDir, denseRows(marginals)); err != nil {
			return err
		}
	}

	best := 0.0
	if len(history) > 0 {
		best = history[len(history)-1].BestLogJoint
	}
	return stats.AppendRunIndex(l.resultsDir, stats.RunIndexEntry{
		RunID:        cfg.RunID,
		Vars:         cfg.Vars,
		GraphPrior:   cfg.GraphPrior,
		Likelihood:   cfg.Likelihood,
		Particles:    cfg.Particles,
		Steps:        cfg.Steps,
		Seed:         cfg.Seed,
		Workers:      cfg.Workers,
		BestLogJoint: best,
		CreatedAtUTC: cfg.CreatedAtUTC,
	})
}

// RunInferenceAsync launches the run as a supervised background task and
// reports its outcome through done. The returned run id can be passed to
// StopRun to cancel it.
func (l *Lab) RunInferenceAsync(cfg InferenceConfig, done func(InferenceResult, error)) (string, error) {
	if !l.Started() {
		return "", fmt.Errorf("lab is not initialized")
	}

	modelCfg := cfg.Model
	modelCfg.Vars = cfg.Data.Vars()
	modelCfg = modelCfg.WithDefaults()
	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("svgd:%s:%d", modelCfg.Likelihood, cfg.Seed)
	}
	cfg.RunID = runID

	spec := TaskSpec{Name: "run:" + runID, Restart: RestartTemporary}
	err := l.supervisor.StartSpec(spec, func(ctx context.Context) error {
		result, runErr := l.RunInference(ctx, cfg)
		if done != nil {
			done(result, runErr)
		}
		return runErr
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

func (l *Lab) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	l.mu.RLock()
	cancel, ok := l.runs[runID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (l *Lab) registerRun(runID string, cancel context.CancelFunc) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return fmt.Errorf("lab is not initialized")
	}
	if _, exists := l.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	l.runs[runID] = cancel
	return nil
}

func (l *Lab) unregisterRun(runID string) {
	if runID == "" {
		return
	}
	l.mu.Lock()
	delete(l.runs, runID)
	l.mu.Unlock()
}

func (l *Lab) ActiveRuns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.runs))
	for name := range l.runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Lab) ActiveSupportModules() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.supportModules))
	for name := range l.supportModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Lab) Started() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.started
}

func (l *Lab) LastStopReason() StopReason {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastStopReason
}

func (l *Lab) Store() storage.Store { return l.store }

func toPosteriorRecord(runID, kind string, dist summary.Distribution) model.PosteriorRecord {
	graphs := make([]model.GraphRecord, 0, dist.Support())
	for _, item := range dist.Items {
		record := model.GraphRecord{
			Key:       item.Graph.Key(),
			Adjacency: item.Graph.Adjacency(),
			Weight:    item.Weight,
			LogJoint:  item.LogJoint,
			Count:     item.Count,
		}
		if item.Theta != nil {
			record.Theta = denseRows(item.Theta)
		}
		graphs = append(graphs, record)
	}
	return model.PosteriorRecord{
		VersionedRecord: versioned(),
		RunID:           runID,
		Kind:            kind,
		Graphs:          graphs,
	}
}

func denseRows(m *mat.Dense) [][]float64 {
	rows, cols := m.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func versioned() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}

func stopSupportModules(ctx context.Context, modules []SupportModule) {
	for i := len(modules) - 1; i >= 0; i-- {
		_ = modules[i].Stop(ctx)
	}
}
