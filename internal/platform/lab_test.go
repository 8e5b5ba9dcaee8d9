package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/exp/rand"

	"aitia/internal/model"
	"aitia/internal/stats"
	"aitia/internal/storage"
	"aitia/internal/synth"
)

func newTestLab(t *testing.T) (*Lab, string) {
	t.Helper()
	resultsDir := t.TempDir()
	lab := NewLab(Config{Store: storage.NewMemoryStore(), ResultsDir: resultsDir})
	if err := lab.Init(context.Background()); err != nil {
		t.Fatalf("init lab: %v", err)
	}
	t.Cleanup(lab.Shutdown)
	return lab, resultsDir
}

func benchmarkInference(t *testing.T, runID string) InferenceConfig {
	t.Helper()
	rng := rand.New(rand.NewSource(17))
	gt, err := synth.Generate(synth.Config{Vars: 3, Edges: 2}, rng)
	if err != nil {
		t.Fatalf("generate ground truth: %v", err)
	}
	data, err := synth.Dataset(gt, 60, 15, rng)
	if err != nil {
		t.Fatalf("synthesize dataset: %v", err)
	}
	return InferenceConfig{
		RunID:     runID,
		Data:      data,
		Model:     model.ModelConfig{Likelihood: model.LikelihoodBGe, GraphSamples: 4},
		Truth:     gt.Graph,
		Particles: 4,
		Steps:     10,
		Seed:      42,
		Workers:   2,
	}
}

func TestLabInitRequiresStore(t *testing.T) {
	lab := NewLab(Config{})
	if err := lab.Init(context.Background()); err == nil {
		t.Fatal("expected missing store error")
	}
}

func TestRunInferencePersistsEverything(t *testing.T) {
	lab, resultsDir := newTestLab(t)
	ctx := context.Background()
	cfg := benchmarkInference(t, "lab-run")

	result, err := lab.RunInference(ctx, cfg)
	if err != nil {
		t.Fatalf("run inference: %v", err)
	}
	if result.RunID != "lab-run" {
		t.Fatalf("unexpected run id: %s", result.RunID)
	}
	if result.Empirical.Support() == 0 || result.Mixture.Support() == 0 {
		t.Fatal("both posterior summaries must be non-empty")
	}
	if len(result.History) != 10 {
		t.Fatalf("expected 10 history rows, got %d", len(result.History))
	}
	if result.Metrics == nil {
		t.Fatal("ground truth was supplied, metrics must be present")
	}
	if result.Metrics.HeldOutNLL == 0 {
		t.Fatal("held-out rows were supplied, nll must be computed")
	}

	store := lab.Store()
	if _, ok, err := store.GetRunConfig(ctx, "lab-run"); err != nil || !ok {
		t.Fatalf("run config not persisted: ok=%v err=%v", ok, err)
	}
	history, ok, err := store.GetHistory(ctx, "lab-run")
	if err != nil || !ok || len(history) != 10 {
		t.Fatalf("history not persisted: ok=%v err=%v len=%d", ok, err, len(history))
	}
	for _, kind := range []string{PosteriorKindEmpirical, PosteriorKindMixture} {
		record, ok, err := store.GetPosterior(ctx, "lab-run", kind)
		if err != nil || !ok {
			t.Fatalf("%s posterior not persisted: ok=%v err=%v", kind, ok, err)
		}
		if len(record.Graphs) == 0 {
			t.Fatalf("%s posterior has no graphs", kind)
		}
	}
	if _, ok, err := store.GetMetrics(ctx, "lab-run"); err != nil || !ok {
		t.Fatalf("metrics not persisted: ok=%v err=%v", ok, err)
	}

	for _, file := range []string{"config.json", "history.json", "empirical.json", "mixture.json", "metrics.json", "marginals.csv"} {
		if _, err := os.Stat(filepath.Join(resultsDir, "lab-run", file)); err != nil {
			t.Fatalf("artifact missing: %s: %v", file, err)
		}
	}
	entries, err := stats.ListRunIndex(resultsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "lab-run" {
		t.Fatalf("run index mismatch: %+v", entries)
	}
}

func TestRunInferenceValidation(t *testing.T) {
	lab, _ := newTestLab(t)
	ctx := context.Background()
	cfg := benchmarkInference(t, "bad-run")

	broken := cfg
	broken.Particles = 0
	if _, err := lab.RunInference(ctx, broken); err == nil {
		t.Fatal("expected particles validation error")
	}

	broken = cfg
	broken.Steps = 0
	if _, err := lab.RunInference(ctx, broken); err == nil {
		t.Fatal("expected steps validation error")
	}

	broken = cfg
	broken.Data = model.Dataset{}
	if _, err := lab.RunInference(ctx, broken); err == nil {
		t.Fatal("expected dataset validation error")
	}

	broken = benchmarkInference(t, "mismatch")
	wrong, err := synth.Generate(synth.Config{Vars: 5, Edges: 3}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	broken.Truth = wrong.Graph
	if _, err := lab.RunInference(ctx, broken); err == nil {
		t.Fatal("expected ground truth size mismatch error")
	}

	lab.Stop()
	if _, err := lab.RunInference(ctx, cfg); err == nil {
		t.Fatal("expected uninitialized lab error")
	}
}

func TestRunInferenceDeterministicAcrossRuns(t *testing.T) {
	lab, _ := newTestLab(t)
	ctx := context.Background()

	first, err := lab.RunInference(ctx, benchmarkInference(t, "det-a"))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := lab.RunInference(ctx, benchmarkInference(t, "det-b"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.LogJoints) != len(second.LogJoints) {
		t.Fatal("population size mismatch")
	}
	for i := range first.LogJoints {
		if first.LogJoints[i] != second.LogJoints[i] {
			t.Fatalf("log joint %d differs across identical runs", i)
		}
	}
	if first.Metrics.ExpectedSHD != second.Metrics.ExpectedSHD {
		t.Fatal("metrics differ across identical runs")
	}
}

func TestRegisterRunRejectsDuplicates(t *testing.T) {
	lab, _ := newTestLab(t)

	if err := lab.registerRun("", func() {}); err == nil {
		t.Fatal("expected missing run id error")
	}
	if err := lab.registerRun("r1", func() {}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := lab.registerRun("r1", func() {}); err == nil {
		t.Fatal("expected duplicate run error")
	}
	if got := lab.ActiveRuns(); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("unexpected active runs: %v", got)
	}
	if err := lab.StopRun("r1"); err != nil {
		t.Fatalf("stop run: %v", err)
	}
	lab.unregisterRun("r1")
	if err := lab.StopRun("r1"); err == nil {
		t.Fatal("expected inactive run error")
	}
	if err := lab.StopRun(""); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestRunInferenceAsync(t *testing.T) {
	lab, _ := newTestLab(t)
	cfg := benchmarkInference(t, "async-run")

	done := make(chan error, 1)
	runID, err := lab.RunInferenceAsync(cfg, func(result InferenceResult, runErr error) {
		if runErr == nil && result.RunID != "async-run" {
			runErr = errors.New("wrong run id in callback")
		}
		done <- runErr
	})
	if err != nil {
		t.Fatalf("start async run: %v", err)
	}
	if runID != "async-run" {
		t.Fatalf("unexpected run id: %s", runID)
	}

	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("async run failed: %v", runErr)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("async run never completed")
	}

	if _, ok, err := lab.Store().GetRunConfig(context.Background(), "async-run"); err != nil || !ok {
		t.Fatalf("async run not persisted: ok=%v err=%v", ok, err)
	}
}

func TestLabReset(t *testing.T) {
	lab, _ := newTestLab(t)
	ctx := context.Background()

	if _, err := lab.RunInference(ctx, benchmarkInference(t, "pre-reset")); err != nil {
		t.Fatalf("run inference: %v", err)
	}
	if err := lab.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !lab.Started() {
		t.Fatal("reset must leave the lab initialized")
	}
	if _, ok, err := lab.Store().GetRunConfig(ctx, "pre-reset"); err != nil || ok {
		t.Fatalf("store must be cleared after reset: ok=%v err=%v", ok, err)
	}
}

type fakeModule struct {
	name     string
	startErr error
	started  bool
	stopped  bool
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *fakeModule) Stop(ctx context.Context) error {
	m.stopped = true
	return nil
}

func TestLabSupportModules(t *testing.T) {
	a := &fakeModule{name: "cache"}
	b := &fakeModule{name: "reporter"}
	lab := NewLab(Config{
		Store:          storage.NewMemoryStore(),
		SupportModules: []SupportModule{a, b},
	})
	if err := lab.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := lab.ActiveSupportModules(); len(got) != 2 || got[0] != "cache" || got[1] != "reporter" {
		t.Fatalf("unexpected support modules: %v", got)
	}

	lab.Shutdown()
	if !a.stopped || !b.stopped {
		t.Fatal("shutdown must stop all support modules")
	}
	if lab.LastStopReason() != StopReasonShutdown {
		t.Fatalf("unexpected stop reason: %s", lab.LastStopReason())
	}
}

func TestLabInitRollsBackOnModuleFailure(t *testing.T) {
	ok := &fakeModule{name: "first"}
	bad := &fakeModule{name: "second", startErr: errors.New("refused")}
	lab := NewLab(Config{
		Store:          storage.NewMemoryStore(),
		SupportModules: []SupportModule{ok, bad},
	})

	if err := lab.Init(context.Background()); err == nil {
		t.Fatal("expected init failure")
	}
	if !ok.stopped {
		t.Fatal("already started modules must be stopped on rollback")
	}
	if lab.Started() {
		t.Fatal("lab must not be marked started after rollback")
	}

	dup := NewLab(Config{
		Store:          storage.NewMemoryStore(),
		SupportModules: []SupportModule{&fakeModule{name: "x"}, &fakeModule{name: "x"}},
	})
	if err := dup.Init(context.Background()); err == nil {
		t.Fatal("expected duplicate module error")
	}
}
