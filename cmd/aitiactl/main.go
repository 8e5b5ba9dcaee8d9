package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"aitia/internal/platform"
	"aitia/internal/stats"
	"aitia/internal/storage"
	aitiaapi "aitia/pkg/aitia"
)

const (
	resultsDir = "results"
	exportsDir = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "graphs":
		return runGraphs(ctx, args[1:])
	case "marginals":
		return runMarginals(ctx, args[1:])
	case "metrics":
		return runMetrics(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newClient(storeKind, dbPath string) (*aitiaapi.Client, error) {
	return aitiaapi.New(aitiaapi.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		ResultsDir: resultsDir,
		ExportsDir: exportsDir,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	csvPath := fs.String("csv", "", "observation matrix CSV path (empty uses a synthetic network)")
	csvHeader := fs.Bool("csv-header", true, "treat first CSV row as a header")
	normalize := fs.String("normalize", "", "column normalization: minmax|zscore (empty disables)")
	heldOut := fs.Int("held-out", 0, "rows reserved for held-out scoring")
	vars := fs.Int("vars", 5, "synthetic network variable count")
	edges := fs.Int("edges", 0, "synthetic network edge count (0 uses vars-1)")
	noiseStd := fs.Float64("noise-std", 0.0, "synthetic observation noise stddev (0 uses default)")
	rows := fs.Int("rows", 200, "synthetic training row count")
	graphPrior := fs.String("graph-prior", "", "graph prior: erdos-renyi|scale-free (empty uses default)")
	edgesPerVar := fs.Float64("edges-per-var", 0.0, "expected edges per variable under the prior (0 uses default)")
	likelihood := fs.String("likelihood", "", "likelihood model: bge|linear-gaussian (empty uses default)")
	latentDim := fs.Int("latent-dim", 0, "latent embedding dimension (0 uses variable count)")
	graphSamples := fs.Int("graph-samples", 0, "Monte Carlo graph samples per gradient step (0 uses default)")
	particles := fs.Int("particles", 20, "particle count")
	steps := fs.Int("steps", 300, "gradient step count")
	seed := fs.Int64("seed", 1, "rng seed")
	workers := fs.Int("workers", 4, "worker count")
	stepSize := fs.Float64("step-size", 0.0, "latent step size (0 uses default)")
	thetaStepSize := fs.Float64("theta-step-size", 0.0, "parameter step size (0 uses default)")
	alphaBase := fs.Float64("alpha-base", 0.0, "edge-probability sharpness base (0 uses default schedule)")
	alphaSlope := fs.Float64("alpha-slope", 0.0, "edge-probability sharpness growth per step")
	betaBase := fs.Float64("beta-base", 0.0, "acyclicity penalty base (0 uses default schedule)")
	betaSlope := fs.Float64("beta-slope", 0.0, "acyclicity penalty growth per step")
	bandwidth := fs.Float64("bandwidth", 0.0, "kernel bandwidth (0 uses median heuristic)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *heldOut < 0 {
		return errors.New("held-out must be >= 0")
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req := aitiaapi.RunRequest{
		RunID:         *runID,
		CSVPath:       *csvPath,
		CSVHasHeader:  *csvHeader,
		Normalize:     *normalize,
		HeldOutRows:   *heldOut,
		SynthVars:     *vars,
		SynthEdges:    *edges,
		SynthNoiseStd: *noiseStd,
		Rows:          *rows,
		GraphPrior:    *graphPrior,
		EdgesPerVar:   *edgesPerVar,
		Likelihood:    *likelihood,
		LatentDim:     *latentDim,
		GraphSamples:  *graphSamples,
		Particles:     *particles,
		Steps:         *steps,
		Seed:          *seed,
		Workers:       *workers,
		StepSize:      *stepSize,
		ThetaStepSize: *thetaStepSize,
		AlphaBase:     *alphaBase,
		AlphaSlope:    *alphaSlope,
		BetaBase:      *betaBase,
		BetaSlope:     *betaSlope,
		Bandwidth:     *bandwidth,
	}
	if *configPath != "" {
		loaded, err := loadRunRequestFromConfig(*configPath)
		if err != nil {
			return err
		}
		overrideFromFlags(&loaded, req, setFlags)
		req = loaded
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("run completed run_id=%s vars=%d particles=%d steps=%d seed=%d\n",
		summary.RunID, summary.Vars, req.Particles, req.Steps, req.Seed)
	fmt.Printf("support=%d best_log_joint=%.6f\n", summary.SupportSize, summary.BestLogJoint)
	if summary.Metrics != nil {
		fmt.Printf("expected_shd=%.6f auroc=%.6f", summary.Metrics.ExpectedSHD, summary.Metrics.AUROC)
		if summary.Metrics.HeldOutNLL != 0 {
			fmt.Printf(" held_out_nll=%.6f", summary.Metrics.HeldOutNLL)
		}
		fmt.Println()
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Runs(ctx, aitiaapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		fmt.Printf("run_id=%s created_at=%s vars=%d prior=%s likelihood=%s particles=%d steps=%d seed=%d best_log_joint=%.6f\n",
			e.RunID,
			e.CreatedAtUTC,
			e.Vars,
			e.GraphPrior,
			e.Likelihood,
			e.Particles,
			e.Steps,
			e.Seed,
			e.BestLogJoint,
		)
	}
	return nil
}

func runGraphs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("graphs", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show graphs for the most recent run from run index")
	kind := fs.String("kind", platform.PosteriorKindMixture, "posterior kind: empirical|mixture")
	limit := fs.Int("limit", 10, "max graphs to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit graphs as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("graphs requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	limitArg := *limit
	if limitArg < 0 {
		limitArg = 0
	}
	graphs, err := client.Graphs(ctx, aitiaapi.GraphsRequest{
		RunID:  *runID,
		Latest: *latest,
		Kind:   *kind,
		Limit:  limitArg,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(graphs)
	}

	for i, g := range graphs {
		fmt.Printf("rank=%d key=%s weight=%.6f log_joint=%.6f edges=%d\n",
			i+1, g.Key, g.Weight, g.LogJoint, countEdges(g.Adjacency))
	}
	return nil
}

func runMarginals(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("marginals", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show marginals for the most recent run from run index")
	threshold := fs.Float64("threshold", 0.0, "only print edges with probability above threshold")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("marginals requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	resolved := *runID
	if *latest {
		entries, err := client.Runs(ctx, aitiaapi.RunsRequest{Limit: 1})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no runs available")
		}
		resolved = entries[0].RunID
	}

	marginals, ok, err := stats.ReadMarginalsSeries(resultsDir, resolved)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no marginals recorded for run %s", resolved)
	}
	for _, m := range marginals {
		if m[2] <= *threshold {
			continue
		}
		fmt.Printf("edge %d->%d probability=%.6f\n", int(m[0]), int(m[1]), m[2])
	}
	return nil
}

func runMetrics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show metrics for the most recent run from run index")
	jsonOut := fs.Bool("json", false, "emit metrics as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("metrics requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.Metrics(ctx, aitiaapi.MetricsRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	fmt.Printf("run_id=%s expected_shd=%.6f auroc=%.6f", record.RunID, record.ExpectedSHD, record.AUROC)
	if record.HeldOutNLL != 0 {
		fmt.Printf(" held_out_nll=%.6f", record.HeldOutNLL)
	}
	fmt.Println()
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show history for the most recent run from run index")
	limit := fs.Int("limit", 50, "max trailing steps to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit history as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("history requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	limitArg := *limit
	if limitArg < 0 {
		limitArg = 0
	}
	history, err := client.History(ctx, aitiaapi.HistoryRequest{RunID: *runID, Latest: *latest, Limit: limitArg})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}

	for _, h := range history {
		fmt.Printf("step=%d alpha=%.4f beta=%.4f best_log_joint=%.6f mean_log_joint=%.6f acyclicity=%.6f bandwidth=%.4f failed=%d\n",
			h.Step, h.Alpha, h.Beta, h.BestLogJoint, h.MeanLogJoint, h.MeanAcyclicity, h.KernelBandwidth, h.FailedParticles)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "aitia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, aitiaapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

func countEdges(adjacency [][]int) int {
	total := 0
	for _, row := range adjacency {
		for _, v := range row {
			if v != 0 {
				total++
			}
		}
	}
	return total
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: aitiactl <init|reset|run|runs|graphs|marginals|metrics|history|export> [flags]", msg)
}
