package aitia

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aitia/internal/platform"
)

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:  "memory",
		ResultsDir: filepath.Join(base, "results"),
		ExportsDir: filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func TestClientRunRunsAndExport(t *testing.T) {
	client, base := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		SynthVars:   3,
		SynthEdges:  2,
		Rows:        60,
		HeldOutRows: 20,
		Particles:   4,
		Steps:       15,
		Seed:        42,
		Workers:     2,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected run id")
	}
	if summary.Vars != 3 {
		t.Fatalf("unexpected vars: %d", summary.Vars)
	}
	if summary.SupportSize == 0 {
		t.Fatal("expected non-empty posterior support")
	}
	if summary.Metrics == nil {
		t.Fatal("expected metrics for synthetic run with ground truth")
	}
	if summary.Metrics.ExpectedSHD < 0 {
		t.Fatalf("unexpected expected shd: %f", summary.Metrics.ExpectedSHD)
	}

	runs, err := client.Runs(context.Background(), RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) == 0 || runs[0].RunID != summary.RunID {
		t.Fatalf("expected latest run %s in runs list: %+v", summary.RunID, runs)
	}

	graphs, err := client.Graphs(context.Background(), GraphsRequest{Latest: true, Limit: 3})
	if err != nil {
		t.Fatalf("graphs: %v", err)
	}
	if len(graphs) == 0 || len(graphs) > 3 {
		t.Fatalf("unexpected graphs count: %d", len(graphs))
	}

	history, err := client.History(context.Background(), HistoryRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 15 {
		t.Fatalf("unexpected history length: %d", len(history))
	}

	metrics, err := client.Metrics(context.Background(), MetricsRequest{Latest: true})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.RunID != summary.RunID {
		t.Fatalf("unexpected metrics run id: %s", metrics.RunID)
	}

	export, err := client.Export(context.Background(), ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if export.RunID != summary.RunID {
		t.Fatalf("unexpected export run id: %s", export.RunID)
	}
	for _, name := range []string{"config.json", "empirical.json", "mixture.json", "history.json", "metrics.json"} {
		if _, err := os.Stat(filepath.Join(export.Directory, name)); err != nil {
			t.Fatalf("missing exported file %s: %v", name, err)
		}
	}
	if !strings.HasPrefix(export.Directory, filepath.Join(base, "exports")) {
		t.Fatalf("export landed outside exports dir: %s", export.Directory)
	}
}

func TestClientRunFromCSV(t *testing.T) {
	client, base := newTestClient(t)

	csvPath := filepath.Join(base, "obs.csv")
	var sb strings.Builder
	sb.WriteString("a,b,c\n")
	rows := []string{
		"0.1,0.4,1.2", "0.3,0.1,0.8", "0.7,0.9,0.2", "0.5,0.2,0.4",
		"0.2,0.8,0.6", "0.9,0.3,0.1", "0.4,0.6,0.9", "0.6,0.5,0.3",
		"0.8,0.7,0.5", "0.15,0.45,0.75", "0.35,0.65,0.95", "0.55,0.25,0.85",
	}
	for _, r := range rows {
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	if err := os.WriteFile(csvPath, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	summary, err := client.Run(context.Background(), RunRequest{
		RunID:        "csv-run",
		CSVPath:      csvPath,
		CSVHasHeader: true,
		HeldOutRows:  2,
		Particles:    3,
		Steps:        8,
		Seed:         7,
		Workers:      1,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID != "csv-run" {
		t.Fatalf("unexpected run id: %s", summary.RunID)
	}
	if summary.Vars != 3 {
		t.Fatalf("unexpected vars: %d", summary.Vars)
	}
	if summary.Metrics != nil {
		t.Fatal("csv run has no ground truth, expected nil metrics")
	}
}

func TestClientGraphsValidation(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.Graphs(context.Background(), GraphsRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected run id xor latest error")
	}
	if _, err := client.Graphs(context.Background(), GraphsRequest{}); err == nil {
		t.Fatal("expected missing selector error")
	}
	if _, err := client.Graphs(context.Background(), GraphsRequest{RunID: "x", Kind: "weird"}); err == nil {
		t.Fatal("expected unsupported kind error")
	}
	if _, err := client.Graphs(context.Background(), GraphsRequest{RunID: "missing", Kind: platform.PosteriorKindEmpirical}); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestClientExportValidation(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.Export(context.Background(), ExportRequest{}); err == nil {
		t.Fatal("expected export selector error")
	}
	if _, err := client.Export(context.Background(), ExportRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected run id xor latest error")
	}
	if _, err := client.Export(context.Background(), ExportRequest{Latest: true}); err == nil {
		t.Fatal("expected no runs error")
	}
}

func TestClientReset(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.Run(context.Background(), RunRequest{
		SynthVars: 3, SynthEdges: 1, Rows: 40, Particles: 3, Steps: 5, Seed: 1, Workers: 1,
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := client.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := client.Metrics(context.Background(), MetricsRequest{Latest: true}); err == nil {
		t.Fatal("expected metrics lookup to fail after reset")
	}
}
