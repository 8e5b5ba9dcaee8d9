package synth

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"aitia/internal/model"
)

func TestGenerateValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	if _, err := Generate(Config{Vars: 1, Edges: 0}, rng); err == nil {
		t.Fatal("expected vars validation error")
	}
	if _, err := Generate(Config{Vars: 4, Edges: -1}, rng); err == nil {
		t.Fatal("expected negative edges error")
	}
	if _, err := Generate(Config{Vars: 4, Edges: 7}, rng); err == nil {
		t.Fatal("expected edge budget error for 4 nodes")
	}
	if _, err := Generate(Config{Vars: 4, Edges: 2, GraphType: "lattice"}, rng); err == nil {
		t.Fatal("expected unsupported graph type error")
	}
}

func TestGenerateErdosRenyi(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	gt, err := Generate(Config{Vars: 6, Edges: 8}, rng)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if gt.Graph.Vars() != 6 {
		t.Fatalf("unexpected graph size: %d", gt.Graph.Vars())
	}
	if gt.Graph.Edges() != 8 {
		t.Fatalf("expected exactly 8 edges, got %d", gt.Graph.Edges())
	}
	if !gt.Graph.IsDAG() {
		t.Fatal("generated graph must be acyclic")
	}
	if gt.NoiseStd != 0.3 {
		t.Fatalf("expected default noise std, got %v", gt.NoiseStd)
	}

	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			w := gt.Weights.At(i, j)
			if gt.Graph.Has(i, j) {
				if math.Abs(w) < 0.5 || math.Abs(w) > 2 {
					t.Fatalf("edge weight out of range at (%d,%d): %v", i, j, w)
				}
			} else if w != 0 {
				t.Fatalf("weight on absent edge at (%d,%d): %v", i, j, w)
			}
		}
	}
}

func TestGenerateScaleFree(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	gt, err := Generate(Config{Vars: 8, Edges: 7, GraphType: model.GraphPriorScaleFree}, rng)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !gt.Graph.IsDAG() {
		t.Fatal("generated graph must be acyclic")
	}
	if gt.Graph.Edges() == 0 {
		t.Fatal("expected a non-empty preferential attachment graph")
	}
	if gt.Graph.Edges() > 7 {
		t.Fatalf("edge budget exceeded: %d", gt.Graph.Edges())
	}
}

func TestSampleDimensionsAndSignal(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	gt, err := Generate(Config{Vars: 4, Edges: 3, NoiseStd: 0.1}, rng)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	x, err := Sample(gt, 50, rng)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	rows, cols := x.Dims()
	if rows != 50 || cols != 4 {
		t.Fatalf("unexpected sample shape: %dx%d", rows, cols)
	}

	// a child must covary with its parent under low noise
	var parent, child = -1, -1
	for i := 0; i < 4 && parent < 0; i++ {
		for j := 0; j < 4; j++ {
			if gt.Graph.Has(i, j) {
				parent, child = i, j
				break
			}
		}
	}
	if parent < 0 {
		t.Fatal("ground truth has no edges")
	}
	cov := 0.0
	for r := 0; r < rows; r++ {
		cov += x.At(r, parent) * x.At(r, child)
	}
	if math.Abs(cov) < 1e-6 {
		t.Fatalf("parent and child look independent, cov=%v", cov)
	}

	if _, err := Sample(gt, 0, rng); err == nil {
		t.Fatal("expected sample count validation error")
	}
}

func TestSampleSeedDeterminism(t *testing.T) {
	gen := func() float64 {
		rng := rand.New(rand.NewSource(9))
		gt, err := Generate(Config{Vars: 5, Edges: 4}, rng)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		x, err := Sample(gt, 20, rng)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		sum := 0.0
		for _, v := range x.RawMatrix().Data {
			sum += v
		}
		return sum
	}
	if a, b := gen(), gen(); a != b {
		t.Fatalf("identical seeds must reproduce data: %v vs %v", a, b)
	}
}

func TestDatasetSplit(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	gt, err := Generate(Config{Vars: 3, Edges: 2}, rng)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	ds, err := Dataset(gt, 40, 10, rng)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if rows, _ := ds.X.Dims(); rows != 40 {
		t.Fatalf("unexpected train rows: %d", rows)
	}
	if ds.HeldOut == nil {
		t.Fatal("expected held-out split")
	}
	if rows, _ := ds.HeldOut.Dims(); rows != 10 {
		t.Fatalf("unexpected held-out rows: %d", rows)
	}

	trainOnly, err := Dataset(gt, 15, 0, rng)
	if err != nil {
		t.Fatalf("dataset without held-out: %v", err)
	}
	if trainOnly.HeldOut != nil {
		t.Fatal("held-out must be nil when not requested")
	}
}
