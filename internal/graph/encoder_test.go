package graph

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
)

func testParticle(t *testing.T, vars, latentDim int, seed uint64) *Particle {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	p, err := RandomParticle(vars, latentDim, 1.0, rng)
	if err != nil {
		t.Fatalf("random particle: %v", err)
	}
	return p
}

func TestExpectedAdjacencyRange(t *testing.T) {
	p := testParticle(t, 4, 3, 1)
	probs := ExpectedAdjacency(p, 2.0)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v := probs.At(i, j)
			if i == j {
				if v != 0 {
					t.Fatalf("diagonal must be zero, got %g at (%d,%d)", v, i, j)
				}
				continue
			}
			if v <= 0 || v >= 1 {
				t.Fatalf("probability out of (0,1): %g at (%d,%d)", v, i, j)
			}
		}
	}
}

func TestExpectedAdjacencySharpensWithAlpha(t *testing.T) {
	p := testParticle(t, 3, 2, 2)
	soft := ExpectedAdjacency(p, 1.0)
	sharp := ExpectedAdjacency(p, 50.0)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				continue
			}
			distSoft := math.Abs(soft.At(i, j) - 0.5)
			distSharp := math.Abs(sharp.At(i, j) - 0.5)
			if distSharp < distSoft {
				t.Fatalf("alpha growth must push (%d,%d) toward {0,1}: soft=%g sharp=%g", i, j, soft.At(i, j), sharp.At(i, j))
			}
		}
	}
}

func TestHardGraphMatchesThreshold(t *testing.T) {
	p := testParticle(t, 4, 2, 3)
	probs := ExpectedAdjacency(p, 1.0)
	g := HardGraph(p, 1.0)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				if g.Has(i, j) {
					t.Fatal("hard graph must have empty diagonal")
				}
				continue
			}
			if g.Has(i, j) != (probs.At(i, j) > 0.5) {
				t.Fatalf("threshold mismatch at (%d,%d)", i, j)
			}
		}
	}
}

func TestSampleGraphDeterministicPerSeed(t *testing.T) {
	p := testParticle(t, 4, 2, 4)
	a := SampleGraph(p, 1.0, rand.New(rand.NewSource(7)))
	b := SampleGraph(p, 1.0, rand.New(rand.NewSource(7)))
	if a.Key() != b.Key() {
		t.Fatal("same seed must sample the same graph")
	}
}

func TestEdgeLogProbFavorsLikelyGraph(t *testing.T) {
	p := testParticle(t, 3, 2, 5)
	likely := HardGraph(p, 4.0)
	unlikely := NewGraph(3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i != j {
				unlikely.SetEdge(i, j, !likely.Has(i, j))
			}
		}
	}

	lpLikely := EdgeLogProb(p, 4.0, likely)
	lpUnlikely := EdgeLogProb(p, 4.0, unlikely)
	if lpLikely <= lpUnlikely {
		t.Fatalf("thresholded graph must score higher: likely=%g unlikely=%g", lpLikely, lpUnlikely)
	}
	if lpLikely >= 0 {
		t.Fatalf("log probability must be negative, got %g", lpLikely)
	}
}

func TestEdgeLogProbGradFiniteDifference(t *testing.T) {
	p := testParticle(t, 3, 2, 6)
	g := HardGraph(p, 1.0)
	alpha := 1.3
	grad := EdgeLogProbGrad(p, alpha, g)

	const eps = 1e-6
	for i := 0; i < 3; i++ {
		for c := 0; c < 2; c++ {
			orig := p.U.At(i, c)
			p.U.Set(i, c, orig+eps)
			up := EdgeLogProb(p, alpha, g)
			p.U.Set(i, c, orig-eps)
			down := EdgeLogProb(p, alpha, g)
			p.U.Set(i, c, orig)

			numeric := (up - down) / (2 * eps)
			analytic := grad.U.At(i, c)
			if math.Abs(numeric-analytic) > 1e-4*(1+math.Abs(numeric)) {
				t.Fatalf("gradient mismatch at U(%d,%d): numeric=%g analytic=%g", i, c, numeric, analytic)
			}
		}
	}
}

func TestSoftSampleStaysInUnitIntervalAndDiffers(t *testing.T) {
	p := testParticle(t, 3, 2, 8)
	rng := rand.New(rand.NewSource(9))
	relaxed := SoftSample(p, 1.0, 0.5, rng)
	hard := ExpectedAdjacency(p, 1.0)
	anyDiff := false
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				continue
			}
			v := relaxed.At(i, j)
			if v <= 0 || v >= 1 {
				t.Fatalf("relaxed entry out of (0,1): %g", v)
			}
			if math.Abs(v-hard.At(i, j)) > 1e-9 {
				anyDiff = true
			}
		}
	}
	if !anyDiff {
		t.Fatal("gumbel noise must perturb the relaxed sample")
	}
}

func TestParticleFlattenAndAddScaled(t *testing.T) {
	p := testParticle(t, 2, 2, 10)
	flat := p.Flatten(nil)
	if len(flat) != 8 {
		t.Fatalf("unexpected flat length: %d", len(flat))
	}
	if flat[0] != p.U.At(0, 0) || flat[4] != p.V.At(0, 0) {
		t.Fatal("flatten layout must be U rows then V rows")
	}

	clone := p.Clone()
	step, err := NewParticle(2, 2)
	if err != nil {
		t.Fatalf("new particle: %v", err)
	}
	step.U.Set(0, 0, 1)
	clone.AddScaled(step, 0.5)
	if clone.U.At(0, 0) != p.U.At(0, 0)+0.5 {
		t.Fatal("add scaled must apply scale*grad")
	}
	if p.U.At(0, 0) == clone.U.At(0, 0) {
		t.Fatal("clone must not alias the original")
	}
}

func TestRandomParticleValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := RandomParticle(0, 2, 1.0, rng); err == nil {
		t.Fatal("expected vars validation error")
	}
	if _, err := RandomParticle(2, 0, 1.0, rng); err == nil {
		t.Fatal("expected latent dim validation error")
	}
	if _, err := RandomParticle(2, 2, 0, rng); err == nil {
		t.Fatal("expected std validation error")
	}
}
