package synth

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"aitia/internal/graph"
	"aitia/internal/model"
)

// GroundTruth is a known linear-Gaussian network used to synthesize
// benchmark datasets and to evaluate recovered posteriors against.
type GroundTruth struct {
	Graph    *graph.Graph
	Weights  *mat.Dense
	NoiseStd float64
}

type Config struct {
	Vars      int
	Edges     int
	GraphType string
	NoiseStd  float64
	WeightLow float64
	WeightTop float64
}

func (c Config) withDefaults() Config {
	if c.GraphType == "" {
		c.GraphType = model.GraphPriorErdosRenyi
	}
	if c.NoiseStd <= 0 {
		c.NoiseStd = 0.3
	}
	if c.WeightLow <= 0 {
		c.WeightLow = 0.5
	}
	if c.WeightTop <= c.WeightLow {
		c.WeightTop = 2
	}
	return c
}

// Generate draws a random DAG with exactly cfg.Edges edges (when the pair
// budget allows) over a hidden node ordering, plus edge weights of random
// sign with magnitude in [WeightLow, WeightTop].
func Generate(cfg Config, rng *rand.Rand) (GroundTruth, error) {
	cfg = cfg.withDefaults()
	if cfg.Vars <= 1 {
		return GroundTruth{}, fmt.Errorf("synth: vars must be > 1, got %d", cfg.Vars)
	}
	maxEdges := cfg.Vars * (cfg.Vars - 1) / 2
	if cfg.Edges < 0 || cfg.Edges > maxEdges {
		return GroundTruth{}, fmt.Errorf("synth: edges must be in [0, %d], got %d", maxEdges, cfg.Edges)
	}

	order := rng.Perm(cfg.Vars)
	g := graph.NewGraph(cfg.Vars)
	switch cfg.GraphType {
	case model.GraphPriorErdosRenyi:
		pairs := make([][2]int, 0, maxEdges)
		for a := 0; a < cfg.Vars; a++ {
			for b := a + 1; b < cfg.Vars; b++ {
				pairs = append(pairs, [2]int{order[a], order[b]})
			}
		}
		rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		for _, pair := range pairs[:cfg.Edges] {
			g.SetEdge(pair[0], pair[1], true)
		}
	case model.GraphPriorScaleFree:
		// preferential attachment along the hidden order: each later
		// node attaches to earlier nodes proportionally to 1+outdegree
		outdegree := make([]float64, cfg.Vars)
		remaining := cfg.Edges
		for b := 1; b < cfg.Vars && remaining > 0; b++ {
			attach := remaining / (cfg.Vars - b)
			if attach > b {
				attach = b
			}
			for e := 0; e < attach; e++ {
				total := 0.0
				for a := 0; a < b; a++ {
					if !g.Has(order[a], order[b]) {
						total += 1 + outdegree[a]
					}
				}
				if total <= 0 {
					break
				}
				pick := rng.Float64() * total
				acc := 0.0
				for a := 0; a < b; a++ {
					if g.Has(order[a], order[b]) {
						continue
					}
					acc += 1 + outdegree[a]
					if pick <= acc {
						g.SetEdge(order[a], order[b], true)
						outdegree[a]++
						remaining--
						break
					}
				}
			}
		}
	default:
		return GroundTruth{}, fmt.Errorf("unsupported graph type: %s", cfg.GraphType)
	}

	weightDist := distuv.Uniform{Min: cfg.WeightLow, Max: cfg.WeightTop, Src: rand.NewSource(rng.Uint64())}
	weights := mat.NewDense(cfg.Vars, cfg.Vars, nil)
	for i := 0; i < cfg.Vars; i++ {
		for j := 0; j < cfg.Vars; j++ {
			if !g.Has(i, j) {
				continue
			}
			w := weightDist.Rand()
			if rng.Float64() < 0.5 {
				w = -w
			}
			weights.Set(i, j, w)
		}
	}

	return GroundTruth{Graph: g, Weights: weights, NoiseStd: cfg.NoiseStd}, nil
}

// Sample draws n observations by ancestral sampling in topological order.
func Sample(gt GroundTruth, n int, rng *rand.Rand) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("synth: sample count must be > 0, got %d", n)
	}
	order, err := gt.Graph.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("synth: ground truth is not a DAG: %w", err)
	}

	vars := gt.Graph.Vars()
	noise := distuv.Normal{Mu: 0, Sigma: gt.NoiseStd, Src: rand.NewSource(rng.Uint64())}
	out := mat.NewDense(n, vars, nil)
	for r := 0; r < n; r++ {
		for _, j := range order {
			v := noise.Rand()
			for _, parent := range gt.Graph.Parents(j) {
				v += gt.Weights.At(parent, j) * out.At(r, parent)
			}
			out.Set(r, j, v)
		}
	}
	return out, nil
}

// Dataset generates a train and held-out split from one ground truth.
func Dataset(gt GroundTruth, train, heldOut int, rng *rand.Rand) (model.Dataset, error) {
	x, err := Sample(gt, train, rng)
	if err != nil {
		return model.Dataset{}, err
	}
	ds := model.Dataset{X: x}
	if heldOut > 0 {
		ho, err := Sample(gt, heldOut, rng)
		if err != nil {
			return model.Dataset{}, err
		}
		ds.HeldOut = ho
	}
	return ds, nil
}
