package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"aitia/internal/graph"
	"aitia/internal/score"
	"aitia/internal/summary"
)

// ExpectedSHD is the posterior-weighted structural Hamming distance of a
// distribution over graphs against a known ground truth.
func ExpectedSHD(dist summary.Distribution, truth *graph.Graph) (float64, error) {
	if dist.Support() == 0 {
		return 0, errors.New("expected shd requires a non-empty distribution")
	}
	total := 0.0
	for _, item := range dist.Items {
		shd, err := graph.SHD(item.Graph, truth)
		if err != nil {
			return 0, err
		}
		total += item.Weight * float64(shd)
	}
	return total, nil
}

// AUROC scores the distribution's edge marginals against the true edge set
// with the rank statistic: the probability that a random true edge outranks
// a random non-edge, ties counted half.
func AUROC(dist summary.Distribution, truth *graph.Graph) (float64, error) {
	marginals := dist.EdgeMarginals()
	if marginals == nil {
		return 0, errors.New("auroc requires a non-empty distribution")
	}
	vars := truth.Vars()
	mr, _ := marginals.Dims()
	if mr != vars {
		return 0, fmt.Errorf("auroc size mismatch: got=%d want=%d", mr, vars)
	}

	type scored struct {
		prob float64
		pos  bool
	}
	entries := make([]scored, 0, vars*(vars-1))
	positives, negatives := 0, 0
	for i := 0; i < vars; i++ {
		for j := 0; j < vars; j++ {
			if i == j {
				continue
			}
			pos := truth.Has(i, j)
			if pos {
				positives++
			} else {
				negatives++
			}
			entries = append(entries, scored{prob: marginals.At(i, j), pos: pos})
		}
	}
	if positives == 0 || negatives == 0 {
		return 0, errors.New("auroc undefined: ground truth has no positive or no negative pairs")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].prob < entries[j].prob })
	// average rank per tied block keeps the statistic exact under ties
	rankSum := 0.0
	i := 0
	for i < len(entries) {
		j := i
		for j < len(entries) && entries[j].prob == entries[i].prob {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			if entries[k].pos {
				rankSum += avgRank
			}
		}
		i = j
	}
	p := float64(positives)
	n := float64(negatives)
	return (rankSum - p*(p+1)/2) / (p * n), nil
}

// HeldOutNLL is the negative mean per-row log-likelihood of held-out rows
// under the posterior predictive: log sum_G w_G exp(eltwise score), averaged
// over rows, computed through the scorer's eltwise hook only.
func HeldOutNLL(dist summary.Distribution, scorer score.Scorer, rows *mat.Dense) (float64, error) {
	if dist.Support() == 0 {
		return 0, errors.New("held-out nll requires a non-empty distribution")
	}
	if rows == nil {
		return 0, errors.New("held-out nll requires held-out rows")
	}
	nRows, _ := rows.Dims()
	if nRows == 0 {
		return 0, errors.New("held-out nll requires at least one row")
	}

	perGraph := make([][]float64, 0, dist.Support())
	logWeights := make([]float64, 0, dist.Support())
	for _, item := range dist.Items {
		if item.Weight <= 0 {
			continue
		}
		scores, err := scorer.EltwiseLogScore(item.Graph, item.Theta, rows)
		if err != nil {
			if errors.Is(err, score.ErrScoringFailure) {
				continue
			}
			return 0, err
		}
		perGraph = append(perGraph, scores)
		logWeights = append(logWeights, math.Log(item.Weight))
	}
	if len(perGraph) == 0 {
		return 0, errors.New("held-out nll: no graph in the distribution could be scored")
	}

	total := 0.0
	buf := make([]float64, len(perGraph))
	for r := 0; r < nRows; r++ {
		for g := range perGraph {
			buf[g] = logWeights[g] + perGraph[g][r]
		}
		total += floats.LogSumExp(buf)
	}
	return -total / float64(nRows), nil
}
