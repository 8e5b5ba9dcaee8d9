package svgd

import (
	"math"
	"sort"
)

// rbfKernel holds one iteration's pairwise kernel matrix over the frozen,
// flattened particle positions. Building it is the synchronization barrier:
// every position must be final before any update is computed from it.
type rbfKernel struct {
	n         int
	bandwidth float64
	values    []float64 // n*n, row-major
}

// newRBFKernel computes exp(-||zi-zj||^2 / h) for every pair. When
// bandwidth <= 0 the median heuristic h = med^2 / log(n+1) is used.
func newRBFKernel(positions [][]float64, bandwidth float64) rbfKernel {
	n := len(positions)
	sq := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := sqDist(positions[i], positions[j])
			sq[i*n+j] = d
			sq[j*n+i] = d
		}
	}

	h := bandwidth
	if h <= 0 {
		h = medianHeuristic(sq, n)
	}

	values := make([]float64, n*n)
	for i := range values {
		values[i] = math.Exp(-sq[i] / h)
	}
	return rbfKernel{n: n, bandwidth: h, values: values}
}

func (k rbfKernel) at(i, j int) float64 { return k.values[i*k.n+j] }

func medianHeuristic(sq []float64, n int) float64 {
	if n <= 1 {
		return 1
	}
	pairs := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, sq[i*n+j])
		}
	}
	sort.Float64s(pairs)
	med := pairs[len(pairs)/2]
	if len(pairs)%2 == 0 {
		med = 0.5 * (med + pairs[len(pairs)/2-1])
	}
	h := med / math.Log(float64(n)+1)
	if h <= 0 || math.IsNaN(h) {
		return 1
	}
	return h
}

func sqDist(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		d := a[i] - b[i]
		total += d * d
	}
	return total
}
