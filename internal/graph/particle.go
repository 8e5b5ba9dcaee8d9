package graph

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Particle is the continuous latent state of one posterior sample: a pair of
// d×k embedding matrices whose pairwise dot products parameterize edge
// probabilities. A particle is exclusively owned by one population slot.
type Particle struct {
	U *mat.Dense
	V *mat.Dense
}

func NewParticle(vars, latentDim int) (*Particle, error) {
	if vars <= 0 {
		return nil, fmt.Errorf("particle vars must be > 0, got %d", vars)
	}
	if latentDim <= 0 {
		return nil, fmt.Errorf("particle latent dim must be > 0, got %d", latentDim)
	}
	return &Particle{
		U: mat.NewDense(vars, latentDim, nil),
		V: mat.NewDense(vars, latentDim, nil),
	}, nil
}

// RandomParticle draws U and V entries i.i.d. from Normal(0, std).
func RandomParticle(vars, latentDim int, std float64, rng *rand.Rand) (*Particle, error) {
	p, err := NewParticle(vars, latentDim)
	if err != nil {
		return nil, err
	}
	if std <= 0 {
		return nil, fmt.Errorf("particle init std must be > 0, got %g", std)
	}
	normal := distuv.Normal{Mu: 0, Sigma: std, Src: rand.NewSource(rng.Uint64())}
	for i := 0; i < vars; i++ {
		for c := 0; c < latentDim; c++ {
			p.U.Set(i, c, normal.Rand())
			p.V.Set(i, c, normal.Rand())
		}
	}
	return p, nil
}

func (p *Particle) Dims() (vars, latentDim int) {
	return p.U.Dims()
}

func (p *Particle) Clone() *Particle {
	return &Particle{
		U: mat.DenseCopyOf(p.U),
		V: mat.DenseCopyOf(p.V),
	}
}

// Flatten copies U then V into a single vector, used by the SVGD kernel.
func (p *Particle) Flatten(dst []float64) []float64 {
	vars, latentDim := p.Dims()
	size := 2 * vars * latentDim
	if cap(dst) < size {
		dst = make([]float64, size)
	}
	dst = dst[:size]
	copy(dst, p.U.RawMatrix().Data)
	copy(dst[vars*latentDim:], p.V.RawMatrix().Data)
	return dst
}

// AddScaled applies p += scale * g, where g has the same shape as p.
func (p *Particle) AddScaled(g *Particle, scale float64) {
	addScaledDense(p.U, g.U, scale)
	addScaledDense(p.V, g.V, scale)
}

// Zero resets both embedding matrices in place.
func (p *Particle) Zero() {
	p.U.Zero()
	p.V.Zero()
}

func addScaledDense(dst, src *mat.Dense, scale float64) {
	d := dst.RawMatrix().Data
	s := src.RawMatrix().Data
	for i := range d {
		d[i] += scale * s[i]
	}
}
