package svgd

import "fmt"

// Schedule is a linear annealing coefficient: Value(step) = Base +
// Slope*step. Slope must be >= 0 so the coefficient is monotonically
// non-decreasing, hardening the graph relaxation as iterations progress.
type Schedule struct {
	Base  float64
	Slope float64
}

func (s Schedule) Value(step int) float64 {
	return s.Base + s.Slope*float64(step)
}

func (s Schedule) validate(name string) error {
	if s.Base <= 0 {
		return fmt.Errorf("%s schedule base must be > 0, got %g", name, s.Base)
	}
	if s.Slope < 0 {
		return fmt.Errorf("%s schedule slope must be >= 0, got %g", name, s.Slope)
	}
	return nil
}
