package coincidences

import (
	"fmt"
	"math"
)

// Gate accepts values in [Min, Max). An unbounded gate accepts everything,
// NaN included; a bounded gate never accepts NaN.
type Gate struct {
	Min float64
	Max float64
}

func Unbounded() Gate {
	return Gate{Min: math.Inf(-1), Max: math.Inf(1)}
}

// NewGate builds a gate from optional bounds.
func NewGate(min, max *float64) Gate {
	gate := Unbounded()
	if min != nil {
		gate.Min = *min
	}
	if max != nil {
		gate.Max = *max
	}
	return gate
}

func (g Gate) IsUnbounded() bool {
	return math.IsInf(g.Min, -1) && math.IsInf(g.Max, 1)
}

func (g Gate) Accepts(value float64) bool {
	if g.IsUnbounded() {
		return true
	}
	return g.Min <= value && value < g.Max
}

func (g Gate) String() string {
	if g.IsUnbounded() {
		return "open"
	}
	return fmt.Sprintf("[%g, %g)", g.Min, g.Max)
}
