package coincidences

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// Axis is a fixed bin-width axis. Values are accepted in [Min, Max()).
type Axis struct {
	Min        float64 `json:"min"`
	Resolution float64 `json:"resolution"`
	Bins       int     `json:"bins"`
}

// BuildAxis drops the last partial bin: the number of bins is
// floor((max - min) / resolution) and the last usable edge is
// min + bins * resolution.
func BuildAxis(min, max, resolution float64) (Axis, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return Axis{}, fmt.Errorf("%w: resolution %g", ErrInvalidAxis, resolution)
	}
	bins := math.Floor((max - min) / resolution)
	if !(bins >= 1) || math.IsInf(bins, 0) {
		return Axis{}, fmt.Errorf("%w: range [%g, %g) holds no bin of width %g", ErrInvalidAxis, min, max, resolution)
	}
	return Axis{Min: min, Resolution: resolution, Bins: int(bins)}, nil
}

// BinnedAxis splits [min, max] in bins equal-width bins. max itself falls in
// the last bin.
func BinnedAxis(min, max float64, bins int) (Axis, error) {
	if bins < 1 {
		return Axis{}, fmt.Errorf("%w: %d bins", ErrInvalidAxis, bins)
	}
	upper := math.Nextafter(max, math.Inf(1))
	resolution := (upper - min) / float64(bins)
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return Axis{}, fmt.Errorf("%w: range [%g, %g]", ErrInvalidAxis, min, max)
	}
	return Axis{Min: min, Resolution: resolution, Bins: bins}, nil
}

func (a Axis) Max() float64 {
	return a.Min + float64(a.Bins)*a.Resolution
}

func (a Axis) Edges() []float64 {
	edges := make([]float64, a.Bins+1)
	for i := range edges {
		edges[i] = a.Min + float64(i)*a.Resolution
	}
	return edges
}

func (a Axis) LeftEdges() []float64 {
	return a.Edges()[:a.Bins]
}

// Index returns the bin of v, or false when v is outside the axis or NaN.
func (a Axis) Index(v float64) (int, bool) {
	if !(v >= a.Min && v < a.Max()) {
		return -1, false
	}
	index := int((v - a.Min) / a.Resolution)
	if index >= a.Bins {
		index = a.Bins - 1
	}
	return index, true
}

type Histogram struct {
	Axis   Axis
	Counts []float64
}

func NewHistogram(axis Axis) *Histogram {
	return &Histogram{Axis: axis, Counts: make([]float64, axis.Bins)}
}

func (h *Histogram) Fill(value float64) bool {
	return h.FillWeighted(value, 1)
}

func (h *Histogram) FillWeighted(value float64, weight float64) bool {
	index, ok := h.Axis.Index(value)
	if !ok {
		return false
	}
	h.Counts[index] += weight
	return true
}

// Accumulate adds values to h, with unit weights when weights is nil.
func Accumulate[T Number](h *Histogram, values []T, weights []float64) (*Histogram, error) {
	if weights != nil && len(weights) != len(values) {
		return h, fmt.Errorf("accumulate: %d values and %d weights", len(values), len(weights))
	}
	for i, value := range values {
		weight := 1.0
		if weights != nil {
			weight = weights[i]
		}
		h.FillWeighted(float64(value), weight)
	}
	return h, nil
}

// Empty returns a histogram with the same geometry and no counts.
func (h *Histogram) Empty() *Histogram {
	return NewHistogram(h.Axis)
}

func (h *Histogram) Clone() *Histogram {
	clone := NewHistogram(h.Axis)
	copy(clone.Counts, h.Counts)
	return clone
}

// Merge returns the bin-by-bin sum of h1 and h2. Different geometries are a
// programming error.
func Merge(h1, h2 *Histogram) *Histogram {
	if h1.Axis != h2.Axis {
		panic(fmt.Sprintf("merging histograms with different axes: %+v and %+v", h1.Axis, h2.Axis))
	}
	merged := h1.Clone()
	floats.Add(merged.Counts, h2.Counts)
	return merged
}

func MergeAll(first *Histogram, others ...*Histogram) *Histogram {
	merged := first.Clone()
	for _, other := range others {
		merged = Merge(merged, other)
	}
	return merged
}

// Normalized divides every bin by liveTime.
func (h *Histogram) Normalized(liveTime float64) *Histogram {
	normalized := h.Clone()
	if liveTime > 0 {
		floats.Scale(1/liveTime, normalized.Counts)
	}
	return normalized
}

func (h *Histogram) Entries() float64 {
	return floats.Sum(h.Counts)
}

func (h *Histogram) Integral() float64 {
	return h.Entries() * h.Axis.Resolution
}

func (h *Histogram) Max() float64 {
	return floats.Max(h.Counts)
}

func (h *Histogram) PeakIndex() int {
	return floats.MaxIdx(h.Counts)
}

// Mean and Variance are computed on the left bin edges.
func (h *Histogram) Mean() float64 {
	mean, _ := h.meanVariance()
	return mean
}

func (h *Histogram) Variance() float64 {
	_, variance := h.meanVariance()
	return variance
}

func (h *Histogram) StdDev() float64 {
	return math.Sqrt(h.Variance())
}

func (h *Histogram) meanVariance() (float64, float64) {
	if h.Entries() == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanVariance(h.Axis.LeftEdges(), h.Counts)
}

type histogramConfigJSON struct {
	Bins int     `json:"bins"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type histogramJSON struct {
	Config histogramConfigJSON `json:"config"`
	Data   []float64           `json:"data"`
}

func (h *Histogram) MarshalJSON() ([]byte, error) {
	return json.Marshal(histogramJSON{
		Config: histogramConfigJSON{Bins: h.Axis.Bins, Min: h.Axis.Min, Max: h.Axis.Max()},
		Data:   h.Counts,
	})
}
