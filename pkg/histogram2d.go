package coincidences

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Histogram2D stores counts row-major: Counts[ix*Y.Bins+iy].
type Histogram2D struct {
	X      Axis
	Y      Axis
	Counts []float64
}

func NewHistogram2D(x Axis, y Axis) *Histogram2D {
	return &Histogram2D{X: x, Y: y, Counts: make([]float64, x.Bins*y.Bins)}
}

func (h *Histogram2D) Fill(x, y float64) bool {
	return h.FillWeighted(x, y, 1)
}

func (h *Histogram2D) FillWeighted(x, y float64, weight float64) bool {
	ix, ok := h.X.Index(x)
	if !ok {
		return false
	}
	iy, ok := h.Y.Index(y)
	if !ok {
		return false
	}
	h.Counts[ix*h.Y.Bins+iy] += weight
	return true
}

func (h *Histogram2D) At(ix, iy int) float64 {
	return h.Counts[ix*h.Y.Bins+iy]
}

// Accumulate2D fills h with the pairs (xs[i], ys[i]).
func Accumulate2D[X Number, Y Number](h *Histogram2D, xs []X, ys []Y, weights []float64) (*Histogram2D, error) {
	if len(xs) != len(ys) {
		return h, fmt.Errorf("accumulate 2D: %d x values and %d y values", len(xs), len(ys))
	}
	if weights != nil && len(weights) != len(xs) {
		return h, fmt.Errorf("accumulate 2D: %d values and %d weights", len(xs), len(weights))
	}
	for i := range xs {
		weight := 1.0
		if weights != nil {
			weight = weights[i]
		}
		h.FillWeighted(float64(xs[i]), float64(ys[i]), weight)
	}
	return h, nil
}

func (h *Histogram2D) Empty() *Histogram2D {
	return NewHistogram2D(h.X, h.Y)
}

func (h *Histogram2D) Clone() *Histogram2D {
	clone := h.Empty()
	copy(clone.Counts, h.Counts)
	return clone
}

func Merge2D(h1, h2 *Histogram2D) *Histogram2D {
	if h1.X != h2.X || h1.Y != h2.Y {
		panic(fmt.Sprintf("merging 2D histograms with different axes: %+v/%+v and %+v/%+v", h1.X, h1.Y, h2.X, h2.Y))
	}
	merged := h1.Clone()
	floats.Add(merged.Counts, h2.Counts)
	return merged
}

func (h *Histogram2D) Entries() float64 {
	return floats.Sum(h.Counts)
}

// ProjectionX sums over the Y axis.
func (h *Histogram2D) ProjectionX() *Histogram {
	projection := NewHistogram(h.X)
	for ix := 0; ix < h.X.Bins; ix++ {
		projection.Counts[ix] = floats.Sum(h.Counts[ix*h.Y.Bins : (ix+1)*h.Y.Bins])
	}
	return projection
}

type histogram2DConfigJSON struct {
	BinsX int     `json:"bins_x"`
	MinX  float64 `json:"min_x"`
	MaxX  float64 `json:"max_x"`
	BinsY int     `json:"bins_y"`
	MinY  float64 `json:"min_y"`
	MaxY  float64 `json:"max_y"`
}

type histogram2DJSON struct {
	Config histogram2DConfigJSON `json:"config"`
	Data   []float64             `json:"data"`
}

func (h *Histogram2D) MarshalJSON() ([]byte, error) {
	return json.Marshal(histogram2DJSON{
		Config: histogram2DConfigJSON{
			BinsX: h.X.Bins, MinX: h.X.Min, MaxX: h.X.Max(),
			BinsY: h.Y.Bins, MinY: h.Y.Min, MaxY: h.Y.Max(),
		},
		Data: h.Counts,
	})
}
