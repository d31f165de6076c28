package coincidences

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/optimize"
)

const (
	DefaultDeltaBins     = 1000
	DefaultFitRounds     = 4
	DefaultTauLowFactor  = 3
	DefaultTauHighFactor = 6
	minFitBins           = 3
)

type RateSettings struct {
	Bins          int
	DeltaMin      float64
	DeltaMax      float64 // zero means the largest observed difference
	FitRounds     int
	TauLowFactor  float64
	TauHighFactor float64
}

func DefaultRateSettings() RateSettings {
	return RateSettings{
		Bins:          DefaultDeltaBins,
		FitRounds:     DefaultFitRounds,
		TauLowFactor:  DefaultTauLowFactor,
		TauHighFactor: DefaultTauHighFactor,
	}
}

// DeltaCollector gathers the differences between consecutive timestamps of
// one channel across batches.
type DeltaCollector struct {
	Channel   uint8
	TimeScale float64
	Settings  RateSettings

	Events   uint64
	First    uint64
	Last     uint64
	Negative uint64

	deltas    []float64
	maxDelta  float64
	histogram *Histogram

	// Histogram of deltas[:binnedCount], rebuilt only when the range grows.
	binned      *Histogram
	binnedCount int
}

func NewDeltaCollector(channel uint8, timeScale float64, settings RateSettings) (*DeltaCollector, error) {
	collector := &DeltaCollector{Channel: channel, TimeScale: timeScale, Settings: settings}
	if settings.DeltaMax > 0 {
		axis, err := BinnedAxis(settings.DeltaMin, settings.DeltaMax, settings.Bins)
		if err != nil {
			return nil, fmt.Errorf("channel %d time differences: %w", channel, err)
		}
		collector.histogram = NewHistogram(axis)
	}
	return collector, nil
}

// Add takes events in timestamp order; other channels are ignored.
// Differences that go backwards in time are counted and skipped.
func (d *DeltaCollector) Add(events []Event) {
	for _, event := range events {
		if event.Channel != d.Channel {
			continue
		}
		if d.Events == 0 {
			d.First = event.Timestamp
			d.Last = event.Timestamp
			d.Events++
			continue
		}
		d.Events++
		if event.Timestamp < d.Last {
			d.Negative++
			d.Last = event.Timestamp
			continue
		}
		delta := float64(event.Timestamp-d.Last) * d.TimeScale
		d.Last = event.Timestamp
		if d.histogram != nil {
			d.histogram.Fill(delta)
		} else {
			if len(d.deltas) == 0 || delta > d.maxDelta {
				d.maxDelta = delta
			}
			d.deltas = append(d.deltas, delta)
		}
	}
}

func (d *DeltaCollector) LiveTime() float64 {
	if d.Last <= d.First {
		return 0
	}
	return float64(d.Last-d.First) * d.TimeScale
}

// Histogram returns the time difference histogram built so far. Without a
// fixed delta_max only the differences added since the last call are binned,
// unless the largest difference changed the range.
func (d *DeltaCollector) Histogram() (*Histogram, error) {
	if d.histogram != nil {
		return d.histogram.Clone(), nil
	}
	if len(d.deltas) == 0 {
		return nil, fmt.Errorf("channel %d: no time differences", d.Channel)
	}
	axis, err := BinnedAxis(d.Settings.DeltaMin, d.maxDelta, d.Settings.Bins)
	if err != nil {
		return nil, fmt.Errorf("channel %d time differences: %w", d.Channel, err)
	}
	if d.binned == nil || d.binned.Axis != axis {
		d.binned = NewHistogram(axis)
		d.binnedCount = 0
	}
	if _, err := Accumulate(d.binned, d.deltas[d.binnedCount:], nil); err != nil {
		return nil, err
	}
	d.binnedCount = len(d.deltas)
	return d.binned.Clone(), nil
}

type RateEstimate struct {
	Channel       uint8
	Amplitude     float64
	Tau           float64
	TauLowFactor  float64
	TauHighFactor float64
	FitBins       int
	Events        uint64
	LiveTime      float64
	MeasuredRate  float64
	TrueRate      float64
	// DeadTime is the non-paralyzable dead time per event.
	DeadTime     float64
	DeadFraction float64
}

func exponentialResiduals(x, y []float64) func(p []float64) float64 {
	return func(p []float64) float64 {
		amplitude := math.Exp(p[0])
		tau := math.Exp(p[1])
		sum := 0.0
		for i := range x {
			residual := y[i] - amplitude*math.Exp(-x[i]/tau)
			sum += residual * residual
		}
		return sum
	}
}

func fitWindow(edges, counts []float64, low, high float64) ([]float64, []float64) {
	var x, y []float64
	for i, edge := range edges {
		if low <= edge && edge <= high {
			x = append(x, edge)
			y = append(y, counts[i])
		}
	}
	return x, y
}

// FitExponential fits A*exp(-t/tau) to the histogram. The starting point
// comes from the peak and the integral of the histogram; every round then
// refits the bins whose left edge lies in [lowFactor*tau, highFactor*tau]
// for the current tau.
func FitExponential(histogram *Histogram, rounds int, lowFactor, highFactor float64) (amplitude float64, tau float64, fitBins int, err error) {
	edges := histogram.Axis.LeftEdges()
	if len(edges) < minFitBins {
		return 0, 0, 0, fmt.Errorf("%w: %d bins", ErrFitFailed, len(edges))
	}
	amplitude = histogram.Max()
	if !(amplitude > 0) {
		return 0, 0, 0, fmt.Errorf("%w: empty histogram", ErrFitFailed)
	}
	tau = integrate.Trapezoidal(edges, histogram.Counts) / amplitude
	if !(tau > 0) {
		return 0, 0, 0, fmt.Errorf("%w: initial tau %g", ErrFitFailed, tau)
	}

	settings := &optimize.Settings{
		MajorIterations: 5000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 200,
		},
	}

	for round := 0; round < rounds; round++ {
		x, y := fitWindow(edges, histogram.Counts, lowFactor*tau, highFactor*tau)
		if len(x) < minFitBins || floats.Sum(y) <= 0 {
			return amplitude, tau, len(x), fmt.Errorf("%w: round %d has %d usable bins in [%g, %g]",
				ErrFitFailed, round, len(x), lowFactor*tau, highFactor*tau)
		}

		problem := optimize.Problem{Func: exponentialResiduals(x, y)}
		initial := []float64{math.Log(amplitude), math.Log(tau)}
		result, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			return amplitude, tau, len(x), fmt.Errorf("%w: round %d: %v", ErrFitFailed, round, err)
		}
		newAmplitude := math.Exp(result.X[0])
		newTau := math.Exp(result.X[1])
		if math.IsNaN(newTau) || math.IsInf(newTau, 0) || !(newTau > 0) || math.IsInf(newAmplitude, 0) {
			return amplitude, tau, len(x), fmt.Errorf("%w: round %d: A %g tau %g", ErrFitFailed, round, newAmplitude, newTau)
		}
		amplitude, tau, fitBins = newAmplitude, newTau, len(x)

		if verbosity > 1 {
			message := fmt.Sprintf("Fit round %d: A: %g, tau: %g, rate: %g, bins: %d", round, amplitude, tau, 1/tau, fitBins)
			logger.Info(message, "deadtime")
		}
	}
	return amplitude, tau, fitBins, nil
}

// EstimateRate derives the true rate and the non-paralyzable dead time from
// the time difference histogram of a channel.
func EstimateRate(histogram *Histogram, events uint64, liveTime float64, settings RateSettings) (RateEstimate, error) {
	estimate := RateEstimate{
		TauLowFactor:  settings.TauLowFactor,
		TauHighFactor: settings.TauHighFactor,
		Events:        events,
		LiveTime:      liveTime,
	}
	if !(liveTime > 0) {
		return estimate, fmt.Errorf("%w: live time %g", ErrFitFailed, liveTime)
	}
	estimate.MeasuredRate = float64(events) / liveTime

	amplitude, tau, fitBins, err := FitExponential(histogram, settings.FitRounds, settings.TauLowFactor, settings.TauHighFactor)
	estimate.FitBins = fitBins
	if err != nil {
		return estimate, err
	}
	estimate.Amplitude = amplitude
	estimate.Tau = tau
	estimate.TrueRate = 1 / tau
	estimate.DeadTime = (estimate.TrueRate - estimate.MeasuredRate) / (estimate.TrueRate * estimate.MeasuredRate)
	estimate.DeadFraction = 1 - estimate.MeasuredRate/estimate.TrueRate
	return estimate, nil
}
