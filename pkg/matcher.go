package coincidences

import (
	"cmp"
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// CoincidenceWindow bounds the time difference partner - reference. With a
// non-zero Modulo the reported difference is (d + Offset) mod Modulo.
type CoincidenceWindow struct {
	Min    float64
	Max    float64
	Modulo float64
	Offset float64
}

func (w CoincidenceWindow) Fold(difference float64) float64 {
	if w.Modulo == 0 {
		return difference
	}
	modulo := math.Abs(w.Modulo)
	folded := math.Mod(difference+w.Offset, modulo)
	if folded < 0 {
		folded += modulo
	}
	return folded
}

type Gates struct {
	ReferenceEnergy Gate
	ReferencePSD    Gate
	PartnerEnergy   Gate
	PartnerPSD      Gate
}

func OpenGates() Gates {
	return Gates{
		ReferenceEnergy: Unbounded(),
		ReferencePSD:    Unbounded(),
		PartnerEnergy:   Unbounded(),
		PartnerPSD:      Unbounded(),
	}
}

func (g Gates) PSDActive() bool {
	return !g.ReferencePSD.IsUnbounded() || !g.PartnerPSD.IsUnbounded()
}

type CoincidenceRecord struct {
	TimeDifference  float64
	ReferenceEnergy float64
	ReferencePSD    float64
	PartnerEnergy   float64
	PartnerPSD      float64
}

// ScanStats counts what the matcher looked at. ForwardVisited and
// BackwardVisited only depend on timestamps, never on gate outcomes.
type ScanStats struct {
	References             uint64
	ReferencesGated        uint64
	ForwardVisited         uint64
	BackwardVisited        uint64
	PartnerGateEvaluations uint64
	Matches                uint64
	MatchedReferences      uint64
}

func (s ScanStats) Add(other ScanStats) ScanStats {
	return ScanStats{
		References:             s.References + other.References,
		ReferencesGated:        s.ReferencesGated + other.ReferencesGated,
		ForwardVisited:         s.ForwardVisited + other.ForwardVisited,
		BackwardVisited:        s.BackwardVisited + other.BackwardVisited,
		PartnerGateEvaluations: s.PartnerGateEvaluations + other.PartnerGateEvaluations,
		Matches:                s.Matches + other.Matches,
		MatchedReferences:      s.MatchedReferences + other.MatchedReferences,
	}
}

type MatchResult struct {
	Records []CoincidenceRecord
	// Reference events with at least one partner, each listed once.
	MatchedReferences []Event
	Stats             ScanStats
}

// Matcher finds, for every gated reference event, the target events inside
// the window around it.
type Matcher struct {
	Reference uint8
	Target    uint8
	Window    CoincidenceWindow
	Gates     Gates
	// TimeScale converts timestamp ticks to the unit of Window (ns per sample).
	TimeScale float64
}

func NewMatcher(reference, target uint8, window CoincidenceWindow, gates Gates) *Matcher {
	return &Matcher{
		Reference: reference,
		Target:    target,
		Window:    window,
		Gates:     gates,
		TimeScale: 1,
	}
}

// Select keeps the reference and target channels, stably sorted by
// timestamp. The input slice is not modified.
func (m *Matcher) Select(events []Event) []Event {
	selected := make([]Event, 0, len(events))
	for _, event := range events {
		if event.Channel == m.Reference || event.Channel == m.Target {
			selected = append(selected, event)
		}
	}
	slices.SortStableFunc(selected, func(a, b Event) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return selected
}

func (m *Matcher) difference(this, that Event) float64 {
	return float64(int64(that.Timestamp-this.Timestamp)) * m.TimeScale
}

func (m *Matcher) referenceAccepts(event Event) bool {
	return m.Gates.ReferenceEnergy.Accepts(event.Energy()) && m.Gates.ReferencePSD.Accepts(event.PSD())
}

func (m *Matcher) partnerAccepts(event Event) bool {
	return m.Gates.PartnerEnergy.Accepts(event.Energy()) && m.Gates.PartnerPSD.Accepts(event.PSD())
}

// Match runs the forward and backward scans over one batch. Only the time
// bound ends a scan: a candidate failing a gate is skipped and the scan goes
// on.
func (m *Matcher) Match(events []Event) MatchResult {
	selected := m.Select(events)
	result := MatchResult{}
	stats := &result.Stats

	for i, this := range selected {
		if this.Channel != m.Reference {
			continue
		}
		stats.References++
		if !m.referenceAccepts(this) {
			continue
		}
		stats.ReferencesGated++

		matches := 0

		for j := i + 1; j < len(selected); j++ {
			that := selected[j]
			difference := m.difference(this, that)
			if !(difference < m.Window.Max) {
				break
			}
			stats.ForwardVisited++
			if difference > m.Window.Min && that.Channel == m.Target {
				if m.tryMatch(this, that, difference, &result) {
					matches++
				}
			}
		}

		for j := i - 1; j >= 0; j-- {
			that := selected[j]
			difference := m.difference(this, that)
			if !(difference > m.Window.Min) {
				break
			}
			stats.BackwardVisited++
			if difference < m.Window.Max && that.Channel == m.Target {
				if m.tryMatch(this, that, difference, &result) {
					matches++
				}
			}
		}

		if matches > 0 {
			stats.MatchedReferences++
			result.MatchedReferences = append(result.MatchedReferences, this)
		}
	}

	if verbosity > 1 {
		message := fmt.Sprintf("Channels %d -> %d: %d references, %d matches, %d gate evaluations",
			m.Reference, m.Target, stats.References, stats.Matches, stats.PartnerGateEvaluations)
		logger.Info(message, "matcher")
	}
	return result
}

func (m *Matcher) tryMatch(this, that Event, difference float64, result *MatchResult) bool {
	result.Stats.PartnerGateEvaluations++
	if !m.partnerAccepts(that) {
		return false
	}
	record := CoincidenceRecord{
		TimeDifference:  m.Window.Fold(difference),
		ReferenceEnergy: this.Energy(),
		ReferencePSD:    this.PSD(),
		PartnerEnergy:   that.Energy(),
		PartnerPSD:      that.PSD(),
	}
	if verbosity > 2 {
		message := fmt.Sprintf("Coincidence: ts %d ch %d, ts %d ch %d, ToF %g",
			this.Timestamp, this.Channel, that.Timestamp, that.Channel, record.TimeDifference)
		logger.Info(message, "matcher")
	}
	result.Records = append(result.Records, record)
	result.Stats.Matches++
	return true
}
