package coincidences

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// RecordSink receives the coincidence records of every batch, per analysis.
type RecordSink interface {
	WriteRecords(analysis string, records []CoincidenceRecord) error
}

type ChannelSummary struct {
	Channel        uint8
	Events         uint64
	FirstTimestamp uint64
	LastTimestamp  uint64
}

type AnalysisResult struct {
	Name       string
	Reference  uint8
	Target     uint8
	Histograms *CoincidenceHistograms
	// Normalized holds the 1D spectra divided by the live time. Only set
	// in final reports of runs with normalisation on.
	Normalized    *CoincidenceHistograms
	Stats         ScanStats
	FailedBatches int
}

type ChannelRate struct {
	Channel  uint8
	Events   uint64
	Negative uint64
	LiveTime float64
	Deltas   *Histogram
	Estimate *RateEstimate
	Err      string
}

// Report is the state of a run. Histograms referenced by a report are never
// modified afterwards.
type Report struct {
	RunID            uuid.UUID
	Batches          int
	MalformedBatches int
	Events           uint64
	FirstTimestamp   uint64
	LastTimestamp    uint64
	LiveTime         float64
	Channels         []ChannelSummary
	Analyses         []AnalysisResult
	Rates            []ChannelRate
	Interrupted      bool
}

func (r *Report) Analysis(name string) (AnalysisResult, bool) {
	for _, analysis := range r.Analyses {
		if analysis.Name == name {
			return analysis, true
		}
	}
	return AnalysisResult{}, false
}

func (r *Report) Rate(channel uint8) (ChannelRate, bool) {
	for _, rate := range r.Rates {
		if rate.Channel == channel {
			return rate, true
		}
	}
	return ChannelRate{}, false
}

func (r *Report) Channel(channel uint8) (ChannelSummary, bool) {
	for _, summary := range r.Channels {
		if summary.Channel == channel {
			return summary, true
		}
	}
	return ChannelSummary{}, false
}

type analysis struct {
	name          string
	matcher       *Matcher
	histograms    *CoincidenceHistograms
	stats         ScanStats
	failedBatches int
}

// Pipeline drives the batches of one run through every analysis and the
// rate collectors. It is not safe for concurrent use.
type Pipeline struct {
	config     Configuration
	runID      uuid.UUID
	analyses   []*analysis
	collectors map[uint8]*DeltaCollector
	channels   map[uint8]*ChannelSummary

	batches          int
	malformedBatches int
	events           uint64
	first            uint64
	last             uint64

	// Sink, when set, gets every batch's coincidence records.
	Sink RecordSink
	// OnBatch, when set, gets a snapshot after every batch.
	OnBatch func(*Report)
}

func NewPipeline(config Configuration) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	pipeline := &Pipeline{
		config:     config,
		runID:      uuid.New(),
		collectors: make(map[uint8]*DeltaCollector),
		channels:   make(map[uint8]*ChannelSummary),
	}

	for _, analysisConfig := range config.Coincidences {
		axes, err := analysisConfig.Axes()
		if err != nil {
			return nil, fmt.Errorf("analysis %s: %w", analysisConfig.Name, err)
		}
		gates := analysisConfig.Gates()
		matcher := NewMatcher(analysisConfig.ReferenceChannel, analysisConfig.TargetChannel,
			analysisConfig.Window(), gates)
		matcher.TimeScale = config.NsPerSample
		pipeline.analyses = append(pipeline.analyses, &analysis{
			name:       analysisConfig.Name,
			matcher:    matcher,
			histograms: NewCoincidenceHistograms(axes, gates.PSDActive()),
		})
	}

	if config.Rates.Enabled {
		for _, channel := range config.Rates.Channels {
			if _, err := pipeline.collector(channel); err != nil {
				return nil, err
			}
		}
	}
	return pipeline, nil
}

func (p *Pipeline) RunID() uuid.UUID {
	return p.runID
}

func (p *Pipeline) collector(channel uint8) (*DeltaCollector, error) {
	if collector, ok := p.collectors[channel]; ok {
		return collector, nil
	}
	collector, err := NewDeltaCollector(channel, p.config.NsPerSample, p.config.Rates.Settings())
	if err != nil {
		return nil, err
	}
	p.collectors[channel] = collector
	return collector, nil
}

// Run consumes source until it is exhausted or ctx is done. An interrupted
// run returns the report built so far with Interrupted set and no error.
func (p *Pipeline) Run(ctx context.Context, source BatchSource) (*Report, error) {
	for {
		batch, err := source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return p.Finish(false), nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			logger.Info(fmt.Sprintf("Run interrupted after %d batches", p.batches), "pipeline")
			return p.Finish(true), nil
		case isMalformed(err):
			logger.Error(err.Error())
			p.batches++
			p.malformedBatches++
			continue
		default:
			return p.Finish(false), err
		}

		p.ProcessBatch(batch)
		if p.OnBatch != nil {
			p.OnBatch(p.Snapshot())
		}
		if ctx.Err() != nil {
			logger.Info(fmt.Sprintf("Run interrupted after %d batches", p.batches), "pipeline")
			return p.Finish(true), nil
		}
	}
}

// ProcessBatch decodes one batch and feeds it to the counters, the rate
// collectors and every analysis. A malformed batch is logged and skipped.
func (p *Pipeline) ProcessBatch(batch Batch) {
	p.batches++
	events, err := DecodeBatch(batch.Data)
	if err != nil {
		var malformed *ErrMalformedBatch
		if errors.As(err, &malformed) {
			malformed.Batch = batch.Index
		}
		logger.Error(fmt.Sprintf("discarding batch %d: %v", batch.Index, err))
		p.malformedBatches++
		return
	}
	if len(events) == 0 {
		return
	}

	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	p.count(events)

	if p.config.Rates.Enabled {
		p.collectDeltas(events)
	}

	for _, a := range p.analyses {
		p.match(a, batch.Index, events)
	}

	if verbosity > 1 {
		message := fmt.Sprintf("Batch %d: %d events, first ts %d, last ts %d",
			batch.Index, len(events), events[0].Timestamp, events[len(events)-1].Timestamp)
		logger.Info(message, "pipeline")
	}
}

func (p *Pipeline) count(events []Event) {
	if p.events == 0 {
		p.first = events[0].Timestamp
		p.last = events[0].Timestamp
	}
	p.first = min(p.first, events[0].Timestamp)
	p.last = max(p.last, events[len(events)-1].Timestamp)
	p.events += uint64(len(events))

	for _, event := range events {
		summary, ok := p.channels[event.Channel]
		if !ok {
			summary = &ChannelSummary{
				Channel:        event.Channel,
				FirstTimestamp: event.Timestamp,
				LastTimestamp:  event.Timestamp,
			}
			p.channels[event.Channel] = summary
		}
		summary.Events++
		summary.FirstTimestamp = min(summary.FirstTimestamp, event.Timestamp)
		summary.LastTimestamp = max(summary.LastTimestamp, event.Timestamp)
	}
}

func (p *Pipeline) collectDeltas(events []Event) {
	if len(p.config.Rates.Channels) == 0 {
		for _, event := range events {
			if _, err := p.collector(event.Channel); err != nil {
				logger.Error(err.Error())
			}
		}
	}
	for _, collector := range p.collectors {
		collector.Add(events)
	}
}

func (p *Pipeline) match(a *analysis, index int, events []Event) {
	fresh, result, err := matchBatch(a, index, events)
	if err != nil {
		logger.Error(err.Error())
		a.failedBatches++
		return
	}
	a.histograms = MergeCoincidenceHistograms(a.histograms, fresh)
	a.stats = a.stats.Add(result.Stats)

	if p.Sink != nil && len(result.Records) > 0 {
		if err := p.Sink.WriteRecords(a.name, result.Records); err != nil {
			logger.Error(fmt.Sprintf("writing records of %s, batch %d: %v", a.name, index, err))
		}
	}
}

func matchBatch(a *analysis, index int, events []Event) (fresh *CoincidenceHistograms, result MatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discarding batch %d of %s: %v", index, a.name, r)
		}
	}()
	result = a.matcher.Match(events)
	fresh = a.histograms.Empty()
	fresh.Fill(result)
	return fresh, result, nil
}

func (p *Pipeline) liveTime() float64 {
	if p.last <= p.first {
		return 0
	}
	return float64(p.last-p.first) * p.config.NsPerSample
}

func (p *Pipeline) report() *Report {
	report := &Report{
		RunID:            p.runID,
		Batches:          p.batches,
		MalformedBatches: p.malformedBatches,
		Events:           p.events,
		FirstTimestamp:   p.first,
		LastTimestamp:    p.last,
		LiveTime:         p.liveTime(),
	}
	for _, summary := range p.channels {
		report.Channels = append(report.Channels, *summary)
	}
	sort.Slice(report.Channels, func(i, j int) bool {
		return report.Channels[i].Channel < report.Channels[j].Channel
	})
	for _, a := range p.analyses {
		report.Analyses = append(report.Analyses, AnalysisResult{
			Name:          a.name,
			Reference:     a.matcher.Reference,
			Target:        a.matcher.Target,
			Histograms:    a.histograms,
			Stats:         a.stats,
			FailedBatches: a.failedBatches,
		})
	}
	return report
}

func (p *Pipeline) sortedCollectors() []*DeltaCollector {
	collectors := make([]*DeltaCollector, 0, len(p.collectors))
	for _, collector := range p.collectors {
		collectors = append(collectors, collector)
	}
	sort.Slice(collectors, func(i, j int) bool {
		return collectors[i].Channel < collectors[j].Channel
	})
	return collectors
}

func channelRate(collector *DeltaCollector) (ChannelRate, *Histogram) {
	rate := ChannelRate{
		Channel:  collector.Channel,
		Events:   collector.Events,
		Negative: collector.Negative,
		LiveTime: collector.LiveTime(),
	}
	deltas, err := collector.Histogram()
	if err != nil {
		rate.Err = err.Error()
		return rate, nil
	}
	rate.Deltas = deltas
	return rate, deltas
}

// Snapshot returns the merged state after the last processed batch. Rate
// estimates are only computed by Finish.
func (p *Pipeline) Snapshot() *Report {
	report := p.report()
	for _, collector := range p.sortedCollectors() {
		rate, _ := channelRate(collector)
		report.Rates = append(report.Rates, rate)
	}
	return report
}

// Finish builds the final report: rate estimates for every collected
// channel and, if configured, live time normalised spectra. A failed fit
// leaves Estimate nil and keeps the time difference histogram.
func (p *Pipeline) Finish(interrupted bool) *Report {
	report := p.report()
	report.Interrupted = interrupted

	if p.config.Normalize && report.LiveTime > 0 {
		for i := range report.Analyses {
			report.Analyses[i].Normalized = report.Analyses[i].Histograms.Normalized(report.LiveTime)
		}
	}

	for _, collector := range p.sortedCollectors() {
		rate, deltas := channelRate(collector)
		if deltas != nil {
			estimate, err := EstimateRate(deltas, collector.Events, collector.LiveTime(), collector.Settings)
			if err != nil {
				rate.Err = err.Error()
				logger.Error(fmt.Sprintf("channel %d: no rate estimate: %v", collector.Channel, err))
			} else {
				estimate.Channel = collector.Channel
				rate.Estimate = &estimate
			}
		}
		report.Rates = append(report.Rates, rate)
	}

	if verbosity > 0 {
		message := fmt.Sprintf("Run %s: %d batches (%d malformed), %d events, live time %g ns",
			report.RunID, report.Batches, report.MalformedBatches, report.Events, report.LiveTime)
		logger.Info(message, "pipeline")
		for _, a := range report.Analyses {
			message := fmt.Sprintf("%s: %d references, %d matches, %d failed batches",
				a.Name, a.Stats.ReferencesGated, a.Stats.Matches, a.FailedBatches)
			logger.Info(message, "pipeline")
		}
		for _, rate := range report.Rates {
			if rate.Estimate == nil {
				continue
			}
			message := fmt.Sprintf("Channel %d: measured rate %g, true rate %g, dead time %g",
				rate.Channel, rate.Estimate.MeasuredRate, rate.Estimate.TrueRate, rate.Estimate.DeadTime)
			logger.Info(message, "pipeline")
		}
	}
	return report
}
