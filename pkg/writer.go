package coincidences

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jmbenlloch/go-hdf5"
)

// Writer stores a run report in an HDF5 file:
//
//	/Run/info, /Run/channels
//	/Coincidences/info, /Coincidences/<analysis>/<histogram>[_edges|_edges_x|_edges_y]
//	/Rates/estimates, /Rates/ch<N>_deltas[_edges]
//	/Records/<analysis> (only when records are dumped)
type Writer struct {
	File              *hdf5.File
	Filename          string
	CompressionLevel  int
	RunGroup          *hdf5.Group
	CoincidencesGroup *hdf5.Group
	RatesGroup        *hdf5.Group
	RecordsGroup      *hdf5.Group
	RecordTables      map[string]*hdf5.Dataset
	RecordCounters    map[string]int
	closed            bool
}

func NewWriter(filename string, compressionLevel int) (*Writer, error) {
	hdf5.SetStringLength(STRLEN)

	file, err := openFile(filename)
	if err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("Creating file: %s", filename), "writer")

	writer := &Writer{
		File:             file,
		Filename:         filename,
		CompressionLevel: compressionLevel,
		RecordTables:     make(map[string]*hdf5.Dataset),
		RecordCounters:   make(map[string]int),
	}
	groups := []struct {
		name  string
		group **hdf5.Group
	}{
		{"Run", &writer.RunGroup},
		{"Coincidences", &writer.CoincidencesGroup},
		{"Rates", &writer.RatesGroup},
	}
	for _, g := range groups {
		*g.group, err = createGroup(writer.File, g.name)
		if err != nil {
			return nil, errors.Join(err, writer.Close())
		}
	}
	return writer, nil
}

// WriteRecords appends coincidence records to /Records/<analysis>.
func (w *Writer) WriteRecords(analysis string, records []CoincidenceRecord) error {
	table, err := w.recordTable(analysis)
	if err != nil {
		return err
	}
	rows := make([]CoincidenceRecordHDF5, len(records))
	for i, record := range records {
		rows[i] = CoincidenceRecordHDF5{
			time_difference:  record.TimeDifference,
			reference_energy: record.ReferenceEnergy,
			reference_psd:    record.ReferencePSD,
			partner_energy:   record.PartnerEnergy,
			partner_psd:      record.PartnerPSD,
		}
	}
	if err := writeArrayToTable(table, &rows, w.RecordCounters[analysis]); err != nil {
		return fmt.Errorf("error writing records of %s: %w", analysis, err)
	}
	w.RecordCounters[analysis] += len(rows)
	return nil
}

func (w *Writer) recordTable(analysis string) (*hdf5.Dataset, error) {
	if table, ok := w.RecordTables[analysis]; ok {
		return table, nil
	}
	if w.RecordsGroup == nil {
		group, err := createGroup(w.File, "Records")
		if err != nil {
			return nil, err
		}
		w.RecordsGroup = group
	}
	table, err := createTable(w.RecordsGroup, analysis, CoincidenceRecordHDF5{}, w.CompressionLevel)
	if err != nil {
		return nil, err
	}
	w.RecordTables[analysis] = table
	return table, nil
}

func (w *Writer) WriteReport(report *Report, runNumber int) error {
	if err := w.writeRunInfo(report, runNumber); err != nil {
		return err
	}
	if err := w.writeAnalyses(report); err != nil {
		return err
	}
	return w.writeRates(report)
}

func (w *Writer) writeRunInfo(report *Report, runNumber int) error {
	interrupted := int32(0)
	if report.Interrupted {
		interrupted = 1
	}
	info := []RunInfoHDF5{{
		run_id:            convertToHdf5String(report.RunID.String()),
		run_number:        int32(runNumber),
		batches:           int32(report.Batches),
		malformed_batches: int32(report.MalformedBatches),
		interrupted:       interrupted,
		events:            report.Events,
		first_timestamp:   report.FirstTimestamp,
		last_timestamp:    report.LastTimestamp,
		live_time:         report.LiveTime,
	}}
	if err := writeTable(w.RunGroup, "info", info, w.CompressionLevel); err != nil {
		return err
	}

	channels := make([]ChannelSummaryHDF5, len(report.Channels))
	for i, summary := range report.Channels {
		channels[i] = ChannelSummaryHDF5{
			channel:         int32(summary.Channel),
			events:          summary.Events,
			first_timestamp: summary.FirstTimestamp,
			last_timestamp:  summary.LastTimestamp,
		}
	}
	return writeTable(w.RunGroup, "channels", channels, w.CompressionLevel)
}

func (w *Writer) writeAnalyses(report *Report) error {
	info := make([]AnalysisInfoHDF5, len(report.Analyses))
	for i, analysis := range report.Analyses {
		info[i] = AnalysisInfoHDF5{
			name:                     convertToHdf5String(analysis.Name),
			reference:                int32(analysis.Reference),
			target:                   int32(analysis.Target),
			failed_batches:           int32(analysis.FailedBatches),
			references:               analysis.Stats.References,
			references_gated:         analysis.Stats.ReferencesGated,
			forward_visited:          analysis.Stats.ForwardVisited,
			backward_visited:         analysis.Stats.BackwardVisited,
			partner_gate_evaluations: analysis.Stats.PartnerGateEvaluations,
			matches:                  analysis.Stats.Matches,
			matched_references:       analysis.Stats.MatchedReferences,
		}
	}
	if err := writeTable(w.CoincidencesGroup, "info", info, w.CompressionLevel); err != nil {
		return err
	}

	for _, analysis := range report.Analyses {
		group, err := createGroup(w.CoincidencesGroup, analysis.Name)
		if err != nil {
			return err
		}
		err = w.writeHistograms(group, analysis.Histograms.Named(), "")
		if err == nil && analysis.Normalized != nil {
			err = w.writeHistograms(group, analysis.Normalized.Named(), "_per_ns")
		}
		if closeErr := group.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("error closing group %s: %w", analysis.Name, closeErr))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// writeHistograms writes the 1D histograms of named with their edges, and
// the 2D ones as bins_x x bins_y datasets. Only 1D histograms get the suffix.
func (w *Writer) writeHistograms(group *hdf5.Group, named []NamedHistogram, suffix string) error {
	for _, histogram := range named {
		switch {
		case histogram.H1 != nil:
			if err := w.writeHistogram(group, histogram.Name+suffix, histogram.H1); err != nil {
				return err
			}
		case histogram.H2 != nil && suffix == "":
			h := histogram.H2
			dims := []uint{uint(h.X.Bins), uint(h.Y.Bins)}
			if err := writeArray(group, histogram.Name, h.Counts, dims, w.CompressionLevel); err != nil {
				return err
			}
			edgesX := h.X.Edges()
			if err := writeArray(group, histogram.Name+"_edges_x", edgesX, []uint{uint(len(edgesX))}, w.CompressionLevel); err != nil {
				return err
			}
			edgesY := h.Y.Edges()
			if err := writeArray(group, histogram.Name+"_edges_y", edgesY, []uint{uint(len(edgesY))}, w.CompressionLevel); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeHistogram(group *hdf5.Group, name string, h *Histogram) error {
	if err := writeArray(group, name, h.Counts, []uint{uint(len(h.Counts))}, w.CompressionLevel); err != nil {
		return err
	}
	edges := h.Axis.Edges()
	return writeArray(group, name+"_edges", edges, []uint{uint(len(edges))}, w.CompressionLevel)
}

func (w *Writer) writeRates(report *Report) error {
	rates := append([]ChannelRate(nil), report.Rates...)
	sort.Slice(rates, func(i, j int) bool { return rates[i].Channel < rates[j].Channel })

	var estimates []RateEstimateHDF5
	for _, rate := range rates {
		if rate.Deltas != nil {
			name := fmt.Sprintf("ch%d_deltas", rate.Channel)
			if err := w.writeHistogram(w.RatesGroup, name, rate.Deltas); err != nil {
				return err
			}
		}
		if rate.Estimate == nil {
			continue
		}
		estimate := rate.Estimate
		estimates = append(estimates, RateEstimateHDF5{
			channel:         int32(rate.Channel),
			fit_bins:        int32(estimate.FitBins),
			events:          estimate.Events,
			negative:        rate.Negative,
			amplitude:       estimate.Amplitude,
			tau:             estimate.Tau,
			tau_low_factor:  estimate.TauLowFactor,
			tau_high_factor: estimate.TauHighFactor,
			live_time:       estimate.LiveTime,
			measured_rate:   estimate.MeasuredRate,
			true_rate:       estimate.TrueRate,
			dead_time:       estimate.DeadTime,
			dead_fraction:   estimate.DeadFraction,
		})
	}
	return writeTable(w.RatesGroup, "estimates", estimates, w.CompressionLevel)
}

// writeTable creates an extendable table and writes rows to it. Nothing is
// created when rows is empty.
func writeTable[T any](group *hdf5.Group, name string, rows []T, compressionLevel int) error {
	if len(rows) == 0 {
		return nil
	}
	var row T
	table, err := createTable(group, name, row, compressionLevel)
	if err != nil {
		return err
	}
	if err := writeArrayToTable(table, &rows, 0); err != nil {
		return errors.Join(fmt.Errorf("error writing %s: %w", name, err), table.Close())
	}
	return table.Close()
}

// Close may be called more than once; only the first call closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	logger.Info(fmt.Sprintf("Closing file: %s", w.Filename), "writer")
	var errs []error

	analyses := make([]string, 0, len(w.RecordTables))
	for analysis := range w.RecordTables {
		analyses = append(analyses, analysis)
	}
	sort.Strings(analyses)
	for _, analysis := range analyses {
		if err := w.RecordTables[analysis].Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing records of %s: %w", analysis, err))
		}
	}

	groups := []struct {
		name  string
		group *hdf5.Group
	}{
		{"records", w.RecordsGroup},
		{"rates", w.RatesGroup},
		{"coincidences", w.CoincidencesGroup},
		{"run", w.RunGroup},
	}
	for _, g := range groups {
		if g.group == nil {
			continue
		}
		if err := g.group.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing %s group: %w", g.name, err))
		}
	}

	if err := w.File.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing file: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
