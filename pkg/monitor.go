package coincidences

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
)

// Monitor serves the latest published report over HTTP while a run is
// streaming.
type Monitor struct {
	lock   sync.RWMutex
	report *Report
	labels map[uint8]string
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithLabels sets the detector names shown next to channel numbers.
func (m *Monitor) WithLabels(labels map[uint8]string) *Monitor {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.labels = labels
	return m
}

// Publish replaces the served report. It can be used as Pipeline.OnBatch.
func (m *Monitor) Publish(report *Report) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.report = report
}

func (m *Monitor) current() (*Report, map[uint8]string) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.report, m.labels
}

func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/runs/current", m.currentRun).Methods(http.MethodGet)
	r.HandleFunc("/analyses", m.listAnalyses).Methods(http.MethodGet)
	r.HandleFunc("/analyses/{name}/histograms", m.listHistograms).Methods(http.MethodGet)
	r.HandleFunc("/analyses/{name}/histograms/{histogram}", m.histogram).Methods(http.MethodGet)
	r.HandleFunc("/rates", m.listRates).Methods(http.MethodGet)
	r.HandleFunc("/rates/{channel:[0-9]+}/deltas", m.deltas).Methods(http.MethodGet)
	r.HandleFunc("/resources", m.listResources).Methods(http.MethodGet)
	return r
}

// StartServer listens on address and serves the routes in the background.
func (m *Monitor) StartServer(address string) (net.Addr, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	logger.Info(fmt.Sprintf("Monitoring run with http://%s", listener.Addr()), "monitor")

	go func() {
		if err := http.Serve(listener, m.Router()); err != nil {
			logger.Error(fmt.Sprintf("monitor stopped: %v", err))
		}
	}()
	return listener.Addr(), nil
}

func writeJSON(w http.ResponseWriter, value any) {
	bytes, err := json.Marshal(value)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	if err != nil {
		logger.Error(fmt.Sprintf("monitor: %v", err))
	}
}

func (m *Monitor) reportOr404(w http.ResponseWriter) *Report {
	report, _ := m.current()
	if report == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "Error: no batch processed yet")
	}
	return report
}

type channelRsp struct {
	Channel        uint8  `json:"channel"`
	Label          string `json:"label,omitempty"`
	Events         uint64 `json:"events"`
	FirstTimestamp uint64 `json:"first_timestamp"`
	LastTimestamp  uint64 `json:"last_timestamp"`
}

type runRsp struct {
	RunID            string       `json:"run_id"`
	Batches          int          `json:"batches"`
	MalformedBatches int          `json:"malformed_batches"`
	Events           uint64       `json:"events"`
	LiveTime         float64      `json:"live_time"`
	Interrupted      bool         `json:"interrupted"`
	Channels         []channelRsp `json:"channels"`
}

func (m *Monitor) currentRun(w http.ResponseWriter, _ *http.Request) {
	report := m.reportOr404(w)
	if report == nil {
		return
	}
	_, labels := m.current()

	rsp := runRsp{
		RunID:            report.RunID.String(),
		Batches:          report.Batches,
		MalformedBatches: report.MalformedBatches,
		Events:           report.Events,
		LiveTime:         report.LiveTime,
		Interrupted:      report.Interrupted,
		Channels:         []channelRsp{},
	}
	for _, summary := range report.Channels {
		rsp.Channels = append(rsp.Channels, channelRsp{
			Channel:        summary.Channel,
			Label:          labels[summary.Channel],
			Events:         summary.Events,
			FirstTimestamp: summary.FirstTimestamp,
			LastTimestamp:  summary.LastTimestamp,
		})
	}
	writeJSON(w, rsp)
}

type analysisRsp struct {
	Name      string    `json:"name"`
	Reference uint8     `json:"reference_channel"`
	Target    uint8     `json:"target_channel"`
	Stats     ScanStats `json:"stats"`
}

func (m *Monitor) listAnalyses(w http.ResponseWriter, _ *http.Request) {
	report := m.reportOr404(w)
	if report == nil {
		return
	}
	rsp := []analysisRsp{}
	for _, analysis := range report.Analyses {
		rsp = append(rsp, analysisRsp{
			Name:      analysis.Name,
			Reference: analysis.Reference,
			Target:    analysis.Target,
			Stats:     analysis.Stats,
		})
	}
	writeJSON(w, rsp)
}

func (m *Monitor) findAnalysisOr404(w http.ResponseWriter, name string) *AnalysisResult {
	report := m.reportOr404(w)
	if report == nil {
		return nil
	}
	analysis, ok := report.Analysis(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Error: analysis %q not found", name)
		return nil
	}
	return &analysis
}

func (m *Monitor) listHistograms(w http.ResponseWriter, r *http.Request) {
	analysis := m.findAnalysisOr404(w, mux.Vars(r)["name"])
	if analysis == nil {
		return
	}
	names := []string{}
	for _, named := range analysis.Histograms.Named() {
		names = append(names, named.Name)
	}
	writeJSON(w, names)
}

func (m *Monitor) histogram(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	analysis := m.findAnalysisOr404(w, vars["name"])
	if analysis == nil {
		return
	}
	named, ok := analysis.Histograms.Lookup(vars["histogram"])
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Error: histogram %q not found", vars["histogram"])
		return
	}
	if named.H1 != nil {
		writeJSON(w, newHistogramRsp(named.H1))
		return
	}
	writeJSON(w, named.H2)
}

type histogramStatsRsp struct {
	Entries   float64  `json:"entries"`
	Integral  float64  `json:"integral"`
	Mean      *float64 `json:"mean,omitempty"`
	Variance  *float64 `json:"variance,omitempty"`
	StdDev    *float64 `json:"std_dev,omitempty"`
	PeakIndex int      `json:"peak_index"`
	PeakEdge  float64  `json:"peak_edge"`
}

// histogramRsp is the JSON form of a 1D histogram plus its statistics.
type histogramRsp struct {
	Config histogramConfigJSON `json:"config"`
	Data   []float64           `json:"data"`
	Stats  histogramStatsRsp   `json:"stats"`
}

// finite drops NaN statistics of empty histograms, which JSON cannot carry.
func finite(value float64) *float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

func newHistogramRsp(h *Histogram) histogramRsp {
	peak := h.PeakIndex()
	return histogramRsp{
		Config: histogramConfigJSON{Bins: h.Axis.Bins, Min: h.Axis.Min, Max: h.Axis.Max()},
		Data:   h.Counts,
		Stats: histogramStatsRsp{
			Entries:   h.Entries(),
			Integral:  h.Integral(),
			Mean:      finite(h.Mean()),
			Variance:  finite(h.Variance()),
			StdDev:    finite(h.StdDev()),
			PeakIndex: peak,
			PeakEdge:  h.Axis.Min + float64(peak)*h.Axis.Resolution,
		},
	}
}

type rateRsp struct {
	Channel      uint8    `json:"channel"`
	Label        string   `json:"label,omitempty"`
	Events       uint64   `json:"events"`
	Negative     uint64   `json:"negative"`
	LiveTime     float64  `json:"live_time"`
	Tau          *float64 `json:"tau,omitempty"`
	MeasuredRate *float64 `json:"measured_rate,omitempty"`
	TrueRate     *float64 `json:"true_rate,omitempty"`
	DeadTime     *float64 `json:"dead_time,omitempty"`
	DeadFraction *float64 `json:"dead_fraction,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (m *Monitor) listRates(w http.ResponseWriter, _ *http.Request) {
	report := m.reportOr404(w)
	if report == nil {
		return
	}
	_, labels := m.current()

	rsp := []rateRsp{}
	for _, rate := range report.Rates {
		entry := rateRsp{
			Channel:  rate.Channel,
			Label:    labels[rate.Channel],
			Events:   rate.Events,
			Negative: rate.Negative,
			LiveTime: rate.LiveTime,
			Error:    rate.Err,
		}
		if estimate := rate.Estimate; estimate != nil {
			entry.Tau = &estimate.Tau
			entry.MeasuredRate = &estimate.MeasuredRate
			entry.TrueRate = &estimate.TrueRate
			entry.DeadTime = &estimate.DeadTime
			entry.DeadFraction = &estimate.DeadFraction
		}
		rsp = append(rsp, entry)
	}
	writeJSON(w, rsp)
}

func (m *Monitor) deltas(w http.ResponseWriter, r *http.Request) {
	report := m.reportOr404(w)
	if report == nil {
		return
	}
	var channel uint8
	if _, err := fmt.Sscan(mux.Vars(r)["channel"], &channel); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}
	rate, ok := report.Rate(channel)
	if !ok || rate.Deltas == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Error: no time differences for channel %d", channel)
		return
	}
	writeJSON(w, newHistogramRsp(rate.Deltas))
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		var rsp resourceRsp
		rsp.CPUPercent, err = proc.CPUPercent()
		if err == nil {
			var memory *process.MemoryInfoStat
			memory, err = proc.MemoryInfo()
			if err == nil {
				rsp.MemorySize = memory.RSS
				writeJSON(w, rsp)
				return
			}
		}
	}
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "Error: %s", err)
}
