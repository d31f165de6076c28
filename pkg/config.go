package coincidences

import (
	"errors"
	"fmt"
	"math"
)

type GateConfiguration struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

func (g GateConfiguration) Gate() Gate {
	return NewGate(g.Min, g.Max)
}

// A gate with both bounds set must keep some values.
func (g GateConfiguration) validate() error {
	if g.Min != nil && g.Max != nil && !(*g.Min < *g.Max) {
		return fmt.Errorf("min %g must be lower than max %g", *g.Min, *g.Max)
	}
	return nil
}

type CoincidenceConfiguration struct {
	Name                string            `json:"name" yaml:"name"`
	ReferenceChannel    uint8             `json:"reference_channel" yaml:"reference_channel"`
	TargetChannel       uint8             `json:"target_channel" yaml:"target_channel"`
	TimeMin             float64           `json:"time_min" yaml:"time_min"`
	TimeMax             float64           `json:"time_max" yaml:"time_max"`
	TimeResolution      float64           `json:"time_resolution" yaml:"time_resolution"`
	Modulo              float64           `json:"modulo" yaml:"modulo"`
	Offset              float64           `json:"offset" yaml:"offset"`
	EnergyMin           float64           `json:"energy_min" yaml:"energy_min"`
	EnergyMax           float64           `json:"energy_max" yaml:"energy_max"`
	EnergyResolution    float64           `json:"energy_resolution" yaml:"energy_resolution"`
	PSDMin              float64           `json:"psd_min" yaml:"psd_min"`
	PSDMax              float64           `json:"psd_max" yaml:"psd_max"`
	PSDResolution       float64           `json:"psd_resolution" yaml:"psd_resolution"`
	ReferenceEnergyGate GateConfiguration `json:"reference_energy_gate" yaml:"reference_energy_gate"`
	ReferencePSDGate    GateConfiguration `json:"reference_psd_gate" yaml:"reference_psd_gate"`
	PartnerEnergyGate   GateConfiguration `json:"partner_energy_gate" yaml:"partner_energy_gate"`
	PartnerPSDGate      GateConfiguration `json:"partner_psd_gate" yaml:"partner_psd_gate"`
}

type RatesConfiguration struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	Channels      []uint8 `json:"channels" yaml:"channels"`
	DeltaBins     int     `json:"delta_bins" yaml:"delta_bins"`
	DeltaMin      float64 `json:"delta_min" yaml:"delta_min"`
	DeltaMax      float64 `json:"delta_max" yaml:"delta_max"`
	FitRounds     int     `json:"fit_rounds" yaml:"fit_rounds"`
	TauLowFactor  float64 `json:"tau_low_factor" yaml:"tau_low_factor"`
	TauHighFactor float64 `json:"tau_high_factor" yaml:"tau_high_factor"`
}

type Configuration struct {
	FileIn           string                     `json:"file_in" yaml:"file_in"`
	FileOut          string                     `json:"file_out" yaml:"file_out"`
	Verbosity        int                        `json:"verbosity" yaml:"verbosity"`
	BufferSize       int                        `json:"buffer_size" yaml:"buffer_size"`
	Prefetch         bool                       `json:"prefetch" yaml:"prefetch"`
	NsPerSample      float64                    `json:"ns_per_sample" yaml:"ns_per_sample"`
	Normalize        bool                       `json:"normalize" yaml:"normalize"`
	DumpRecords      bool                       `json:"dump_records" yaml:"dump_records"`
	CompressionLevel int                        `json:"compression_level" yaml:"compression_level"`
	RunNumber        int                        `json:"run_number" yaml:"run_number"`
	NoDB             bool                       `json:"no_db" yaml:"no_db"`
	Host             string                     `json:"host" yaml:"host"`
	User             string                     `json:"user" yaml:"user"`
	Passwd           string                     `json:"pass" yaml:"pass"`
	DBName           string                     `json:"dbname" yaml:"dbname"`
	MonitorAddress   string                     `json:"monitor_address" yaml:"monitor_address"`
	Coincidences     []CoincidenceConfiguration `json:"coincidences" yaml:"coincidences"`
	Rates            RatesConfiguration         `json:"rates" yaml:"rates"`
}

// DefaultCoincidence holds the values used for analysis fields left unset.
func DefaultCoincidence() CoincidenceConfiguration {
	return CoincidenceConfiguration{
		TimeMin:          -200,
		TimeMax:          200,
		TimeResolution:   2,
		EnergyMin:        0,
		EnergyMax:        65536,
		EnergyResolution: 64,
		PSDMin:           0,
		PSDMax:           1,
		PSDResolution:    0.01,
	}
}

// ApplyDefaults fills fields of each analysis that were left at zero.
func (c *Configuration) ApplyDefaults() {
	defaults := DefaultCoincidence()
	for i := range c.Coincidences {
		analysis := &c.Coincidences[i]
		if analysis.Name == "" {
			analysis.Name = fmt.Sprintf("ch%d_ch%d", analysis.ReferenceChannel, analysis.TargetChannel)
		}
		if analysis.TimeMin == 0 && analysis.TimeMax == 0 {
			analysis.TimeMin = defaults.TimeMin
			analysis.TimeMax = defaults.TimeMax
		}
		if analysis.TimeResolution == 0 {
			analysis.TimeResolution = defaults.TimeResolution
		}
		if analysis.EnergyMax == 0 {
			analysis.EnergyMax = defaults.EnergyMax
		}
		if analysis.EnergyResolution == 0 {
			analysis.EnergyResolution = defaults.EnergyResolution
		}
		if analysis.PSDMax == 0 {
			analysis.PSDMax = defaults.PSDMax
		}
		if analysis.PSDResolution == 0 {
			analysis.PSDResolution = defaults.PSDResolution
		}
	}
	if c.Rates.DeltaBins == 0 {
		c.Rates.DeltaBins = DefaultDeltaBins
	}
	if c.Rates.FitRounds == 0 {
		c.Rates.FitRounds = DefaultFitRounds
	}
	if c.Rates.TauLowFactor == 0 {
		c.Rates.TauLowFactor = DefaultTauLowFactor
	}
	if c.Rates.TauHighFactor == 0 {
		c.Rates.TauHighFactor = DefaultTauHighFactor
	}
}

func (c Configuration) Validate() error {
	var errs []error
	if c.BufferSize < EventSize {
		errs = append(errs, fmt.Errorf("buffer_size %d is smaller than one record (%d bytes)", c.BufferSize, EventSize))
	}
	if !(c.NsPerSample > 0) {
		errs = append(errs, fmt.Errorf("ns_per_sample must be positive, got %g", c.NsPerSample))
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		errs = append(errs, fmt.Errorf("compression_level must be in [0, 9], got %d", c.CompressionLevel))
	}
	names := make(map[string]bool)
	for _, analysis := range c.Coincidences {
		if names[analysis.Name] {
			errs = append(errs, fmt.Errorf("duplicate analysis name %q", analysis.Name))
		}
		names[analysis.Name] = true
		if !(analysis.TimeMax > analysis.TimeMin) {
			errs = append(errs, fmt.Errorf("%s: time_max %g must be greater than time_min %g", analysis.Name, analysis.TimeMax, analysis.TimeMin))
		}
		if _, err := analysis.Axes(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", analysis.Name, err))
		}
		for _, gate := range analysis.gateConfigurations() {
			if err := gate.config.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %s: %w", analysis.Name, gate.name, err))
			}
		}
	}
	if c.Rates.Enabled {
		if c.Rates.DeltaBins < 1 {
			errs = append(errs, fmt.Errorf("rates: delta_bins must be positive, got %d", c.Rates.DeltaBins))
		}
		if c.Rates.FitRounds < 1 {
			errs = append(errs, fmt.Errorf("rates: fit_rounds must be positive, got %d", c.Rates.FitRounds))
		}
		if !(c.Rates.TauLowFactor >= 0 && c.Rates.TauLowFactor < c.Rates.TauHighFactor) {
			errs = append(errs, fmt.Errorf("rates: need 0 <= tau_low_factor < tau_high_factor, got %g and %g", c.Rates.TauLowFactor, c.Rates.TauHighFactor))
		}
		if c.Rates.DeltaMax != 0 && !(c.Rates.DeltaMax > c.Rates.DeltaMin) {
			errs = append(errs, fmt.Errorf("rates: delta_max %g must be greater than delta_min %g", c.Rates.DeltaMax, c.Rates.DeltaMin))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// Axes builds the histogram axes of the analysis. With a modulo the time
// axis spans one period.
func (a CoincidenceConfiguration) Axes() (HistogramAxes, error) {
	tofMin, tofMax := a.TimeMin, a.TimeMax
	if a.Modulo != 0 {
		tofMin, tofMax = 0, math.Abs(a.Modulo)
	}
	tof, err := BuildAxis(tofMin, tofMax, a.TimeResolution)
	if err != nil {
		return HistogramAxes{}, fmt.Errorf("time axis: %w", err)
	}
	energy, err := BuildAxis(a.EnergyMin, a.EnergyMax, a.EnergyResolution)
	if err != nil {
		return HistogramAxes{}, fmt.Errorf("energy axis: %w", err)
	}
	psd, err := BuildAxis(a.PSDMin, a.PSDMax, a.PSDResolution)
	if err != nil {
		return HistogramAxes{}, fmt.Errorf("PSD axis: %w", err)
	}
	return HistogramAxes{ToF: tof, Energy: energy, PSD: psd}, nil
}

func (a CoincidenceConfiguration) Window() CoincidenceWindow {
	return CoincidenceWindow{Min: a.TimeMin, Max: a.TimeMax, Modulo: a.Modulo, Offset: a.Offset}
}

type namedGateConfiguration struct {
	name   string
	config GateConfiguration
}

func (a CoincidenceConfiguration) gateConfigurations() []namedGateConfiguration {
	return []namedGateConfiguration{
		{"reference_energy_gate", a.ReferenceEnergyGate},
		{"reference_psd_gate", a.ReferencePSDGate},
		{"partner_energy_gate", a.PartnerEnergyGate},
		{"partner_psd_gate", a.PartnerPSDGate},
	}
}

func (a CoincidenceConfiguration) Gates() Gates {
	return Gates{
		ReferenceEnergy: a.ReferenceEnergyGate.Gate(),
		ReferencePSD:    a.ReferencePSDGate.Gate(),
		PartnerEnergy:   a.PartnerEnergyGate.Gate(),
		PartnerPSD:      a.PartnerPSDGate.Gate(),
	}
}

func (r RatesConfiguration) Settings() RateSettings {
	return RateSettings{
		Bins:          r.DeltaBins,
		DeltaMin:      r.DeltaMin,
		DeltaMax:      r.DeltaMax,
		FitRounds:     r.FitRounds,
		TauLowFactor:  r.TauLowFactor,
		TauHighFactor: r.TauHighFactor,
	}
}
