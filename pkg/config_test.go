package coincidences

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	config := Configuration{
		Coincidences: []CoincidenceConfiguration{
			{ReferenceChannel: 2, TargetChannel: 7},
			{Name: "narrow", TimeMin: -10, TimeMax: 10, TimeResolution: 0.5, EnergyMax: 4096, EnergyResolution: 16},
		},
	}

	config.ApplyDefaults()

	first := config.Coincidences[0]
	assert.Equal(t, "ch2_ch7", first.Name)
	assert.Equal(t, -200.0, first.TimeMin)
	assert.Equal(t, 200.0, first.TimeMax)
	assert.Equal(t, 2.0, first.TimeResolution)
	assert.Equal(t, 65536.0, first.EnergyMax)
	assert.Equal(t, 0.01, first.PSDResolution)

	second := config.Coincidences[1]
	assert.Equal(t, "narrow", second.Name)
	assert.Equal(t, -10.0, second.TimeMin)
	assert.Equal(t, 0.5, second.TimeResolution)
	assert.Equal(t, 4096.0, second.EnergyMax)
	assert.Equal(t, 16.0, second.EnergyResolution)

	assert.Equal(t, DefaultDeltaBins, config.Rates.DeltaBins)
	assert.Equal(t, DefaultFitRounds, config.Rates.FitRounds)
	assert.Equal(t, float64(DefaultTauLowFactor), config.Rates.TauLowFactor)
	assert.Equal(t, float64(DefaultTauHighFactor), config.Rates.TauHighFactor)
}

func TestApplyDefaultsKeepsConfiguredMinimum(t *testing.T) {
	config := Configuration{
		Coincidences: []CoincidenceConfiguration{{EnergyMin: 500, PSDMin: 0.2}},
	}

	config.ApplyDefaults()

	analysis := config.Coincidences[0]
	assert.Equal(t, 500.0, analysis.EnergyMin)
	assert.Equal(t, 65536.0, analysis.EnergyMax)
	assert.Equal(t, 0.2, analysis.PSDMin)
	assert.Equal(t, 1.0, analysis.PSDMax)

	axes, err := analysis.Axes()
	require.NoError(t, err)
	assert.Equal(t, 500.0, axes.Energy.Min)
	assert.Equal(t, 0.2, axes.PSD.Min)
}

func TestValidate(t *testing.T) {
	require.NoError(t, testConfiguration().Validate())

	tests := []struct {
		name   string
		modify func(*Configuration)
		errMsg string
	}{
		{"small buffer", func(c *Configuration) { c.BufferSize = 8 }, "buffer_size 8"},
		{"no sample period", func(c *Configuration) { c.NsPerSample = 0 }, "ns_per_sample"},
		{"compression", func(c *Configuration) { c.CompressionLevel = 10 }, "compression_level"},
		{"duplicate", func(c *Configuration) {
			c.Coincidences = append(c.Coincidences, c.Coincidences[0])
		}, "duplicate analysis name \"ab\""},
		{"empty window", func(c *Configuration) { c.Coincidences[0].TimeMax = c.Coincidences[0].TimeMin }, "time_max"},
		{"bad resolution", func(c *Configuration) { c.Coincidences[0].EnergyResolution = -1 }, "energy axis"},
		{"empty gate", func(c *Configuration) {
			c.Coincidences[0].PartnerEnergyGate = GateConfiguration{Min: ptr(300), Max: ptr(300)}
		}, "partner_energy_gate: min 300 must be lower than max 300"},
		{"inverted gate", func(c *Configuration) {
			c.Coincidences[0].ReferencePSDGate = GateConfiguration{Min: ptr(0.5), Max: ptr(0.2)}
		}, "reference_psd_gate"},
		{"fit factors", func(c *Configuration) {
			c.Rates.Enabled = true
			c.Rates.TauLowFactor = 6
			c.Rates.TauHighFactor = 3
		}, "tau_low_factor"},
		{"delta range", func(c *Configuration) {
			c.Rates.Enabled = true
			c.Rates.DeltaMin = 100
			c.Rates.DeltaMax = 50
		}, "delta_max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfiguration()
			tt.modify(&config)

			err := config.Validate()

			assert.ErrorIs(t, err, ErrInvalidConfiguration)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestValidateAcceptsHalfOpenGates(t *testing.T) {
	config := testConfiguration()
	config.Coincidences[0].PartnerEnergyGate = GateConfiguration{Min: ptr(300)}
	config.Coincidences[0].PartnerPSDGate = GateConfiguration{Max: ptr(0.1)}

	assert.NoError(t, config.Validate())
}

func TestValidateIgnoresRatesWhenDisabled(t *testing.T) {
	config := testConfiguration()
	config.Rates.FitRounds = 0

	assert.NoError(t, config.Validate())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	config := testConfiguration()
	config.BufferSize = 0
	config.CompressionLevel = -1

	err := config.Validate()

	assert.ErrorContains(t, err, "buffer_size")
	assert.ErrorContains(t, err, "compression_level")
}

func TestAxesWithModulo(t *testing.T) {
	analysis := DefaultCoincidence()
	analysis.Modulo = -100
	analysis.TimeResolution = 1

	axes, err := analysis.Axes()

	require.NoError(t, err)
	assert.Equal(t, 0.0, axes.ToF.Min)
	assert.Equal(t, 100, axes.ToF.Bins)
	assert.Equal(t, 1024, axes.Energy.Bins)
	assert.Equal(t, 100, axes.PSD.Bins)
}

func TestConfiguredGates(t *testing.T) {
	analysis := DefaultCoincidence()
	analysis.PartnerPSDGate = GateConfiguration{Min: ptr(0.2)}

	gates := analysis.Gates()

	assert.True(t, gates.PSDActive())
	assert.False(t, gates.PartnerPSD.Accepts(0.1))
	assert.True(t, gates.PartnerPSD.Accepts(0.2))
	assert.True(t, gates.ReferenceEnergy.Accepts(1e9))
}
