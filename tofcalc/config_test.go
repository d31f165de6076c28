package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	coincidences "github.com/next-exp/coincidences_go/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
	return filename
}

func TestLoadConfigurationDefaults(t *testing.T) {
	config, err := LoadConfiguration("")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(config.FileOut, "coincidences_"))
	assert.True(t, strings.HasSuffix(config.FileOut, ".h5"))
	assert.Equal(t, coincidences.DefaultBufferSize, config.BufferSize)
	assert.Equal(t, 1.0, config.NsPerSample)
	assert.Equal(t, 4, config.CompressionLevel)
	assert.True(t, config.NoDB)
	assert.True(t, config.Rates.Enabled)
	assert.Equal(t, coincidences.DefaultFitRounds, config.Rates.FitRounds)
	assert.Empty(t, config.Coincidences)
}

func TestLoadConfigurationJSON(t *testing.T) {
	filename := writeFile(t, "run.json", `{
		"file_in": "run_7.bin",
		"file_out": "run_7.h5",
		"ns_per_sample": 2,
		"normalize": true,
		"coincidences": [
			{"reference_channel": 0, "target_channel": 3, "time_min": -50, "time_max": 150,
			 "partner_energy_gate": {"min": 250}}
		],
		"rates": {"enabled": true, "channels": [0, 3], "fit_rounds": 2}
	}`)

	config, err := LoadConfiguration(filename)

	require.NoError(t, err)
	assert.Equal(t, "run_7.bin", config.FileIn)
	assert.Equal(t, "run_7.h5", config.FileOut)
	assert.Equal(t, 2.0, config.NsPerSample)
	assert.True(t, config.Normalize)
	assert.Equal(t, 4, config.CompressionLevel, "unset fields keep their defaults")

	require.Len(t, config.Coincidences, 1)
	analysis := config.Coincidences[0]
	assert.Equal(t, "ch0_ch3", analysis.Name)
	assert.Equal(t, -50.0, analysis.TimeMin)
	assert.Equal(t, 2.0, analysis.TimeResolution)
	require.NotNil(t, analysis.PartnerEnergyGate.Min)
	assert.Equal(t, 250.0, *analysis.PartnerEnergyGate.Min)
	assert.Nil(t, analysis.PartnerEnergyGate.Max)

	assert.Equal(t, []uint8{0, 3}, config.Rates.Channels)
	assert.Equal(t, 2, config.Rates.FitRounds)
	assert.Equal(t, coincidences.DefaultDeltaBins, config.Rates.DeltaBins)
	assert.NoError(t, config.Validate())
}

func TestLoadConfigurationYAMLWithEnvironment(t *testing.T) {
	t.Setenv("DAQ_DB_PASS", "s3cret")
	t.Setenv("DAQ_RUN", "1234")
	filename := writeFile(t, "run.yaml", `
run_number: ${DAQ_RUN}
no_db: false
pass: ${DAQ_DB_PASS}
monitor_address: "localhost:8080"
coincidences:
  - name: gamma
    reference_channel: 1
    target_channel: 2
    modulo: 400
    reference_psd_gate:
      max: 0.3
rates:
  enabled: false
`)

	config, err := LoadConfiguration(filename)

	require.NoError(t, err)
	assert.Equal(t, 1234, config.RunNumber)
	assert.False(t, config.NoDB)
	assert.Equal(t, "s3cret", config.Passwd)
	assert.Equal(t, "localhost:8080", config.MonitorAddress)
	assert.False(t, config.Rates.Enabled)

	require.Len(t, config.Coincidences, 1)
	analysis := config.Coincidences[0]
	assert.Equal(t, "gamma", analysis.Name)
	assert.Equal(t, 400.0, analysis.Modulo)
	assert.Equal(t, -200.0, analysis.TimeMin)
	require.NotNil(t, analysis.ReferencePSDGate.Max)
	assert.Equal(t, 0.3, *analysis.ReferencePSDGate.Max)
}

func TestLoadConfigurationErrors(t *testing.T) {
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	filename := writeFile(t, "broken.json", `{"buffer_size": "large"}`)
	_, err = LoadConfiguration(filename)
	assert.ErrorContains(t, err, "error parsing")
}

func TestPrintConfiguration(t *testing.T) {
	var info, errs bytes.Buffer
	config, err := LoadConfiguration("")
	require.NoError(t, err)
	config.Coincidences = []coincidences.CoincidenceConfiguration{coincidences.DefaultCoincidence()}
	config.Coincidences[0].Name = "ab"

	printConfiguration(config, NewLogger(&info, &errs))

	assert.Contains(t, info.String(), "[config] Buffer size: 167772160 bytes")
	assert.Contains(t, info.String(), "Analysis ab: gates E_ref open")
	assert.Empty(t, errs.String())
}

func TestLoggerHandler(t *testing.T) {
	var info, errs bytes.Buffer
	logger := NewLogger(&info, &errs)

	logger.Info("Reading batch 3", "reader")
	logger.Error("discarding batch 3")

	assert.Regexp(t, `^\[\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\] \[reader\] Reading batch 3\n$`, info.String())
	assert.Contains(t, errs.String(), `"msg":"discarding batch 3"`)
	assert.Contains(t, errs.String(), `"level":"ERROR"`)
}
