package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	coincidences "github.com/next-exp/coincidences_go/pkg"
	"github.com/rs/xid"
	"gopkg.in/yaml.v3"
)

// LoadConfiguration returns the defaults overridden by the JSON or YAML
// file at filename. ${VAR} references in the file are expanded from the
// environment, after loading a .env file when there is one. An empty
// filename returns the defaults.
func LoadConfiguration(filename string) (coincidences.Configuration, error) {
	var config coincidences.Configuration

	// Set default values
	config.FileOut = fmt.Sprintf("coincidences_%s.h5", xid.New().String())
	config.Verbosity = 0
	config.BufferSize = coincidences.DefaultBufferSize
	config.Prefetch = false
	config.NsPerSample = 1
	config.Normalize = false
	config.DumpRecords = false
	config.CompressionLevel = 4
	config.RunNumber = 0
	config.NoDB = true
	config.Host = "localhost"
	config.User = "coincidences"
	config.DBName = "DAQ"
	config.MonitorAddress = ""
	config.Rates = coincidences.RatesConfiguration{
		Enabled:       true,
		DeltaBins:     coincidences.DefaultDeltaBins,
		FitRounds:     coincidences.DefaultFitRounds,
		TauLowFactor:  coincidences.DefaultTauLowFactor,
		TauHighFactor: coincidences.DefaultTauHighFactor,
	}

	if filename == "" {
		return config, nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("error loading .env: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(expanded), &config)
	default:
		err = json.Unmarshal([]byte(expanded), &config)
	}
	if err != nil {
		return config, fmt.Errorf("error parsing %s: %w", filename, err)
	}
	config.ApplyDefaults()
	return config, nil
}

func printConfiguration(config coincidences.Configuration, logger Logger) {
	logger.Info(fmt.Sprintf("File in: %s", config.FileIn), "config")
	logger.Info(fmt.Sprintf("File out: %s", config.FileOut), "config")
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
	logger.Info(fmt.Sprintf("Buffer size: %d bytes", config.BufferSize), "config")
	logger.Info(fmt.Sprintf("Prefetch: %t", config.Prefetch), "config")
	logger.Info(fmt.Sprintf("ns per sample: %g", config.NsPerSample), "config")
	logger.Info(fmt.Sprintf("Normalize: %t", config.Normalize), "config")
	logger.Info(fmt.Sprintf("Dump records: %t", config.DumpRecords), "config")
	logger.Info(fmt.Sprintf("Compression level: %d", config.CompressionLevel), "config")
	logger.Info(fmt.Sprintf("Run number: %d", config.RunNumber), "config")
	logger.Info(fmt.Sprintf("No DB: %t", config.NoDB), "config")
	logger.Info(fmt.Sprintf("Host: %s", config.Host), "config")
	logger.Info(fmt.Sprintf("DB name: %s", config.DBName), "config")
	logger.Info(fmt.Sprintf("Monitor address: %s", config.MonitorAddress), "config")
	for _, analysis := range config.Coincidences {
		logger.Info(fmt.Sprintf("Analysis %s: channel %d -> %d, window [%g, %g], modulo %g, offset %g",
			analysis.Name, analysis.ReferenceChannel, analysis.TargetChannel,
			analysis.TimeMin, analysis.TimeMax, analysis.Modulo, analysis.Offset), "config")
		logger.Info(fmt.Sprintf("Analysis %s: gates E_ref %s, PSD_ref %s, E_partner %s, PSD_partner %s",
			analysis.Name, analysis.ReferenceEnergyGate.Gate(), analysis.ReferencePSDGate.Gate(),
			analysis.PartnerEnergyGate.Gate(), analysis.PartnerPSDGate.Gate()), "config")
	}
	logger.Info(fmt.Sprintf("Rates: %t, channels %v, %d bins, fit rounds %d, window [%g, %g] tau",
		config.Rates.Enabled, config.Rates.Channels, config.Rates.DeltaBins, config.Rates.FitRounds,
		config.Rates.TauLowFactor, config.Rates.TauHighFactor), "config")
}
