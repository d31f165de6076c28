package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sqlx "github.com/jmoiron/sqlx"
	coincidences "github.com/next-exp/coincidences_go/pkg"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var runCmd = &cobra.Command{
	Use:   "run [file_in]",
	Short: "Match coincidences and estimate channel rates",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		configuration, err := setup(args)
		if err != nil {
			return err
		}
		if err := run(cmd.Context(), configuration); err != nil {
			logger.Error(err.Error())
			return err
		}
		return nil
	},
}

// setup loads the configuration, applies the positional input file and
// configures library logging.
func setup(args []string) (coincidences.Configuration, error) {
	configuration, err := LoadConfiguration(configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		return configuration, message
	}
	if len(args) > 0 {
		configuration.FileIn = args[0]
	}
	coincidences.SetVerbosity(configuration.Verbosity)

	if configuration.Verbosity > 0 {
		message := fmt.Sprintf("Reading configuration file: %s", configFilename)
		logger.Info(message, "main")
		printConfiguration(configuration, logger)
	}
	if err := configuration.Validate(); err != nil {
		logger.Error(err.Error())
		return configuration, err
	}
	checkBatchBudget(configuration)
	return configuration, nil
}

func checkBatchBudget(configuration coincidences.Configuration) {
	budget, err := coincidences.CheckBatchBudget(configuration.BufferSize, configuration.Prefetch)
	if err != nil {
		logger.Error(err.Error())
		return
	}
	if budget.TooLarge() {
		logger.Error(fmt.Sprintf("buffer_size is large for this host: %s", budget))
		return
	}
	if configuration.Verbosity > 0 {
		logger.Info(budget.String(), "main")
		logger.Info("Coincidences across batch boundaries are lost: a larger buffer_size finds more of them at the cost of memory", "main")
	}
}

func connectToDatabase(configuration coincidences.Configuration) (*sqlx.DB, map[uint8]string) {
	if configuration.NoDB {
		return nil, nil
	}
	dbConn, err := coincidences.ConnectToDatabase(configuration.User, configuration.Passwd, configuration.Host, configuration.DBName)
	if err != nil {
		message := fmt.Errorf("Error connection to database: %w", err)
		logger.Error(message.Error())
		return nil, nil
	}
	atexit.Register(func() { dbConn.Close() })

	labels, err := coincidences.LoadChannelLabels(dbConn, configuration.RunNumber)
	if err != nil {
		logger.Error(err.Error())
	}
	return dbConn, labels
}

func openSource(ctx context.Context, configuration coincidences.Configuration) (coincidences.BatchSource, error) {
	file, err := os.Open(configuration.FileIn)
	if err != nil {
		return nil, &coincidences.ErrOpenFile{Filename: configuration.FileIn, Err: err}
	}
	atexit.Register(func() { file.Close() })

	var source coincidences.BatchSource = coincidences.NewFileSource(file, configuration.BufferSize)
	if configuration.Prefetch {
		source = coincidences.Prefetch(ctx, source, 1)
	}
	return source, nil
}

func run(parent context.Context, configuration coincidences.Configuration) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, labels := connectToDatabase(configuration)

	source, err := openSource(ctx, configuration)
	if err != nil {
		return err
	}

	pipeline, err := coincidences.NewPipeline(configuration)
	if err != nil {
		return err
	}
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Run ID: %s", pipeline.RunID()), "main")
	}

	writer, err := coincidences.NewWriter(configuration.FileOut, configuration.CompressionLevel)
	if err != nil {
		return err
	}
	atexit.Register(func() {
		if err := writer.Close(); err != nil {
			logger.Error(err.Error())
		}
	})
	if configuration.DumpRecords {
		pipeline.Sink = writer
	}

	var monitor *coincidences.Monitor
	if configuration.MonitorAddress != "" {
		monitor = coincidences.NewMonitor().WithLabels(labels)
		if _, err := monitor.StartServer(configuration.MonitorAddress); err != nil {
			logger.Error(err.Error())
		} else {
			pipeline.OnBatch = monitor.Publish
		}
	}

	// On a read error the report still holds every batch processed before it.
	report, runErr := pipeline.Run(ctx, source)
	if monitor != nil {
		monitor.Publish(report)
	}

	if err := writer.WriteReport(report, configuration.RunNumber); err != nil {
		return fmt.Errorf("error writing %s: %w", configuration.FileOut, err)
	}
	if dbConn != nil {
		if err := coincidences.SaveRunSummary(dbConn, report, configuration.RunNumber); err != nil {
			logger.Error(err.Error())
		}
	}

	printReport(report, labels)
	return runErr
}

func channelName(channel uint8, labels map[uint8]string) string {
	if label, ok := labels[channel]; ok {
		return fmt.Sprintf("%d (%s)", channel, label)
	}
	return fmt.Sprintf("%d", channel)
}

func printReport(report *coincidences.Report, labels map[uint8]string) {
	status := "complete"
	if report.Interrupted {
		status = "interrupted"
	}
	logger.Info(fmt.Sprintf("Run %s %s: %d batches, %d malformed, %d events, live time %g ns",
		report.RunID, status, report.Batches, report.MalformedBatches, report.Events, report.LiveTime), "main")

	for _, analysis := range report.Analyses {
		message := fmt.Sprintf("%s: channel %s -> %s, %d coincidences from %d references",
			analysis.Name, channelName(analysis.Reference, labels), channelName(analysis.Target, labels),
			analysis.Stats.Matches, analysis.Stats.MatchedReferences)
		logger.Info(message, "main")
		if tof := analysis.Histograms.ToF; tof.Entries() > 0 {
			peak := tof.Axis.Min + float64(tof.PeakIndex())*tof.Axis.Resolution
			logger.Info(fmt.Sprintf("%s: ToF mean %g ns, std dev %g ns, peak bin at %g ns",
				analysis.Name, tof.Mean(), tof.StdDev(), peak), "main")
		}
	}
	for _, rate := range report.Rates {
		if rate.Estimate == nil {
			logger.Info(fmt.Sprintf("Channel %s: %d events, no rate estimate (%s)",
				channelName(rate.Channel, labels), rate.Events, rate.Err), "main")
			continue
		}
		estimate := rate.Estimate
		message := fmt.Sprintf("Channel %s: measured rate %g /ns, true rate %g /ns, dead time %g ns, dead fraction %.4f",
			channelName(rate.Channel, labels), estimate.MeasuredRate, estimate.TrueRate, estimate.DeadTime, estimate.DeadFraction)
		logger.Info(message, "main")
	}
}
