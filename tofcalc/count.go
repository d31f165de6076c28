package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	coincidences "github.com/next-exp/coincidences_go/pkg"
	"github.com/spf13/cobra"
)

var countCmd = &cobra.Command{
	Use:   "count [file_in]",
	Short: "Count events per channel",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		configuration, err := setup(args)
		if err != nil {
			return err
		}
		configuration.Coincidences = nil
		configuration.Rates.Enabled = false

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, labels := connectToDatabase(configuration)
		source, err := openSource(ctx, configuration)
		if err != nil {
			logger.Error(err.Error())
			return err
		}
		pipeline, err := coincidences.NewPipeline(configuration)
		if err != nil {
			logger.Error(err.Error())
			return err
		}
		report, err := pipeline.Run(ctx, source)
		if err != nil {
			logger.Error(err.Error())
		}

		for _, summary := range report.Channels {
			span := float64(summary.LastTimestamp-summary.FirstTimestamp) * configuration.NsPerSample
			logger.Info(fmt.Sprintf("Channel %s: %d events over %g ns",
				channelName(summary.Channel, labels), summary.Events, span), "count")
		}
		logger.Info(fmt.Sprintf("Total: %d events in %d batches (%d malformed)",
			report.Events, report.Batches, report.MalformedBatches), "count")
		return err
	},
}
