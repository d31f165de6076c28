package main

import (
	"os"

	coincidences "github.com/next-exp/coincidences_go/pkg"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var (
	logger         Logger
	configFilename string
)

func init() {
	logger = NewLogger(os.Stdout, os.Stderr)
	coincidences.SetLogger(logger)
}

var rootCmd = &cobra.Command{
	Use:   "tofcalc",
	Short: "Coincidence and dead time analysis of digitizer event streams.",
	Long: `tofcalc reads a stream of 16 byte digitizer records, matches events of ` +
		`reference and target channels inside a time window and fills time of flight, ` +
		`energy and PSD histograms. It also estimates the true rate and dead time of ` +
		`every channel from the distribution of time differences between its events.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file path (JSON or YAML)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(countCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
