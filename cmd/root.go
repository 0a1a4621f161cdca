package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nfscan/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "nfscan",
	Short: "nfscan - multi-engine OCR fusion and NF-e field extraction",
	Long: `nfscan merges text detections from multiple OCR engines into a single
reading-order text, extracts the structured fields of a Brazilian NF-e
(DANFE) document and scores the result.

Use the scan command to process an image end to end, or the fuse command
to run fusion and extraction over pre-computed detections.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("nfscan executed")

		fmt.Println("Welcome to nfscan!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
