// Command mdmeta inspects AMBER simulation files and assembles multi-stage
// protocols from manifests or directory scans.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"ktkr.us/pkg/mdmeta/internal/logger"
)

var (
	flagLogLevel string
	flagLogFile  string
)

var rootCmd = &cobra.Command{
	Use:   "mdmeta",
	Short: "Extract metadata and reproducibility provenance from MD simulation files",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(flagLogLevel, flagLogFile)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "debug, info, warn, or error")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "also append logs to this file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
