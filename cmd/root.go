package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/relaytap/pkg/logutil"
)

var rootCmd = &cobra.Command{
	Use:   "relaytap",
	Short: "Transparent audit proxy for a single upstream HTTP API",
	Long:  "Relaytap sits in front of one upstream JSON API, lightly rewrites requests, relays responses unmodified, and keeps a full audit trail of every transaction.",
}

var rootLogLevel string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logutil.Configure(rootLogLevel)
	}
}
