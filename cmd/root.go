// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X firestige.xyz/festats/cmd.version=...".
var (
	version = "0.1.0"
	commit  = "unknown"
)

// Global flags
var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "festats",
	Short: "festats - per-packet network feature extraction",
	Long: `festats computes damped incremental statistics over network traffic.

Every packet updates decaying accumulators at five time scales for its
MAC-IP pair, host, channel and socket, and yields a 100-value feature
vector that is written to the console, CSV files, Kafka, NATS or ClickHouse.
Traffic comes from pcap files or a live AF_PACKET ring.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(versionCmd)
}
