// transitflow collects departure and arrival boards for one transit line and
// stores them as write-once Parquet artifacts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configPath string
	logLevel   string
	logFormat  string
	backend    string
	prefix     string
	localRoot  string
)

// exitCode is set by commands whose outcome is not a plain error.
var exitCode int

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "transitflow",
	Short: "transitflow - collect transit boards into Parquet",
	Long: `transitflow polls the departure and arrival boards of the configured stations,
keeps the movements of one line, and stores each board as a write-once Parquet
artifact in object storage.

Configuration is read from ~/.transitflow/config.yaml, ./transitflow.yaml,
--config, TRANSITFLOW_* environment variables and flags, in that order.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Storage backend (s3, local, memory)")
	rootCmd.PersistentFlags().StringVar(&prefix, "prefix", "", "Artifact key prefix")
	rootCmd.PersistentFlags().StringVar(&localRoot, "local-root", "", "Root directory for the local backend")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(reportCmd)
}
