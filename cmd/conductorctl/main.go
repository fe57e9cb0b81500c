package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	reqTimeout time.Duration
	rawOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "conductorctl",
	Short: "Command-line client for the conductor API",
	Long: `conductorctl talks to a running conductor server.

It can analyze a request without planning it, create and execute plans,
inspect execution snapshots and read message bus statistics.`,
	SilenceUsage: true,
}

func init() {
	defaultURL := os.Getenv("CONDUCTOR_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "conductor server URL")
	rootCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().BoolVar(&rawOutput, "json", false, "print raw JSON responses")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(agentsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
