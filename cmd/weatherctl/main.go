// Command weatherctl is the operator CLI for the weather api-service.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	serverURL string
	timeout   time.Duration
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:           "weatherctl",
	Short:         "Query weather data and trigger ingestion jobs",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultURL := os.Getenv("WEATHER_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "api-service base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(citiesCmd, latestCmd, historyCmd, statsCmd, healthCmd, jobsCmd)
	jobsCmd.AddCommand(jobsPollCmd, jobsBackfillCmd, jobsRunsCmd, jobsRunCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
