package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	serverURL string
	timeout   time.Duration

	rootCmd = &cobra.Command{
		Use:   "fleetctl",
		Short: "Command-line client for the fleet intelligence API",
		Long: `fleetctl pushes fleet snapshots to the intelligence API, prints the
context and risk alerts derived from them, and talks to the assistant:
chat, quick reports and the daily briefing.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	_ = godotenv.Load()

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOrDefault("FLEETINTEL_URL", "http://localhost:8080"), "intelligence API base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Minute, "overall request timeout")
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
