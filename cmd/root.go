package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "slot-auction",
	Short: "Escrowed ad-slot auction and micropayment settlement engine",
	Long: `Runs an auction over advertising slots. Bidders escrow a payment token to
win the right to set a slot's content, and the slot owner draws the escrow
down in small payouts as the ad is served.

Use "serve" to run the engine behind its HTTP API, "simulate" for an
in-memory walkthrough, and the client commands to talk to a running server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadDotEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().String("api-url", "", "Settlement API base URL (default $API_URL or http://localhost:8080)")
}

// loadDotEnv loads .env when present. Variables already set win.
func loadDotEnv() {
	_ = godotenv.Load()
}
