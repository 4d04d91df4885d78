package cmd

import (
	"fmt"

	"github.com/mselser95/slot-auction/internal/app"
	"github.com/mselser95/slot-auction/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the settlement engine and its HTTP API",
	Long: `Starts the settlement engine configured from the environment (and .env):
1. Resolves payment and slot tokens from memory or over JSON-RPC (TOKEN_BACKEND)
2. Journals settlement events to memory, console or postgres (STORAGE_MODE)
3. Serves the REST API, the event feed, /metrics, /health and /ready
4. Halts settlement when custody falls short of escrow`,
	RunE: runServe,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "", "HTTP port (overrides HTTP_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	port, _ := cmd.Flags().GetString("port")
	if port != "" {
		cfg.HTTPPort = port
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
