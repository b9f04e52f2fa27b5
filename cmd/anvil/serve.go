package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/api"
	"github.com/seantiz/anvil/internal/artifact"
	"github.com/seantiz/anvil/internal/config"
	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/store"
	"github.com/seantiz/anvil/internal/trellis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon",
	Long: `Starts the long-running orchestrator: the cooperative scheduler that
drives every job, the SQLite journal, the artifact store and the control API.
Configuration comes from ANVIL_* environment variables (a .env file is
honored).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger := config.NewLogger(os.Stdout, cfg.LogLevel)

		logger.Info("anvil: starting",
			"listen_addr", cfg.ListenAddr,
			"server_url", cfg.ServerURL,
			"db_path", cfg.DBPath,
			"output_dir", cfg.OutputDir,
		)

		journal, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open job journal: %w", err)
		}
		defer journal.Close()

		artifacts, err := artifact.NewStore(cfg.OutputDir)
		if err != nil {
			return fmt.Errorf("open artifact store: %w", err)
		}

		client := trellis.NewClient(cfg.ServerURL, cfg.HTTPTimeout)

		eng := engine.NewEngine(client, artifacts, journal, logger, engine.Options{
			PollInterval: cfg.PollInterval,
			TickInterval: cfg.TickInterval,
		})

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go eng.Run(ctx)

		srv := api.NewServer(cfg.ListenAddr, eng, logger)
		return srv.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
