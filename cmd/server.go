/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the authgate API server",
	Long: `Starts the authgate API server. Usage:

	authgate server
	authgate server --env-file .env.local
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger := logging.New(cfg.IsProduction())
		ctx := cmd.Context()

		srv, err := server.New(ctx, cfg, logger)
		if err != nil {
			logger.Error(ctx, "failed to start server", "err", err)
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if err != nil {
				logger.Error(ctx, "server error", "err", err)
			}
			_ = srv.Shutdown(context.Background())
			return err
		case <-ctx.Done():
		}

		logger.Info(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "graceful shutdown failed", "err", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
