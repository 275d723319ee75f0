/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mailer"
	"github.com/authgate/apiserver/internal/mq"
	"github.com/authgate/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Delivers queued mail over SMTP",
	Long: `Consumes the mail queue (MAIL_QUEUE) on the broker selected by
MAILER_DRIVER and delivers each message through SMTP. Usage:

	MAILER_DRIVER=rabbitmq authgate mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if cfg.Mailer.Driver == config.MailerSMTP {
			return errors.New("MAILER_DRIVER is smtp; mail is sent inline and there is no queue to drain")
		}

		logger := logging.New(cfg.IsProduction()).With("component", "mail-worker")
		ctx := cmd.Context()

		broker, err := mq.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer broker.Close()

		worker := mailer.NewWorker(broker, cfg.Mailer.Queue, server.NewSMTPMailer(cfg, logger), logger)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info(context.Background(), "mail worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
