/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/authgate/apiserver/config"
	"github.com/spf13/cobra"
)

var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Username/password authentication API",
	Long: `authgate serves the account API: registration, login, password
recovery and profile updates behind CSRF, rate limiting and session checks.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
}

// loadConfig reads configuration from the environment, overlaid with
// --env-file when given, and validates it.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if envFile != "" {
		var err error
		cfg, err = config.LoadConfigFile(envFile)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.LoadConfig()
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
