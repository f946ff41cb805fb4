/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/greencycle/apiserver/config"
	"github.com/greencycle/apiserver/internal/logging"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "greencycle",
	Short: "greencycle recycling rewards backend",
	Long: `greencycle serves account, recycling bin and reward endpoints for the
greencycle app, and carries the tooling to migrate its database and
publish its catalog.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger) {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.Env, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger
}
