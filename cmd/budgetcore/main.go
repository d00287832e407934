package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jask/budgetcore/internal/config"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/tui"
)

var (
	cfgFile      string
	logLevel     string
	showProgress bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "budgetcore",
	Short:         "Offline-first budgeting client: bank CSV import, sync and delete queues",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		if cfgFile != "" {
			if err := os.Setenv("BUDGETCORE_CONFIG", cfgFile); err != nil {
				return err
			}
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
		cmd.SetContext(logger.WithContext(cmd.Context(), log))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default is $HOME/.config/budgetcore/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level")
	rootCmd.PersistentFlags().BoolVar(&showProgress, "progress", false, "Show a live progress view for long runs")

	rootCmd.AddCommand(importCmd, syncCmd, deleteAllCmd, undoCmd, statusCmd, importsCmd, learnCmd, addCmd, healCmd, resetCmd, configCmd, workerCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, tui.Error(err))
		os.Exit(1)
	}
}
