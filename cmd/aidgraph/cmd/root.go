// Package cmd implements the aidgraph CLI.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/aidgraph/internal/config"
	"github.com/dshills/aidgraph/internal/logging"
)

var (
	cfgFile string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aidgraph",
	Short: "Durable financial-aid discovery workflows",
	Long: `aidgraph finds, verifies and ranks scholarships and grants for a student.
Each user has a durable thread: runs survive restarts, and a run that needs
the student's consent to share their SAI band pauses until it is answered.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./aidgraph.yaml or ~/.config/aidgraph/aidgraph.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "auto", "log format (auto, text, json)")
	flags.String("store", "sqlite", "checkpoint store (memory, sqlite, mysql, postgres, file)")
	flags.String("store-dsn", "aidgraph.db", "store path or DSN")
	flags.String("profiles", "profiles", "directory of <user>.yaml profiles")
	flags.String("search", "llm", "search backend (llm, http)")
	flags.String("provider", "openai", "LLM provider (anthropic, openai, google, mock)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("store.driver", flags.Lookup("store"))
	_ = viper.BindPFlag("store.dsn", flags.Lookup("store-dsn"))
	_ = viper.BindPFlag("profiles.dir", flags.Lookup("profiles"))
	_ = viper.BindPFlag("search.backend", flags.Lookup("search"))
	_ = viper.BindPFlag("llm.provider", flags.Lookup("provider"))

	rootCmd.AddCommand(serveCmd, runCmd, resumeCmd, statusCmd, refreshCmd)
}

func initConfig() error {
	loaded, err := config.NewLoaderWithViper(viper.GetViper()).WithConfigFile(cfgFile).Load()
	if err != nil {
		return err
	}
	l, err := logging.New(loaded.Log.Level, loaded.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	cfg, logger = loaded, l
	slog.SetDefault(logger)
	return nil
}
