// Package cmd wires the minds CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/minds/internal/config"
	"github.com/nextlevelbuilder/minds/internal/logging"
)

// Version is set at build time via
// -ldflags "-X github.com/nextlevelbuilder/minds/cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "minds",
	Short: "minds: multi-agent dialog orchestrator",
	Long:  "minds drives LLM-backed teammates through persistent, revivable dialogs: a websocket gateway for front-ends and a console chat for quick sessions.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: minds.json5 or $MINDS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("minds %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("MINDS_CONFIG"); v != "" {
		return v
	}
	return "minds.json5"
}

// loadEnvironment sets up logging, applies dotenv files, and loads
// the app config. Dotenv runs first so MINDS_* keys from .env reach
// the config overlay; already-set process env always wins.
func loadEnvironment() (*config.Config, error) {
	logging.Setup()

	_, dotenvErrs := config.LoadDotenv(".")
	for _, e := range dotenvErrs {
		slog.Warn("dotenv line skipped",
			"file", e.File, "line", e.LineNumber, "reason", e.Reason)
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	if verbose {
		logging.SetLevel(slog.LevelDebug)
	} else if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logging.SetLevel(lvl)
	} else {
		slog.Warn("unknown log level, keeping info", "level", cfg.Logging.Level)
	}
	return cfg, nil
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
