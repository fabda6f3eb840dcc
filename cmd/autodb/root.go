package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autodb/autodb/pkg/config"
)

var (
	// Version is set during build.
	Version = "0.1.0"

	cfgFile string
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "autodb",
	Short: "Smoke-test harness for the autodb persistence engine",
	Long: `autodb registers one example entity (Note) against the identity
manager and exposes its lifecycle as CLI subcommands.

Examples:
  autodb migrate
  autodb inspect-schema
  autodb search "channels"
  autodb serve`,
	Version: Version,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log_level", "info", "log level (debug, info, warn, error)")
}

// loadConfig loads configuration from config.Load's search path, falling
// back to defaults when no file is present or it cannot be read. The
// --config flag is not consulted.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: using default config: %v\n", err)
		return config.DefaultConfig()
	}
	return cfg
}
