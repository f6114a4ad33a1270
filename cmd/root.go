// Package cmd defines the CLI commands for the tablehawk executable.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tablehawk",
		Short: "Restaurant listing crawler for Quandoo-style sites",
		Long: `tablehawk crawls the restaurant listings of a city, walks every result
page, optionally visits each restaurant's detail and menu pages, and writes
one document per city with the extracted records.`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(loadDotenv)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is env + built-in defaults)")

	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// loadDotenv pulls a .env file into the environment before viper reads it.
// A missing file is fine.
func loadDotenv() {
	_ = godotenv.Load()
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
