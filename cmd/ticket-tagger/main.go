// Command ticket-tagger runs the issue labelling webhook service.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ticket-tagger",
		Short: "Label new issues with a classifier prediction",
		Long: `ticket-tagger receives issue webhooks, classifies new issues and adds
the predicted label, honoring each repository's .github/tickettagger.yml.

Configuration is read from an optional YAML file and TAGGER_* environment
variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newCacheCmd(&configPath))
	rootCmd.AddCommand(newKeygenCmd())
	return rootCmd
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
