// Package commands implements the gptrelay CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gptrelay",
		Short: "gptrelay - resilient HTTP bridge to a chat completion API",
		Long: `gptrelay accepts plain-text queries over HTTP, forwards them to an
OpenAI-compatible chat completion API with retry, backoff, client-side
timeout and model fallback, and returns the trimmed reply.

Examples:
  gptrelay serve                          # start the HTTP server
  gptrelay ask "what time is it in Oslo"  # one-off query from the terminal
  gptrelay config init                    # write a default config.yaml
  gptrelay config set-key                 # store the API key in the OS keyring
  gptrelay health                         # probe a running instance`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newConfigCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
