package commands

import (
	"fmt"
	"os"

	"github.com/okatkov/gptrelay/pkg/gptrelay/relay"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd groups the configuration management subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and credentials",
		Long: `Manage the gptrelay configuration file and the upstream API key.

Examples:
  gptrelay config init
  gptrelay config show
  gptrelay config set-key
  gptrelay config delete-key`,
	}
	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml in the current directory",
		RunE: func(_ *cobra.Command, _ []string) error {
			const path = "config.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}
			cfg := relay.DefaultConfig()
			cfg.API.APIKey = "${GPTRELAY_API_KEY}"
			if err := relay.SaveConfigToFile(cfg, path); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults + environment)"
			}

			out := *cfg
			out.API.APIKey = relay.MaskSecret(out.API.APIKey)
			data, err := yaml.Marshal(&out)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Printf("# source: %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the upstream API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !relay.KeyringAvailable() {
				return fmt.Errorf("no OS keyring available; set GPTRELAY_API_KEY instead")
			}
			key, err := relay.ReadPassword("API key: ")
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("empty key, nothing stored")
			}
			if err := relay.StoreAPIKey(key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Println("API key stored in the OS keyring.")
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the upstream API key from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := relay.DeleteAPIKey(); err != nil {
				return fmt.Errorf("removing key: %w", err)
			}
			fmt.Println("API key removed from the OS keyring.")
			return nil
		},
	}
}
