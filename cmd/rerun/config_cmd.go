package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/rerun/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration rerun would use, after applying defaults, the
config file, RERUN_* environment variables and flags.

The TOML and YAML output can be saved as .rerun.toml or .rerun.yaml:

  rerun config -i 250 --on-missing drop > .rerun.toml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		cfg, err := loadConfig(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := config.Encode(cmd.OutOrStdout(), cfg, format); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	configCmd.Flags().String("format", config.FormatTOML, "Output format: toml, yaml or json")
	rootCmd.AddCommand(configCmd)
}
