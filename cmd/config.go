package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/festats/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default configuration",
	Long: `Print the default configuration as YAML.

Examples:
  festats config > festats.yml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.DefaultYAML()
		if err != nil {
			return fmt.Errorf("render default config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
