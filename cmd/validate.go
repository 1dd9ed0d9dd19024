package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/festats/internal/config"
	_ "firestige.xyz/festats/internal/reporter/builtin"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without capturing anything.

Reporter sections are checked by the reporter they configure, so unknown
types and bad options are caught before a run.

Examples:
  festats validate -c festats.yml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), configFile)
	},
}

func runValidate(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	for i, rc := range cfg.Reporters {
		r, err := newReporter(rc)
		if err != nil {
			return fmt.Errorf("INVALID: reporters[%d]: %w", i, err)
		}
		// release writers created by Init
		_ = r.Stop(context.Background())
	}

	types := make([]string, len(cfg.Reporters))
	for i, rc := range cfg.Reporters {
		types[i] = rc.Type
	}
	fmt.Fprintf(out, "VALID: source %s, %d worker(s) with %s dispatch, lambdas %v, reporters %v\n",
		cfg.Source.Type,
		cfg.Engine.Workers,
		cfg.Engine.Dispatch,
		cfg.Engine.Lambdas,
		types,
	)
	return nil
}
