package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/dataquality/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	rulesPath string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dqctl",
		Short: "Validate ESG metric files against data-quality rules",
		Long: "dqctl runs the validation engine over JSON, CSV or XLSX record files\n" +
			"and checks rule config files before they are deployed.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logger.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			// stdout carries the report
			logger.Init(level, "text", cmd.ErrOrStderr())
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.rulesPath, "rules", os.Getenv("RULES_CONFIG"), "Rule config file (YAML or JSON); empty uses the built-in rules")
	f.StringVar(&opts.logLevel, "log-level", "WARN", "Log level: TRACE, DEBUG, INFO, WARN, ERROR")

	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newRulesCmd(opts))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
