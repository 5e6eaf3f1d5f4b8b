package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/ruleconfig"
)

func newRulesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule config files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [FILE]",
		Short: "Compile a rule config and summarize its tables",
		Long: "Compile FILE (or --rules, or the built-in rules) exactly as the server\n" +
			"would and print the field rules and table checks it defines.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := root.rulesPath
			if len(args) == 1 {
				source = args[0]
			}
			return runRulesCheck(cmd, source)
		},
	})
	return cmd
}

func runRulesCheck(cmd *cobra.Command, source string) error {
	manager := ruleconfig.NewManager(ruleconfig.ManagerConfig{
		Source:  source,
		History: quality.NewMemoryHistory(),
	})
	snap, err := manager.Reload()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	registry := snap.Engine.Registry()
	fmt.Fprintf(out, "Rules OK: %s\n", snap.Source)
	fmt.Fprintf(out, "Field rules: %d across %d fields\n", registry.Len(), len(registry.Fields()))

	tables := snap.Engine.Tables()
	if len(tables) == 0 {
		fmt.Fprintf(out, "No table checks.\n")
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tPERIOD\tCROSS-FIELD\tTREND FIELDS")
	for _, name := range tables {
		cfg, _ := snap.Engine.TableConfig(name)
		ids := make([]string, len(cfg.CrossField))
		for i, spec := range cfg.CrossField {
			ids[i] = spec.ID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, snap.Engine.PeriodField(name), listOrDash(ids), listOrDash(cfg.TrendFields))
	}
	tw.Flush()
	return nil
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
