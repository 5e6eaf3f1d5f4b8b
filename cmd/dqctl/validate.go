package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/liamcoop/dataquality/ingest"
	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/ruleconfig"
	"github.com/liamcoop/dataquality/rules"
	"github.com/liamcoop/dataquality/store"
)

type validateOptions struct {
	table    string
	company  int
	sheet    string
	history  string
	database string
	persist  bool
	workers  int
	output   string
	failOn   string
}

// historyEntry is one prior-period value in a --history file
type historyEntry struct {
	Field  string  `json:"field"`
	Period int     `json:"period"`
	Value  float64 `json:"value"`
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a JSON, CSV or XLSX record file",
		Long: "Validate every record in FILE against the field, cross-field and trend\n" +
			"checks of the rule config and print the findings and the quality score.\n" +
			"Exits non-zero when a finding at or above --fail-on is reported.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, root, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.table, "table", "", "Table the records belong to (required)")
	f.IntVar(&opts.company, "company", 0, "Company id used for trend history")
	f.StringVar(&opts.sheet, "sheet", "", "Worksheet of an XLSX file (default first sheet)")
	f.StringVar(&opts.history, "history", "", "JSON file of prior-period values: [{\"field\", \"period\", \"value\"}]")
	f.StringVar(&opts.database, "database", "", "PostgreSQL URL to read trend history from (defaults to DATABASE_URL when --persist is set)")
	f.BoolVar(&opts.persist, "persist", false, "Save the report and findings to the database")
	f.IntVar(&opts.workers, "workers", 1, "Records evaluated in parallel (0 = one per CPU)")
	f.StringVar(&opts.output, "output", "text", "Output format: text or json")
	f.StringVar(&opts.failOn, "fail-on", "error", "Lowest severity that fails the run: error, warning, info or none")

	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func runValidate(cmd *cobra.Command, root *rootOptions, opts *validateOptions, path string) error {
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unknown output format %q (want text or json)", opts.output)
	}
	threshold, err := parseFailOn(opts.failOn)
	if err != nil {
		return err
	}
	if opts.history != "" && (opts.database != "" || opts.persist) {
		return fmt.Errorf("--history cannot be combined with --database or --persist")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var history quality.HistoryPort
	engineOpts := []quality.Option{quality.WithWorkers(opts.workers)}

	databaseURL := opts.database
	if databaseURL == "" && opts.persist {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	switch {
	case databaseURL != "":
		db, err := store.Open(ctx, databaseURL, 0)
		if err != nil {
			return err
		}
		defer db.Close()
		history = store.NewHistoryRepository(db)
		if opts.persist {
			engineOpts = append(engineOpts, quality.WithResultSink(store.NewReportRepository(db)))
		}
	case opts.persist:
		return fmt.Errorf("--persist needs --database or DATABASE_URL")
	default:
		mem := quality.NewMemoryHistory()
		if opts.history != "" {
			if err := loadHistory(mem, opts.history, opts.company); err != nil {
				return err
			}
		}
		history = mem
	}

	manager := ruleconfig.NewManager(ruleconfig.ManagerConfig{
		Source:        root.rulesPath,
		History:       history,
		EngineOptions: engineOpts,
	})
	snap, err := manager.Reload()
	if err != nil {
		return err
	}

	records, err := ingest.ReadFile(path, ingest.Options{
		Types: snap.Document.Schema[opts.table],
		Sheet: opts.sheet,
	})
	if err != nil {
		return err
	}

	result, persistErr := snap.Engine.Validate(ctx, quality.RecordBatch{
		Table:     opts.table,
		CompanyID: opts.company,
		Records:   records,
	})
	if result == nil {
		return persistErr
	}

	out := cmd.OutOrStdout()
	if opts.output == "json" {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		writeText(out, result)
	}

	if persistErr != nil {
		return fmt.Errorf("validation finished but was not saved: %w", persistErr)
	}
	if n := countAtOrAbove(result.Findings, threshold); n > 0 {
		return fmt.Errorf("%d finding(s) at or above %s", n, opts.failOn)
	}
	return nil
}

func loadHistory(mem *quality.MemoryHistory, path string, companyID int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read history file: %w", err)
	}

	var entries []historyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse history file %s: %w", path, err)
	}
	for i, e := range entries {
		if e.Field == "" {
			return fmt.Errorf("history file %s: entry %d has no field", path, i)
		}
		mem.Put(companyID, e.Field, e.Period, e.Value)
	}
	return nil
}

// severityRank orders severities; 0 disables failing
var severityRank = map[rules.Severity]int{
	rules.SeverityInfo:    1,
	rules.SeverityWarning: 2,
	rules.SeverityError:   3,
}

func parseFailOn(s string) (int, error) {
	if s == "none" {
		return 0, nil
	}
	sev, err := rules.ParseSeverity(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --fail-on: %w", err)
	}
	return severityRank[sev], nil
}

func countAtOrAbove(findings []rules.Finding, threshold int) int {
	if threshold == 0 {
		return 0
	}
	n := 0
	for _, f := range findings {
		if severityRank[f.Severity] >= threshold {
			n++
		}
	}
	return n
}

func writeJSON(w io.Writer, result *quality.ValidationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

func writeText(w io.Writer, result *quality.ValidationResult) {
	r := result.Report
	fmt.Fprintf(w, "Table:    %s (company %d)\n", r.Table, r.CompanyID)
	fmt.Fprintf(w, "Records:  %d total, %d valid (%d with warnings), %d with errors\n",
		r.TotalRecords, r.ValidRecords, r.WarningRecords, r.ErrorRecords)
	fmt.Fprintf(w, "Score:    %.2f (%s)\n", r.Score, r.Grade)
	if !r.Complete {
		fmt.Fprintf(w, "Warning:  run was interrupted, report covers processed records only\n")
	}

	if len(result.Findings) == 0 {
		fmt.Fprintf(w, "No findings.\n")
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tSEVERITY\tRULE\tFIELD\tMESSAGE")
	for _, f := range result.Findings {
		field := f.Field
		if field == "" {
			field = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", f.RecordIndex, f.Severity, f.RuleID, field, f.Message)
	}
	tw.Flush()
}
