package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/dataquality/internal/logger"
	"github.com/liamcoop/dataquality/internal/metrics"
	"github.com/liamcoop/dataquality/rules"
)

// DefaultHistoryTimeout bounds a single history lookup
const DefaultHistoryTimeout = 2 * time.Second

type options struct {
	sink               ResultSink
	workers            int
	historyConcurrency int
	historyTimeout     time.Duration
	tables             map[string]TableConfig
	log                *slog.Logger
	now                func() time.Time
}

// Option configures an Engine
type Option func(*options)

// WithResultSink persists every report and finding through sink
func WithResultSink(sink ResultSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithWorkers evaluates records on a pool of n goroutines. n <= 0 uses one
// worker per CPU. Without this option records are evaluated sequentially.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = runtime.NumCPU()
		}
		o.workers = n
	}
}

// WithHistoryConcurrency caps in-flight history lookups, typically at the
// database connection pool size. n <= 0 means unbounded.
func WithHistoryConcurrency(n int) Option {
	return func(o *options) { o.historyConcurrency = n }
}

// WithHistoryTimeout bounds each history lookup. d <= 0 disables the timeout.
func WithHistoryTimeout(d time.Duration) Option {
	return func(o *options) { o.historyTimeout = d }
}

// WithTable registers the table-level checks for table
func WithTable(table string, cfg TableConfig) Option {
	return func(o *options) { o.tables[table] = cfg }
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock sets the clock used for report timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Engine validates record batches against field rules, cross-field specs and
// trend checks, then scores the outcome.
// Safe for concurrent use; the registry may be updated between runs.
type Engine struct {
	registry *rules.Registry
	fields   *rules.FieldEvaluator
	cross    *rules.CrossFieldEvaluator
	trend    *TrendDetector
	history  HistoryPort
	sink     ResultSink
	workers  int
	log      *slog.Logger
	now      func() time.Time

	tables map[string]TableConfig
	mu     sync.RWMutex
}

// NewEngine creates an engine over registry. history may be nil only if no
// table enables trend checks.
func NewEngine(registry *rules.Registry, history HistoryPort, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("rule registry is required")
	}

	o := options{
		workers:        1,
		historyTimeout: DefaultHistoryTimeout,
		tables:         make(map[string]TableConfig),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.New("engine")
	}

	en := &Engine{
		registry: registry,
		fields:   rules.NewFieldEvaluator(registry),
		cross:    rules.NewCrossFieldEvaluator(),
		trend:    NewTrendDetector(),
		sink:     o.sink,
		workers:  o.workers,
		log:      o.log,
		now:      o.now,
		tables:   make(map[string]TableConfig, len(o.tables)),
	}
	if history != nil {
		en.history = newGuardedHistory(history, o.historyConcurrency, o.historyTimeout)
	}

	for name, cfg := range o.tables {
		if err := en.RegisterTable(name, cfg); err != nil {
			return nil, err
		}
	}

	return en, nil
}

// RegisterTable sets or replaces the table-level checks for table
func (en *Engine) RegisterTable(table string, cfg TableConfig) error {
	cfg, err := cfg.validate(table)
	if err != nil {
		return err
	}
	if len(cfg.TrendFields) > 0 && en.history == nil {
		return fmt.Errorf("table %s: trend checks require a history port", table)
	}

	en.mu.Lock()
	en.tables[table] = cfg
	en.mu.Unlock()
	return nil
}

// Tables returns the names of tables with registered checks, sorted
func (en *Engine) Tables() []string {
	en.mu.RLock()
	defer en.mu.RUnlock()

	names := make([]string, 0, len(en.tables))
	for name := range en.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry returns the rule registry the engine evaluates
func (en *Engine) Registry() *rules.Registry {
	return en.registry
}

// TableConfig returns the validated checks registered for table
func (en *Engine) TableConfig(table string) (TableConfig, bool) {
	en.mu.RLock()
	defer en.mu.RUnlock()
	cfg, ok := en.tables[table]
	return cfg, ok
}

// PeriodField returns the record key holding the reporting period for table
func (en *Engine) PeriodField(table string) string {
	return en.table(table).periodField()
}

func (en *Engine) table(name string) TableConfig {
	en.mu.RLock()
	defer en.mu.RUnlock()
	return en.tables[name]
}

// Validate evaluates every record in batch and scores the table.
//
// On ctx cancellation no further records are started, in-flight records run
// to completion and the report covers only processed records with
// Complete=false. The partial report is still persisted: the sink runs
// without the caller's cancellation. A non-nil error is returned only when
// the result sink fails; the result is still valid in that case.
func (en *Engine) Validate(ctx context.Context, batch RecordBatch) (*ValidationResult, error) {
	start := time.Now()
	cfg := en.table(batch.Table)

	n := len(batch.Records)
	perRecord := make([][]rules.Finding, n)
	processed := make([]bool, n)

	en.dispatch(ctx, n, func(i int) {
		// in-flight records finish even if the caller cancels
		recCtx := context.WithoutCancel(ctx)
		perRecord[i] = en.evaluateRecord(recCtx, batch.Table, cfg, batch.CompanyID, batch.Records[i])
		processed[i] = true
	})

	report := QualityReport{
		RunID:     uuid.NewString(),
		Table:     batch.Table,
		CompanyID: batch.CompanyID,
		CreatedAt: en.now().UTC(),
	}

	var findings []rules.Finding
	for i := 0; i < n; i++ {
		if !processed[i] {
			continue
		}
		report.TotalRecords++

		hasError, hasOther := false, false
		for _, f := range perRecord[i] {
			f.RecordIndex = i
			findings = append(findings, f)
			metrics.RecordFinding(batch.Table, string(f.Severity))

			if f.Severity == rules.SeverityError {
				hasError = true
			} else {
				hasOther = true
			}
			if strings.HasSuffix(f.RuleID, "-internal-error") {
				logger.WarnRulePanic()
				en.log.Warn("rule failed to run", "table", batch.Table, "record", i, "rule", f.RuleID, "message", f.Message)
			}
		}

		switch {
		case hasError:
			report.ErrorRecords++
		case hasOther:
			report.ValidRecords++
			report.WarningRecords++
		default:
			report.ValidRecords++
		}
	}
	report.Complete = report.TotalRecords == n
	report.Score, report.Grade = Score(report.TotalRecords, report.ValidRecords)

	metrics.RecordRun(batch.Table, report.Complete, report.ValidRecords, report.ErrorRecords, report.Score)
	en.log.Debug("validation finished",
		"run_id", report.RunID,
		"table", batch.Table,
		"company_id", batch.CompanyID,
		"records", report.TotalRecords,
		"findings", len(findings),
		"score", math.Round(report.Score*100)/100,
		"complete", report.Complete,
		"duration", time.Since(start).String(),
	)

	result := &ValidationResult{Findings: findings, Report: report}
	if result.Findings == nil {
		result.Findings = []rules.Finding{}
	}

	if en.sink != nil {
		if err := en.persist(context.WithoutCancel(ctx), result); err != nil {
			logger.ErrorSink()
			en.log.Error("failed to persist validation result", "run_id", report.RunID, "error", err)
			return result, err
		}
	}

	return result, nil
}

// dispatch calls fn for each index until ctx is cancelled, sequentially or on
// the worker pool
func (en *Engine) dispatch(ctx context.Context, n int, fn func(i int)) {
	if en.workers <= 1 {
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				return
			}
			fn(i)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(en.workers)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
}

func (en *Engine) evaluateRecord(ctx context.Context, table string, cfg TableConfig, companyID int, record map[string]any) []rules.Finding {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	// absent required fields are evaluated as nil so their rules fire
	for _, f := range en.registry.RequiredFields() {
		if _, ok := record[f]; !ok && cfg.hasField(f) {
			keys = append(keys, f)
		}
	}
	sort.Strings(keys)

	var findings []rules.Finding
	for _, k := range keys {
		findings = append(findings, en.fields.Evaluate(k, record[k], record)...)
	}

	findings = append(findings, en.cross.Evaluate(record, cfg.CrossField)...)

	if len(cfg.TrendFields) == 0 || en.history == nil {
		return findings
	}
	period, ok := periodOf(record[cfg.periodField()])
	if !ok {
		return findings
	}
	for _, field := range cfg.TrendFields {
		value, ok := rules.ToFloat(record[field])
		if !ok {
			continue
		}
		findings = append(findings, en.trend.Check(ctx, field, companyID, period, value, en.history, cfg.Trend)...)
	}

	return findings
}

func (en *Engine) persist(ctx context.Context, result *ValidationResult) error {
	if run, ok := en.sink.(RunSink); ok {
		if err := run.SaveRun(ctx, result.Report, result.Findings); err != nil {
			return fmt.Errorf("save run %s: %w", result.Report.RunID, err)
		}
		return nil
	}

	if err := en.sink.Save(ctx, result.Report); err != nil {
		return fmt.Errorf("save quality report %s: %w", result.Report.RunID, err)
	}
	for _, f := range result.Findings {
		if err := en.sink.LogFinding(ctx, result.Report.RunID, f); err != nil {
			return fmt.Errorf("log finding %s for run %s: %w", f.RuleID, result.Report.RunID, err)
		}
	}
	return nil
}

func periodOf(v any) (int, bool) {
	f, ok := rules.ToFloat(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
