package sqltemplate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/analytics"
	"github.com/market-insight/retriever/internal/retrieval"
	"github.com/market-insight/retriever/pkg/logger"
)

// BreakerKey is the circuit breaker key guarding the relational store.
const BreakerKey = "sql"

// Store is the read-only relational collaborator.
type Store interface {
	ExistingTables(ctx context.Context, tables []string) ([]string, error)
	TableColumns(ctx context.Context, table string) ([]string, error)
	QueryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

type Breaker interface {
	IsBlocked(key string) bool
	RecordFailure(key string)
	RecordSuccess(key string)
}

type Config struct {
	RowLimit           int
	EquityLookbackBars int
	EarningsEventLimit int
	EarningsFetchLimit int
	EarningsWindowDays int
	RealEstateRowLimit int
	MaxTablesPerLookup int
}

func DefaultConfig() Config {
	return Config{
		RowLimit:           5,
		EquityLookbackBars: 260,
		EarningsEventLimit: 3,
		EarningsFetchLimit: 20,
		EarningsWindowDays: 730,
		RealEstateRowLimit: 240,
		MaxTablesPerLookup: 8,
	}
}

type Executor struct {
	store      Store
	breaker    Breaker
	specs      map[string][]Spec
	eventSpecs []Spec
	cfg        Config
	now        func() time.Time
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithSpecs(specs map[string][]Spec) Option {
	return func(e *Executor) { e.specs = specs }
}

func WithEventSpecs(specs []Spec) Option {
	return func(e *Executor) { e.eventSpecs = specs }
}

func NewExecutor(store Store, breaker Breaker, cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = def.RowLimit
	}
	if cfg.EquityLookbackBars <= 0 {
		cfg.EquityLookbackBars = def.EquityLookbackBars
	}
	if cfg.EarningsEventLimit <= 0 {
		cfg.EarningsEventLimit = def.EarningsEventLimit
	}
	if cfg.EarningsFetchLimit <= 0 {
		cfg.EarningsFetchLimit = def.EarningsFetchLimit
	}
	if cfg.EarningsWindowDays <= 0 {
		cfg.EarningsWindowDays = def.EarningsWindowDays
	}
	if cfg.RealEstateRowLimit <= 0 {
		cfg.RealEstateRowLimit = def.RealEstateRowLimit
	}
	if cfg.MaxTablesPerLookup <= 0 {
		cfg.MaxTablesPerLookup = def.MaxTablesPerLookup
	}

	e := &Executor{
		store:      store,
		breaker:    breaker,
		specs:      DefaultSpecs(),
		eventSpecs: DefaultEventSpecs(),
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// attempt is the outcome of running one candidate template.
type attempt struct {
	probe  retrieval.ToolProbe
	err    error
	usable bool
}

type verdict int

const (
	verdictAccepted verdict = iota
	verdictDegraded
	verdictFailed
)

// foldAttempts applies the acceptance policy: the first attempt with data,
// else the first one that ran but found nothing, else the last error.
func foldAttempts(attempts []attempt) (attempt, verdict) {
	for _, a := range attempts {
		if a.err == nil && a.usable {
			return a, verdictAccepted
		}
	}
	for _, a := range attempts {
		if a.err == nil {
			return a, verdictDegraded
		}
	}
	return attempts[len(attempts)-1], verdictFailed
}

// ExecuteSQL resolves and runs the agent's templates. It never returns an
// error: every failure is reported on the probe.
func (e *Executor) ExecuteSQL(ctx context.Context, agent string, req retrieval.QueryRequest, route retrieval.RouteDecision) retrieval.ToolProbe {
	start := time.Now()
	probe := e.executeSQL(ctx, agent, req, route)
	probe.Tool = retrieval.BranchSQL
	probe.DurationMS = time.Since(start).Milliseconds()
	return probe
}

func (e *Executor) executeSQL(ctx context.Context, agent string, req retrieval.QueryRequest, route retrieval.RouteDecision) retrieval.ToolProbe {
	if e.breaker != nil && e.breaker.IsBlocked(BreakerKey) {
		return retrieval.ToolProbe{Status: retrieval.StatusDegraded, Reason: retrieval.ReasonFastFailWindow}
	}

	specs, ok := e.specs[agent]
	if !ok || len(specs) == 0 {
		err := retrieval.NewConfigurationError("no sql template spec for agent %s", agent)
		logger.Warn("SQL template missing", zap.String("agent", agent), zap.Error(err))
		probe := retrieval.ToolProbe{Status: retrieval.StatusError, Reason: retrieval.ReasonFor(err)}
		probe.AddDetail("error", err.Error())
		return probe
	}
	if len(specs) > e.cfg.MaxTablesPerLookup {
		specs = specs[:e.cfg.MaxTablesPerLookup]
	}

	tables := make([]string, 0, len(specs))
	for _, s := range specs {
		tables = append(tables, s.Table)
	}

	existing, err := e.store.ExistingTables(ctx, tables)
	if err != nil {
		qerr := retrieval.NewQueryExecutionError(err, "failed to list tables for %s", agent)
		logger.Warn("SQL schema lookup failed", zap.String("agent", agent), zap.Error(qerr))
		e.recordFailure()
		probe := retrieval.ToolProbe{Status: retrieval.StatusError, Reason: retrieval.ReasonSchemaLookupFailed}
		probe.AddDetail("error", qerr.Error())
		return probe
	}

	present := make(map[string]bool, len(existing))
	for _, t := range existing {
		present[strings.ToLower(t)] = true
	}
	live := make([]Spec, 0, len(specs))
	for _, s := range specs {
		if present[strings.ToLower(s.Table)] {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		err := retrieval.NewSchemaMismatchError("none of %v exist", tables)
		logger.Warn("SQL template tables missing", zap.String("agent", agent), zap.Strings("tables", tables))
		probe := retrieval.ToolProbe{Status: retrieval.StatusDegraded, Reason: retrieval.ReasonFor(err)}
		probe.AddDetail("candidate_tables", tables)
		return probe
	}

	ranked := Prioritize(live, req, route)
	preferred := PreferredCountry(req, route)

	var attempts []attempt
	for _, cand := range ranked {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, attempt{
				probe: retrieval.ToolProbe{Status: retrieval.StatusError, Reason: retrieval.ReasonDeadlineExceeded, TemplateID: cand.Spec.TemplateID, Table: cand.Spec.Table},
				err:   err,
			})
			break
		}

		a := e.runCandidate(ctx, agent, cand.Spec, req, route, preferred)
		attempts = append(attempts, a)
		if a.err != nil {
			logger.Warn("SQL template attempt failed",
				zap.String("agent", agent),
				zap.String("template_id", cand.Spec.TemplateID),
				zap.String("table", cand.Spec.Table),
				zap.String("reason", a.probe.Reason),
				zap.Error(a.err),
			)
			continue
		}
		if a.usable {
			break
		}
	}

	chosen, v := foldAttempts(attempts)
	probe := chosen.probe
	probe.AddDetail("preferred_country", preferred)
	probe.AddDetail("attempts", summarize(attempts, ranked))

	switch v {
	case verdictAccepted:
		e.recordSuccess()
	case verdictDegraded:
		if !anyOpensBreaker(attempts) {
			e.recordSuccess()
		}
	case verdictFailed:
		if anyOpensBreaker(attempts) {
			e.recordFailure()
		}
		probe.Status = retrieval.StatusError
		if chosen.err != nil {
			probe.AddDetail("error", chosen.err.Error())
		}
	}

	return probe
}

func anyOpensBreaker(attempts []attempt) bool {
	for _, a := range attempts {
		if retrieval.OpensBreaker(a.err) {
			return true
		}
	}
	return false
}

func summarize(attempts []attempt, ranked []ScoredSpec) []map[string]any {
	out := make([]map[string]any, 0, len(attempts))
	for i, a := range attempts {
		entry := map[string]any{
			"template_id": a.probe.TemplateID,
			"table":       a.probe.Table,
			"status":      string(a.probe.Status),
			"reason":      a.probe.Reason,
		}
		if i < len(ranked) {
			entry["score"] = ranked[i].Score
		}
		if a.err != nil {
			entry["error"] = a.err.Error()
		}
		out = append(out, entry)
	}
	return out
}

func (e *Executor) recordSuccess() {
	if e.breaker != nil {
		e.breaker.RecordSuccess(BreakerKey)
	}
}

func (e *Executor) recordFailure() {
	if e.breaker != nil {
		e.breaker.RecordFailure(BreakerKey)
	}
}

// limitFor scales the OHLCV lookback by the number of securities filtered so
// each one keeps a full history.
func (e *Executor) limitFor(spec Spec, sel Selection, f Filters) int {
	switch {
	case spec.Kind == KindRealEstate:
		return e.cfg.RealEstateRowLimit
	case spec.IsOHLCV():
		if _, keys := SecurityFilter(sel, f); len(keys) > 1 {
			return e.cfg.EquityLookbackBars * len(keys)
		}
		return e.cfg.EquityLookbackBars
	default:
		return e.cfg.RowLimit
	}
}

func (e *Executor) filtersFor(spec Spec, sel Selection, req retrieval.QueryRequest, route retrieval.RouteDecision, preferred string) Filters {
	f := Filters{
		Symbols:      Symbols(req, route),
		SecurityIDs:  route.SecurityIDs,
		Region:       strings.TrimSpace(req.RegionCode),
		PropertyType: strings.TrimSpace(req.PropertyType),
	}
	if f.Region == "" && spec.Kind == KindIndicator && spec.InferredCountry() == "" && preferred != "" {
		f.Region = preferred
	}
	if since, ok := ParseTimeRange(req.TimeRange, e.now()); ok {
		f.Since = FormatBound(since, spec.DateFormatFor(sel.Date))
	}
	return f
}

func (e *Executor) runCandidate(ctx context.Context, agent string, spec Spec, req retrieval.QueryRequest, route retrieval.RouteDecision, preferred string) attempt {
	probe := retrieval.ToolProbe{TemplateID: spec.TemplateID, Table: spec.Table}
	fail := func(err error) attempt {
		probe.Status = retrieval.StatusError
		probe.Reason = retrieval.ReasonFor(err)
		return attempt{probe: probe, err: err}
	}

	if !ValidIdentifier(spec.Table) {
		return fail(retrieval.NewInvalidIdentifierError(spec.Table))
	}

	live, err := e.store.TableColumns(ctx, spec.Table)
	if err != nil {
		return fail(retrieval.NewQueryExecutionError(err, "failed to read columns of %s", spec.Table))
	}

	sel, err := ResolveColumns(spec, live)
	if err != nil {
		probe.Status = retrieval.StatusError
		probe.Reason = retrieval.ReasonNoMatchingColumns
		return attempt{probe: probe, err: err}
	}

	filters := e.filtersFor(spec, sel, req, route, preferred)
	query, err := BuildQuery(spec.Table, sel, filters, e.limitFor(spec, sel, filters))
	if err != nil {
		return fail(err)
	}
	probe.Query = query.Text
	probe.Params = query.Params

	rows, err := e.store.QueryRows(ctx, query.Text, query.Params...)
	if err != nil {
		return fail(retrieval.NewQueryExecutionError(err, "failed to query %s", spec.Table))
	}
	probe.SetRowCount(len(rows))
	probe.Rows = sample(rows, e.cfg.RowLimit)

	dataPoints := 0
	switch {
	case spec.IsOHLCV():
		probe.EquityAnalysis, probe.EquityBySymbol = e.analyzeEquity(ctx, spec, sel, filters, rows)
		dataPoints = probe.EquityAnalysis.DataPoints()
	case spec.Kind == KindRealEstate:
		probe.TrendAnalysis = analytics.AnalyzeRealEstate(rows, analytics.RealEstateOptions{MonthColumn: sel.Date})
		dataPoints = probe.TrendAnalysis.DataPoints()
	}

	if len(rows) > 0 || dataPoints > 0 {
		probe.Status = retrieval.StatusOK
		probe.Reason = retrieval.ReasonRowsFound
		if len(rows) == 0 {
			probe.Reason = retrieval.ReasonAnalyticsDerived
		}
		return attempt{probe: probe, usable: true}
	}

	probe.Status = retrieval.StatusDegraded
	probe.Reason = retrieval.ReasonNoRows
	return attempt{probe: probe}
}

func sample(rows []map[string]any, n int) []map[string]any {
	if len(rows) <= n {
		return rows
	}
	return rows[:n]
}

// analyzeEquity runs the technical analytics once per filtered security. A
// query that could not be narrowed to securities mixes several series, so it
// gets no analytics. The second result is set only for multi-security queries.
func (e *Executor) analyzeEquity(ctx context.Context, spec Spec, sel Selection, f Filters, rows []map[string]any) (*retrieval.EquityAnalysis, map[string]*retrieval.EquityAnalysis) {
	opts := analytics.EquityOptions{
		DateColumn:         sel.Date,
		EarningsEventLimit: e.cfg.EarningsEventLimit,
	}

	keyColumn, keys := SecurityFilter(sel, f)
	if keyColumn == "" {
		skipped := analytics.AnalyzeEquity(nil, nil, opts)
		skipped.Reason = "no_security_filter"
		return skipped, nil
	}

	series := analytics.BarsByKey(rows, keyColumn, sel.Date)
	var events map[string][]time.Time
	if len(series) > 0 {
		var err error
		events, err = e.earningsEvents(ctx, spec, f.Symbols)
		if err != nil {
			logger.Warn("Earnings event lookup failed",
				zap.String("template_id", spec.TemplateID),
				zap.Error(err),
			)
		}
	}

	if len(keys) == 1 {
		bars := series[analytics.ToKey(keys[0])]
		bars = append(bars, series[""]...)
		var dates []time.Time
		for _, d := range events {
			dates = append(dates, d...)
		}
		analysis := analytics.AnalyzeEquity(bars, dates, opts)
		analysis.Symbol = keys[0]
		return analysis, nil
	}

	bySymbol := make(map[string]*retrieval.EquityAnalysis, len(keys))
	var primary *retrieval.EquityAnalysis
	for _, key := range keys {
		k := analytics.ToKey(key)
		analysis := analytics.AnalyzeEquity(series[k], events[k], opts)
		analysis.Symbol = key
		bySymbol[key] = analysis
		if primary == nil && analysis.BarCount > 0 {
			primary = analysis
		}
	}
	if primary == nil {
		primary = bySymbol[keys[0]]
	}
	return primary, bySymbol
}

// earningsEvents fetches event dates per symbol from the event table matching
// the price table's country. Errors here never fail the probe.
func (e *Executor) earningsEvents(ctx context.Context, priceSpec Spec, symbols []string) (map[string][]time.Time, error) {
	if len(symbols) == 0 || len(e.eventSpecs) == 0 {
		return nil, nil
	}

	country := priceSpec.InferredCountry()
	var candidates []Spec
	tables := make([]string, 0, len(e.eventSpecs))
	for _, s := range e.eventSpecs {
		if country == "" || s.InferredCountry() == "" || s.InferredCountry() == country {
			candidates = append(candidates, s)
			tables = append(tables, s.Table)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	existing, err := e.store.ExistingTables(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to list event tables: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, t := range existing {
		present[strings.ToLower(t)] = true
	}

	for _, spec := range candidates {
		if !present[strings.ToLower(spec.Table)] {
			continue
		}
		live, err := e.store.TableColumns(ctx, spec.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", spec.Table, err)
		}
		sel, err := ResolveColumns(spec, live)
		if err != nil || sel.Symbol == "" {
			continue
		}
		sel.Projection = []string{sel.Date, sel.Symbol}

		since := e.now().AddDate(0, 0, -e.cfg.EarningsWindowDays)
		query, err := BuildQuery(spec.Table, sel, Filters{
			Symbols: symbols,
			Since:   FormatBound(since, spec.DateFormatFor(sel.Date)),
		}, e.cfg.EarningsFetchLimit*len(symbols))
		if err != nil {
			return nil, err
		}

		rows, err := e.store.QueryRows(ctx, query.Text, query.Params...)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", spec.Table, err)
		}
		return analytics.EventDatesByKey(rows, sel.Symbol, sel.Date), nil
	}
	return nil, nil
}
