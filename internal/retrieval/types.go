// Package retrieval holds the domain types shared by routing, planning and
// dispatch: what was asked, how it was routed, and what each branch returned.
package retrieval

import "strings"

type Intent string

const (
	IntentUSSingleStock     Intent = "us_single_stock"
	IntentKRSingleStock     Intent = "kr_single_stock"
	IntentMacroSummary      Intent = "macro_summary"
	IntentIndicatorLookup   Intent = "indicator_lookup"
	IntentRealEstateDetail  Intent = "real_estate_detail"
	IntentCompareOutlook    Intent = "compare_outlook"
	IntentRelationshipQuery Intent = "relationship_query"
	IntentGeneralKnowledge  Intent = "general_knowledge"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type Branch string

const (
	BranchSQL       Branch = "sql"
	BranchGraph     Branch = "graph"
	BranchLLMDirect Branch = "llm_direct"
)

// Branches is the fixed order in which branch plans and results are reported.
var Branches = []Branch{BranchSQL, BranchGraph, BranchLLMDirect}

type DispatchMode string

const (
	ModeSingle   DispatchMode = "single"
	ModeParallel DispatchMode = "parallel"
	ModeSkip     DispatchMode = "skip"
)

type ProbeStatus string

const (
	StatusOK       ProbeStatus = "ok"
	StatusDegraded ProbeStatus = "degraded"
	StatusError    ProbeStatus = "error"
	StatusSkipped  ProbeStatus = "skipped"
)

type ExecutionStatus string

const (
	ExecutionExecuted ExecutionStatus = "executed"
	ExecutionSkipped  ExecutionStatus = "skipped"
)

// Probe reason codes.
const (
	ReasonRowsFound          = "rows_found"
	ReasonAnalyticsDerived   = "analytics_derived"
	ReasonNoRows             = "no_rows"
	ReasonFastFailWindow     = "fast_fail_window"
	ReasonTableNotFound      = "table_not_found"
	ReasonTemplateMissing    = "template_missing"
	ReasonInvalidIdentifier  = "invalid_identifier"
	ReasonNoMatchingColumns  = "no_matching_columns"
	ReasonQueryFailed        = "query_failed"
	ReasonSchemaLookupFailed = "schema_lookup_failed"
	ReasonGraphRowsFound     = "graph_rows_found"
	ReasonNoGraphRows        = "no_graph_rows"
	ReasonNoGraphAnchors     = "no_graph_anchors"
	ReasonLLMDirect          = "llm_direct_no_retrieval"
	ReasonDeadlineExceeded   = "deadline_exceeded"
	ReasonUnknownBranch      = "unknown_branch"
)

// QueryRequest is immutable for the duration of one retrieval cycle.
type QueryRequest struct {
	Question     string   `json:"question"`
	QuestionID   string   `json:"question_id,omitempty"`
	CountryCode  string   `json:"country_code,omitempty"`
	RegionCode   string   `json:"region_code,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	FocusSymbols []string `json:"focus_symbols,omitempty"`
	Companies    []string `json:"companies,omitempty"`
	CompareMode  bool     `json:"compare_mode,omitempty"`
	TimeRange    string   `json:"time_range,omitempty"`
}

// Countries splits a compound scope such as "US-KR" into its codes.
func (r QueryRequest) Countries() []string {
	if strings.TrimSpace(r.CountryCode) == "" {
		return nil
	}
	parts := strings.FieldsFunc(strings.ToUpper(r.CountryCode), func(c rune) bool {
		return c == '-' || c == ',' || c == '/' || c == ' '
	})
	return parts
}

// IsCompareScope reports whether the country scope names more than one country.
func (r QueryRequest) IsCompareScope() bool {
	return len(r.Countries()) > 1
}

type RouteDecision struct {
	SelectedType  Intent            `json:"selected_type"`
	Confidence    Confidence        `json:"confidence"`
	Source        string            `json:"source"`
	SQLNeed       bool              `json:"sql_need"`
	GraphNeed     bool              `json:"graph_need"`
	LLMDirectNeed bool              `json:"llm_direct_need"`
	ToolMode      DispatchMode      `json:"tool_mode"`
	TargetAgents  []string          `json:"target_agents"`
	ModelPolicy   map[string]string `json:"agent_model_policy,omitempty"`
	Symbols       []string          `json:"matched_symbols,omitempty"`
	Companies     []string          `json:"matched_companies,omitempty"`
	SecurityIDs   []string          `json:"matched_security_ids,omitempty"`
	Country       string            `json:"country,omitempty"`
}

// Needs reports the need flag for branch.
func (d RouteDecision) Needs(branch Branch) bool {
	switch branch {
	case BranchSQL:
		return d.SQLNeed
	case BranchGraph:
		return d.GraphNeed
	case BranchLLMDirect:
		return d.LLMDirectNeed
	default:
		return false
	}
}

type BranchPlanEntry struct {
	Branch       Branch       `json:"branch"`
	Enabled      bool         `json:"enabled"`
	DispatchMode DispatchMode `json:"dispatch_mode"`
	Agents       []string     `json:"agents"`
}

// BranchPlan always holds one entry per branch, in Branches order.
type BranchPlan struct {
	Entries []BranchPlanEntry `json:"branches"`
}

func (p BranchPlan) Entry(branch Branch) (BranchPlanEntry, bool) {
	for _, e := range p.Entries {
		if e.Branch == branch {
			return e, true
		}
	}
	return BranchPlanEntry{}, false
}

func (p BranchPlan) Enabled(branch Branch) bool {
	e, ok := p.Entry(branch)
	return ok && e.Enabled
}

// TrendAnalysis is the real-estate monthly aggregate payload.
type TrendAnalysis struct {
	Status           string         `json:"status"`
	Reason           string         `json:"reason,omitempty"`
	Months           []MonthlyPoint `json:"months,omitempty"`
	MonthCount       int            `json:"month_count"`
	StartMonth       string         `json:"start_month,omitempty"`
	EndMonth         string         `json:"end_month,omitempty"`
	PriceChangePct   *float64       `json:"price_change_pct,omitempty"`
	TxCountChangePct *float64       `json:"tx_count_change_pct,omitempty"`
}

type MonthlyPoint struct {
	Month    string  `json:"month"`
	TxCount  float64 `json:"tx_count"`
	AvgPrice float64 `json:"avg_price"`
}

// EquityAnalysis is the technical-signal payload for price bars.
type EquityAnalysis struct {
	Symbol           string             `json:"symbol,omitempty"`
	Status           string             `json:"status"`
	Reason           string             `json:"reason,omitempty"`
	BarCount         int                `json:"bar_count"`
	AsOf             string             `json:"as_of,omitempty"`
	LastClose        float64            `json:"last_close"`
	MA20             *float64           `json:"ma20,omitempty"`
	MA60             *float64           `json:"ma60,omitempty"`
	MA120            *float64           `json:"ma120,omitempty"`
	ShortTermTrend   string             `json:"short_term_trend"`
	LongTermTrend    string             `json:"long_term_trend"`
	CrossSignal      string             `json:"cross_signal"`
	LastCrossSignal  string             `json:"last_cross_signal,omitempty"`
	LastCrossDate    string             `json:"last_cross_date,omitempty"`
	Returns          map[string]float64 `json:"returns_pct,omitempty"`
	EarningsReaction []EarningsReaction `json:"earnings_reaction,omitempty"`
}

type EarningsReaction struct {
	EventDate     string   `json:"event_date"`
	TradeDate     string   `json:"trade_date"`
	PreEventClose float64  `json:"pre_event_close"`
	EventDayPct   float64  `json:"event_day_pct"`
	Day1Pct       *float64 `json:"day1_pct,omitempty"`
	Day5Pct       *float64 `json:"day5_pct,omitempty"`
}

// DataPoints counts what the analytics derived, for the acceptance policy.
func (a *EquityAnalysis) DataPoints() int {
	if a == nil {
		return 0
	}
	return a.BarCount
}

func (a *TrendAnalysis) DataPoints() int {
	if a == nil {
		return 0
	}
	return a.MonthCount
}

type ToolProbe struct {
	Tool           Branch           `json:"tool"`
	Status         ProbeStatus      `json:"status"`
	Reason         string           `json:"reason"`
	TemplateID     string           `json:"template_id,omitempty"`
	Table          string           `json:"table,omitempty"`
	Query          string           `json:"query,omitempty"`
	Params         []any            `json:"params,omitempty"`
	RowCount       *int             `json:"row_count,omitempty"`
	Rows           []map[string]any `json:"rows,omitempty"`
	TrendAnalysis  *TrendAnalysis   `json:"trend_analysis,omitempty"`
	EquityAnalysis *EquityAnalysis  `json:"equity_analysis,omitempty"`
	DurationMS     int64            `json:"duration_ms"`
	// Details is free-form diagnostics: attempted templates, errors, companion hints.
	Details map[string]any `json:"details,omitempty"`
	// EquityBySymbol holds one analysis per requested security when a price
	// query covers more than one. EquityAnalysis is the first of them with bars.
	EquityBySymbol map[string]*EquityAnalysis `json:"equity_by_symbol,omitempty"`
}

func (p ToolProbe) OK() bool {
	return p.Status == StatusOK
}

func (p *ToolProbe) SetRowCount(n int) {
	p.RowCount = &n
}

func (p *ToolProbe) AddDetail(key string, value any) {
	if p.Details == nil {
		p.Details = make(map[string]any)
	}
	p.Details[key] = value
}

type AgentRun struct {
	Agent                string      `json:"agent"`
	Branch               Branch      `json:"branch"`
	Status               ProbeStatus `json:"status"`
	Probe                ToolProbe   `json:"tool_probe"`
	NeedsCompanionBranch bool        `json:"needs_companion_branch"`
	CompanionBranch      *Branch     `json:"companion_branch"`
	Fallback             bool        `json:"fallback,omitempty"`
}

type ExecutionResult struct {
	RunID             string          `json:"run_id,omitempty"`
	Status            ExecutionStatus `json:"status"`
	DispatchMode      DispatchMode    `json:"dispatch_mode"`
	BranchResults     []AgentRun      `json:"branch_results"`
	FallbackUsed      bool            `json:"fallback_used"`
	FallbackReason    string          `json:"fallback_reason,omitempty"`
	InvokedAgentCount int             `json:"invoked_agent_count"`
}

// AllDegraded reports whether no agent run returned usable evidence. The
// synthesizer treats this as insufficient evidence, not as a failure.
func (r ExecutionResult) AllDegraded() bool {
	for _, run := range r.BranchResults {
		if run.Status == StatusOK {
			return false
		}
	}
	return true
}
