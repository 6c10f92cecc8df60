package query

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/market-insight/retriever/internal/dispatch"
	"github.com/market-insight/retriever/internal/metrics"
	"github.com/market-insight/retriever/internal/retrieval"
	"github.com/market-insight/retriever/internal/router"
	"github.com/market-insight/retriever/internal/sqltemplate"
	"github.com/market-insight/retriever/internal/storage/models"
	"github.com/market-insight/retriever/internal/storage/relational"
	"github.com/market-insight/retriever/pkg/circuitbreaker"
)

type fakeGraph struct {
	rows  []map[string]any
	reads int
}

func (f *fakeGraph) Read(context.Context, string, map[string]any) ([]map[string]any, error) {
	f.reads++
	return f.rows, nil
}

type failingAudit struct{ calls int }

func (f *failingAudit) InsertRun(context.Context, models.RetrievalRun, []models.AgentRunRecord) error {
	f.calls++
	return errors.New("database is locked")
}

func newStore(t *testing.T, seed ...string) *relational.Client {
	t.Helper()
	db, err := sql.Open(relational.DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range seed {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	store := relational.NewFromDB(db, relational.DriverSQLite)
	require.NoError(t, store.InitSchema(context.Background()))
	return store
}

func newEngine(t *testing.T, store *relational.Client, graph dispatch.GraphReader, opts ...Option) *Engine {
	t.Helper()
	breaker := circuitbreaker.NewRegistry(circuitbreaker.Config{Logger: zaptest.NewLogger(t)})
	executor := sqltemplate.NewExecutor(store, breaker, sqltemplate.DefaultConfig())
	dispatcher := dispatch.New(executor, graph, breaker, dispatch.Config{Concurrent: true})
	return NewEngine(router.New(router.Config{}), dispatcher, Config{RequestTimeout: 5 * time.Second}, opts...)
}

func TestRetrieve_USSingleStockEndToEnd(t *testing.T) {
	store := newStore(t,
		`CREATE TABLE us_daily_prices (trade_date TEXT, symbol TEXT, close REAL)`,
		`INSERT INTO us_daily_prices VALUES
			('2026-02-26', 'PLTR', 23.1),
			('2026-02-27', 'PLTR', 23.9),
			('2026-03-02', 'PLTR', 24.5),
			('2026-03-02', 'AAPL', 241.0)`,
	)
	graph := &fakeGraph{rows: []map[string]any{{"symbol": "PLTR", "relation": "COMPETES_WITH", "related": "Snowflake"}}}
	engine := newEngine(t, store, graph, WithAudit(store))

	env, err := engine.Retrieve(context.Background(), retrieval.QueryRequest{Question: "PLTR 주가 어때?"})
	require.NoError(t, err)

	assert.NotEmpty(t, env.RunID)
	assert.Equal(t, env.RunID, env.Result.RunID)
	assert.Equal(t, retrieval.IntentUSSingleStock, env.Route.SelectedType)
	assert.True(t, env.Plan.Enabled(retrieval.BranchSQL))
	assert.True(t, env.Plan.Enabled(retrieval.BranchGraph))
	assert.False(t, env.Plan.Enabled(retrieval.BranchLLMDirect))

	assert.Equal(t, retrieval.ExecutionExecuted, env.Result.Status)
	assert.Equal(t, retrieval.ModeParallel, env.Result.DispatchMode)
	assert.False(t, env.Result.FallbackUsed)
	assert.GreaterOrEqual(t, env.Result.InvokedAgentCount, 2)

	require.Len(t, env.Result.BranchResults, 2)
	sqlRun := env.Result.BranchResults[0]
	assert.Equal(t, retrieval.AgentEquityAnalyst, sqlRun.Agent)
	assert.Equal(t, retrieval.StatusOK, sqlRun.Status)
	assert.Equal(t, "us_equity_ohlcv_daily", sqlRun.Probe.TemplateID)
	require.NotNil(t, sqlRun.Probe.RowCount)
	assert.Equal(t, 3, *sqlRun.Probe.RowCount)
	require.NotNil(t, sqlRun.Probe.EquityAnalysis)
	assert.Equal(t, 24.5, sqlRun.Probe.EquityAnalysis.LastClose)

	graphRun := env.Result.BranchResults[1]
	assert.Equal(t, retrieval.BranchGraph, graphRun.Branch)
	assert.Equal(t, retrieval.StatusOK, graphRun.Status)
	assert.Equal(t, 1, graph.reads)

	runs, err := store.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, env.RunID, runs[0].ID)
	assert.Equal(t, "us_single_stock", runs[0].Intent)
	assert.Equal(t, 2, runs[0].InvokedAgentCount)
}

func TestRetrieve_IndicatorFallsBackToGraph(t *testing.T) {
	store := newStore(t)
	graph := &fakeGraph{rows: []map[string]any{{"indicator": "BASE_RATE", "related": "KOSPI"}}}
	engine := newEngine(t, store, graph)

	env, err := engine.Retrieve(context.Background(), retrieval.QueryRequest{Question: "한국 기준금리 알려줘"})
	require.NoError(t, err)

	assert.Equal(t, retrieval.IntentIndicatorLookup, env.Route.SelectedType)
	assert.False(t, env.Plan.Enabled(retrieval.BranchGraph))

	require.Len(t, env.Result.BranchResults, 2)
	assert.Equal(t, retrieval.StatusDegraded, env.Result.BranchResults[0].Status)
	assert.Equal(t, retrieval.ReasonTableNotFound, env.Result.BranchResults[0].Probe.Reason)

	fallback := env.Result.BranchResults[1]
	assert.True(t, fallback.Fallback)
	assert.Equal(t, retrieval.BranchGraph, fallback.Branch)
	assert.Equal(t, retrieval.AgentOntologyMaster, fallback.Agent)
	assert.True(t, env.Result.FallbackUsed)
	assert.Contains(t, env.Result.FallbackReason, "dispatched companion graph")
	assert.Equal(t, 2, env.Result.InvokedAgentCount)
}

func TestRetrieve_GeneralKnowledgeSkipsStores(t *testing.T) {
	store := newStore(t)
	graph := &fakeGraph{}
	engine := newEngine(t, store, graph)

	env, err := engine.Retrieve(context.Background(), retrieval.QueryRequest{QuestionID: "general_question", Question: "what is a bond?"})
	require.NoError(t, err)

	assert.True(t, env.Route.LLMDirectNeed)
	require.Len(t, env.Result.BranchResults, 1)
	assert.Equal(t, retrieval.BranchLLMDirect, env.Result.BranchResults[0].Branch)
	assert.Equal(t, retrieval.ReasonLLMDirect, env.Result.BranchResults[0].Probe.Reason)
	assert.Zero(t, graph.reads)
}

func TestRetrieve_AuditFailureIsNotSurfaced(t *testing.T) {
	audit := &failingAudit{}
	engine := newEngine(t, newStore(t), &fakeGraph{}, WithAudit(audit))

	before := testutil.ToFloat64(metrics.AuditFailures)
	env, err := engine.Retrieve(context.Background(), retrieval.QueryRequest{Question: "what is a bond?"})
	require.NoError(t, err)
	assert.NotNil(t, env)
	assert.Equal(t, 1, audit.calls)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditFailures))
}

func TestRetrieve_RejectsMalformedRequests(t *testing.T) {
	engine := NewEngine(router.New(router.Config{}), nil, Config{MaxQuestionLength: 10})

	_, err := engine.Retrieve(context.Background(), retrieval.QueryRequest{Question: "  \x00 "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = engine.Retrieve(context.Background(), retrieval.QueryRequest{Question: strings.Repeat("가", 11)})
	assert.ErrorIs(t, err, ErrQuestionTooLong)
}

func TestAuditRecords(t *testing.T) {
	rows := 4
	env := &Envelope{
		RunID:   "run-7",
		Request: retrieval.QueryRequest{Question: "q", QuestionID: "macro_weekly_summary"},
		Route:   retrieval.RouteDecision{SelectedType: retrieval.IntentMacroSummary, Confidence: retrieval.ConfidenceHigh, Source: router.SourceQuestionID},
		Result: retrieval.ExecutionResult{
			Status:            retrieval.ExecutionExecuted,
			DispatchMode:      retrieval.ModeParallel,
			InvokedAgentCount: 2,
			BranchResults: []retrieval.AgentRun{
				{Agent: retrieval.AgentMacroEconomy, Branch: retrieval.BranchSQL, Status: retrieval.StatusOK,
					Probe: retrieval.ToolProbe{Reason: retrieval.ReasonRowsFound, TemplateID: "kr_macro_indicator_series", Table: "kr_macro_indicators", RowCount: &rows}},
				{Agent: retrieval.AgentOntologyMaster, Branch: retrieval.BranchGraph, Status: retrieval.StatusDegraded, Fallback: true,
					Probe: retrieval.ToolProbe{Reason: retrieval.ReasonNoGraphRows}},
			},
		},
		LatencyMS: 12,
	}

	run, agents := AuditRecords(env, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, "macro_summary", run.Intent)
	assert.Equal(t, "question_id", run.RouteSource)
	assert.Equal(t, int64(12), run.LatencyMS)

	require.Len(t, agents, 2)
	assert.Equal(t, 0, agents[0].Seq)
	assert.Equal(t, "kr_macro_indicators", agents[0].TableName)
	assert.Equal(t, &rows, agents[0].RowCount)
	assert.Equal(t, 1, agents[1].Seq)
	assert.True(t, agents[1].Fallback)
	assert.Nil(t, agents[1].RowCount)
}
