package retrieval

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	storeErr := errors.New("pq: relation does not exist")
	wrapped := fmt.Errorf("failed to run template: %w", NewQueryExecutionError(storeErr, "select from %s", "us_daily_prices"))

	assert.ErrorIs(t, wrapped, ErrQueryExecution)
	assert.ErrorIs(t, wrapped, storeErr)
	assert.NotErrorIs(t, wrapped, ErrInvalidIdentifier)
	assert.True(t, OpensBreaker(wrapped))
	assert.Equal(t, ReasonQueryFailed, ReasonFor(wrapped))

	tests := []struct {
		err    error
		reason string
		opens  bool
	}{
		{NewInvalidIdentifierError("close; DROP"), ReasonInvalidIdentifier, false},
		{NewSchemaMismatchError("no tables"), ReasonTableNotFound, false},
		{NewConfigurationError("no spec"), ReasonTemplateMissing, false},
		{NewBreakerOpenError("sql"), ReasonFastFailWindow, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.reason, ReasonFor(tt.err))
		assert.Equal(t, tt.opens, OpensBreaker(tt.err))
	}
}

func TestQueryRequest_Countries(t *testing.T) {
	assert.Nil(t, QueryRequest{}.Countries())
	assert.Equal(t, []string{"US"}, QueryRequest{CountryCode: "us"}.Countries())
	assert.Equal(t, []string{"US", "KR"}, QueryRequest{CountryCode: "US-KR"}.Countries())
	assert.True(t, QueryRequest{CountryCode: "US-KR"}.IsCompareScope())
	assert.False(t, QueryRequest{CountryCode: "KR"}.IsCompareScope())
}

func TestAgentCatalog(t *testing.T) {
	agents := []string{AgentEquityAnalyst, AgentOntologyMaster, AgentMacroEconomy}
	assert.Equal(t, []string{AgentEquityAnalyst, AgentMacroEconomy}, AgentsForBranch(agents, BranchSQL))
	assert.Equal(t, []string{AgentOntologyMaster}, AgentsForBranch(agents, BranchGraph))
	assert.Empty(t, AgentsForBranch(agents, BranchLLMDirect))

	companion, ok := CompanionOf(BranchSQL)
	require.True(t, ok)
	assert.Equal(t, BranchGraph, companion)
	_, ok = CompanionOf(BranchLLMDirect)
	assert.False(t, ok)

	assert.Equal(t, AgentOntologyMaster, DefaultAgent(BranchGraph, IntentIndicatorLookup))
	assert.Equal(t, AgentRealEstate, DefaultAgent(BranchSQL, IntentRealEstateDetail))
	assert.Equal(t, AgentEquityAnalyst, DefaultAgent(BranchSQL, IntentRelationshipQuery))
}

func TestAgentRun_JSONShape(t *testing.T) {
	graph := BranchGraph
	probe := ToolProbe{Tool: BranchSQL, Status: StatusDegraded, Reason: ReasonNoRows, DurationMS: 3}
	probe.SetRowCount(0)
	run := AgentRun{
		Agent:                AgentMacroEconomy,
		Branch:               BranchSQL,
		Status:               StatusDegraded,
		Probe:                probe,
		NeedsCompanionBranch: true,
		CompanionBranch:      &graph,
	}

	raw, err := json.Marshal(run)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "graph", decoded["companion_branch"])
	toolProbe := decoded["tool_probe"].(map[string]any)
	assert.Equal(t, "sql", toolProbe["tool"])
	assert.Equal(t, float64(0), toolProbe["row_count"])
	assert.NotContains(t, toolProbe, "template_id")
}

func TestExecutionResult_AllDegraded(t *testing.T) {
	res := ExecutionResult{BranchResults: []AgentRun{{Status: StatusDegraded}, {Status: StatusError}}}
	assert.True(t, res.AllDegraded())

	res.BranchResults = append(res.BranchResults, AgentRun{Status: StatusOK})
	assert.False(t, res.AllDegraded())
}
