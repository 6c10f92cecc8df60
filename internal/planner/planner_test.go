package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-insight/retriever/internal/retrieval"
)

func TestPlan_GraphOnlySingle(t *testing.T) {
	plan := Plan(retrieval.RouteDecision{
		SelectedType: retrieval.IntentRelationshipQuery,
		GraphNeed:    true,
		ToolMode:     retrieval.ModeSingle,
		TargetAgents: []string{retrieval.AgentOntologyMaster},
	})

	require.Len(t, plan.Entries, 3)

	sql, ok := plan.Entry(retrieval.BranchSQL)
	require.True(t, ok)
	assert.False(t, sql.Enabled)
	assert.Equal(t, retrieval.ModeSkip, sql.DispatchMode)

	graph, _ := plan.Entry(retrieval.BranchGraph)
	assert.True(t, graph.Enabled)
	assert.Equal(t, retrieval.ModeSingle, graph.DispatchMode)
	assert.Equal(t, []string{retrieval.AgentOntologyMaster}, graph.Agents)

	assert.False(t, plan.Enabled(retrieval.BranchLLMDirect))
}

func TestPlan_ParallelStock(t *testing.T) {
	plan := Plan(retrieval.RouteDecision{
		SelectedType: retrieval.IntentUSSingleStock,
		SQLNeed:      true,
		GraphNeed:    true,
		ToolMode:     retrieval.ModeParallel,
		TargetAgents: []string{retrieval.AgentEquityAnalyst, retrieval.AgentOntologyMaster},
	})

	var branches []retrieval.Branch
	for _, e := range plan.Entries {
		branches = append(branches, e.Branch)
	}
	assert.Equal(t, retrieval.Branches, branches)

	sql, _ := plan.Entry(retrieval.BranchSQL)
	assert.Equal(t, retrieval.ModeParallel, sql.DispatchMode)
	assert.Equal(t, []string{retrieval.AgentEquityAnalyst}, sql.Agents)
	graph, _ := plan.Entry(retrieval.BranchGraph)
	assert.Equal(t, retrieval.ModeParallel, graph.DispatchMode)
	llmDirect, _ := plan.Entry(retrieval.BranchLLMDirect)
	assert.Equal(t, retrieval.ModeSkip, llmDirect.DispatchMode)
}

func TestPlan_EnabledIffNeeded(t *testing.T) {
	for _, sqlNeed := range []bool{false, true} {
		for _, graphNeed := range []bool{false, true} {
			route := retrieval.RouteDecision{
				SQLNeed:       sqlNeed,
				GraphNeed:     graphNeed,
				LLMDirectNeed: !sqlNeed && !graphNeed,
				ToolMode:      retrieval.ModeSingle,
			}
			plan := Plan(route)
			for _, e := range plan.Entries {
				assert.Equal(t, route.Needs(e.Branch), e.Enabled, e.Branch)
				if !e.Enabled {
					assert.Equal(t, retrieval.ModeSkip, e.DispatchMode)
				}
			}
		}
	}
}

func TestAgentsFor_DefaultsWhenUntargeted(t *testing.T) {
	route := retrieval.RouteDecision{
		SelectedType: retrieval.IntentRealEstateDetail,
		TargetAgents: []string{retrieval.AgentRealEstate},
	}

	assert.Equal(t, []string{retrieval.AgentOntologyMaster}, AgentsFor(route, retrieval.BranchGraph))
	assert.Equal(t, []string{retrieval.AgentRealEstate}, AgentsFor(route, retrieval.BranchSQL))
}
