package retrieval

const (
	AgentEquityAnalyst    = "equity_analyst_agent"
	AgentMacroEconomy     = "macro_economy_agent"
	AgentRealEstate       = "real_estate_agent"
	AgentOntologyMaster   = "ontology_master_agent"
	AgentGeneralKnowledge = "general_knowledge_agent"
)

var agentBranches = map[string]Branch{
	AgentEquityAnalyst:    BranchSQL,
	AgentMacroEconomy:     BranchSQL,
	AgentRealEstate:       BranchSQL,
	AgentOntologyMaster:   BranchGraph,
	AgentGeneralKnowledge: BranchLLMDirect,
}

// AgentBranch returns the branch an agent retrieves from.
func AgentBranch(agent string) (Branch, bool) {
	b, ok := agentBranches[agent]
	return b, ok
}

// AgentsForBranch filters agents down to those that run on branch, keeping order.
func AgentsForBranch(agents []string, branch Branch) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		if b, ok := agentBranches[a]; ok && b == branch {
			out = append(out, a)
		}
	}
	return out
}

// CompanionOf returns the branch a failing branch may fall back to.
func CompanionOf(branch Branch) (Branch, bool) {
	switch branch {
	case BranchSQL:
		return BranchGraph, true
	case BranchGraph:
		return BranchSQL, true
	default:
		return "", false
	}
}

// DefaultAgent picks the agent dispatched on a companion branch when the
// route targeted none for it.
func DefaultAgent(branch Branch, intent Intent) string {
	switch branch {
	case BranchGraph:
		return AgentOntologyMaster
	case BranchSQL:
		switch intent {
		case IntentUSSingleStock, IntentKRSingleStock, IntentRelationshipQuery:
			return AgentEquityAnalyst
		case IntentRealEstateDetail:
			return AgentRealEstate
		default:
			return AgentMacroEconomy
		}
	case BranchLLMDirect:
		return AgentGeneralKnowledge
	default:
		return ""
	}
}
