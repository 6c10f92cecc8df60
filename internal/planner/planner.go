// Package planner turns a RouteDecision into a BranchPlan.
package planner

import "github.com/market-insight/retriever/internal/retrieval"

// Plan enables a branch iff the route needs it. Disabled branches are still
// listed, with dispatch mode skip, so traces always show all three.
func Plan(route retrieval.RouteDecision) retrieval.BranchPlan {
	mode := route.ToolMode
	if mode == "" || mode == retrieval.ModeSkip {
		mode = retrieval.ModeSingle
	}

	plan := retrieval.BranchPlan{Entries: make([]retrieval.BranchPlanEntry, 0, len(retrieval.Branches))}
	for _, branch := range retrieval.Branches {
		entry := retrieval.BranchPlanEntry{
			Branch:       branch,
			Enabled:      route.Needs(branch),
			DispatchMode: retrieval.ModeSkip,
			Agents:       AgentsFor(route, branch),
		}
		if entry.Enabled {
			entry.DispatchMode = mode
		}
		plan.Entries = append(plan.Entries, entry)
	}
	return plan
}

// AgentsFor returns the route's target agents that run on branch, or the
// branch's default agent when the route targets none there.
func AgentsFor(route retrieval.RouteDecision, branch retrieval.Branch) []string {
	agents := retrieval.AgentsForBranch(route.TargetAgents, branch)
	if len(agents) == 0 {
		if a := retrieval.DefaultAgent(branch, route.SelectedType); a != "" {
			agents = []string{a}
		}
	}
	return agents
}
