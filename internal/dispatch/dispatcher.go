// Package dispatch runs a BranchPlan: one tool probe per agent on every
// enabled branch, plus at most one companion-branch fallback round.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/market-insight/retriever/internal/planner"
	"github.com/market-insight/retriever/internal/retrieval"
	"github.com/market-insight/retriever/pkg/logger"
)

// SQLExecutor runs an agent's SQL templates.
type SQLExecutor interface {
	ExecuteSQL(ctx context.Context, agent string, req retrieval.QueryRequest, route retrieval.RouteDecision) retrieval.ToolProbe
}

type Breaker interface {
	IsBlocked(key string) bool
	RecordFailure(key string)
	RecordSuccess(key string)
}

// Recorder receives probe and fallback observations.
type Recorder interface {
	ObserveProbe(branch, status, reason string, d time.Duration)
	ObserveFallback(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveProbe(string, string, string, time.Duration) {}
func (nopRecorder) ObserveFallback(string, string)                     {}

type Config struct {
	GraphRowLimit int
	// Concurrent runs the probes of a parallel-mode round at the same time.
	// Results are still reported in branch order.
	Concurrent bool
}

type Dispatcher struct {
	sql      SQLExecutor
	graph    GraphReader
	breaker  Breaker
	recorder Recorder
	cfg      Config
}

type Option func(*Dispatcher)

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func New(sql SQLExecutor, graph GraphReader, breaker Breaker, cfg Config, opts ...Option) *Dispatcher {
	if cfg.GraphRowLimit <= 0 {
		cfg.GraphRowLimit = 25
	}
	d := &Dispatcher{
		sql:      sql,
		graph:    graph,
		breaker:  breaker,
		recorder: nopRecorder{},
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type job struct {
	branch   retrieval.Branch
	agent    string
	fallback bool
}

// Dispatch never fails; every branch failure is reported on its AgentRun.
func (d *Dispatcher) Dispatch(ctx context.Context, plan retrieval.BranchPlan, route retrieval.RouteDecision, req retrieval.QueryRequest) retrieval.ExecutionResult {
	result := retrieval.ExecutionResult{
		Status:       retrieval.ExecutionSkipped,
		DispatchMode: retrieval.ModeSkip,
	}

	var jobs []job
	for _, entry := range plan.Entries {
		if !entry.Enabled {
			continue
		}
		if result.DispatchMode != retrieval.ModeParallel {
			result.DispatchMode = entry.DispatchMode
		}
		agents := entry.Agents
		if len(agents) == 0 {
			agents = planner.AgentsFor(route, entry.Branch)
		}
		for _, agent := range agents {
			jobs = append(jobs, job{branch: entry.Branch, agent: agent})
		}
	}

	runs := d.run(ctx, jobs, result.DispatchMode == retrieval.ModeParallel, req, route)

	if trigger, companion, ok := companionNeeded(runs, plan); ok {
		if err := ctx.Err(); err != nil {
			logger.Warn("Skipping companion fallback after deadline",
				zap.String("branch", string(trigger.Branch)),
				zap.String("companion", string(companion)),
				zap.Error(err),
			)
		} else {
			result.FallbackUsed = true
			result.FallbackReason = fmt.Sprintf("%s branch %s (%s) for %s; dispatched companion %s",
				trigger.Branch, trigger.Status, trigger.Probe.Reason, trigger.Agent, companion)
			d.recorder.ObserveFallback(string(trigger.Branch), string(companion))

			logger.Info("Companion fallback dispatched",
				zap.String("branch", string(trigger.Branch)),
				zap.String("companion", string(companion)),
				zap.String("reason", trigger.Probe.Reason),
			)

			var fallbackJobs []job
			for _, agent := range planner.AgentsFor(route, companion) {
				fallbackJobs = append(fallbackJobs, job{branch: companion, agent: agent, fallback: true})
			}
			runs = append(runs, d.run(ctx, fallbackJobs, false, req, route)...)
		}
	}

	result.BranchResults = runs
	result.InvokedAgentCount = len(runs)
	if len(runs) > 0 {
		result.Status = retrieval.ExecutionExecuted
	}
	return result
}

// companionNeeded finds the first run that asks for a companion branch the
// plan did not already enable. Fallback runs never trigger another round.
func companionNeeded(runs []retrieval.AgentRun, plan retrieval.BranchPlan) (retrieval.AgentRun, retrieval.Branch, bool) {
	for _, run := range runs {
		if run.Fallback || run.Status == retrieval.StatusOK || !run.NeedsCompanionBranch || run.CompanionBranch == nil {
			continue
		}
		companion := *run.CompanionBranch
		if plan.Enabled(companion) {
			continue
		}
		return run, companion, true
	}
	return retrieval.AgentRun{}, "", false
}

func (d *Dispatcher) run(ctx context.Context, jobs []job, parallel bool, req retrieval.QueryRequest, route retrieval.RouteDecision) []retrieval.AgentRun {
	runs := make([]retrieval.AgentRun, len(jobs))

	if !parallel || !d.cfg.Concurrent || len(jobs) < 2 {
		for i, j := range jobs {
			runs[i] = d.agentRun(ctx, j, req, route)
		}
		return runs
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			runs[i] = d.agentRun(gctx, j, req, route)
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

func (d *Dispatcher) agentRun(ctx context.Context, j job, req retrieval.QueryRequest, route retrieval.RouteDecision) retrieval.AgentRun {
	probe := d.Probe(ctx, j.branch, j.agent, req, route)

	run := retrieval.AgentRun{
		Agent:    j.agent,
		Branch:   j.branch,
		Status:   probe.Status,
		Probe:    probe,
		Fallback: j.fallback,
	}
	if probe.Status != retrieval.StatusOK {
		if companion, ok := retrieval.CompanionOf(j.branch); ok {
			run.NeedsCompanionBranch = true
			run.CompanionBranch = &companion
		}
	}
	return run
}

// Probe runs one tool probe for agent on branch.
func (d *Dispatcher) Probe(ctx context.Context, branch retrieval.Branch, agent string, req retrieval.QueryRequest, route retrieval.RouteDecision) retrieval.ToolProbe {
	start := time.Now()

	var probe retrieval.ToolProbe
	switch {
	case ctx.Err() != nil:
		probe = retrieval.ToolProbe{Status: retrieval.StatusError, Reason: retrieval.ReasonDeadlineExceeded}
		probe.AddDetail("error", ctx.Err().Error())
	case branch == retrieval.BranchSQL:
		probe = d.sql.ExecuteSQL(ctx, agent, req, route)
	case branch == retrieval.BranchGraph:
		probe = d.graphProbe(ctx, agent, req, route)
	case branch == retrieval.BranchLLMDirect:
		probe = retrieval.ToolProbe{Status: retrieval.StatusOK, Reason: retrieval.ReasonLLMDirect}
		if model := route.ModelPolicy[agent]; model != "" {
			probe.AddDetail("model", model)
		}
	default:
		probe = retrieval.ToolProbe{Status: retrieval.StatusError, Reason: retrieval.ReasonUnknownBranch}
	}

	elapsed := time.Since(start)
	probe.Tool = branch
	probe.DurationMS = elapsed.Milliseconds()

	if probe.Status != retrieval.StatusOK {
		logger.Warn("Tool probe did not return evidence",
			zap.String("agent", agent),
			zap.String("branch", string(branch)),
			zap.String("status", string(probe.Status)),
			zap.String("reason", probe.Reason),
			zap.String("template_id", probe.TemplateID),
			zap.String("table", probe.Table),
		)
	}
	d.recorder.ObserveProbe(string(branch), string(probe.Status), probe.Reason, elapsed)
	return probe
}
