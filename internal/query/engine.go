// Package query runs one retrieval cycle end to end: route the question,
// plan the branches, dispatch them under a deadline and record the run.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/metrics"
	"github.com/market-insight/retriever/internal/planner"
	"github.com/market-insight/retriever/internal/retrieval"
	"github.com/market-insight/retriever/internal/router"
	"github.com/market-insight/retriever/internal/storage/models"
	"github.com/market-insight/retriever/pkg/logger"
)

var (
	ErrEmptyQuestion   = errors.New("question or question_id is required")
	ErrQuestionTooLong = errors.New("question exceeds maximum length")
)

type Router interface {
	Classify(ctx context.Context, req retrieval.QueryRequest) retrieval.RouteDecision
}

type Dispatcher interface {
	Dispatch(ctx context.Context, plan retrieval.BranchPlan, route retrieval.RouteDecision, req retrieval.QueryRequest) retrieval.ExecutionResult
}

// AuditStore persists finished runs.
type AuditStore interface {
	InsertRun(ctx context.Context, run models.RetrievalRun, agents []models.AgentRunRecord) error
}

type Config struct {
	RequestTimeout    time.Duration
	AuditTimeout      time.Duration
	MaxQuestionLength int
}

type Engine struct {
	router     Router
	dispatcher Dispatcher
	audit      AuditStore
	cfg        Config
	now        func() time.Time
}

type Option func(*Engine)

func WithAudit(store AuditStore) Option {
	return func(e *Engine) { e.audit = store }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(r Router, d Dispatcher, cfg Config, opts ...Option) *Engine {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 3 * time.Second
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = 5000
	}
	e := &Engine{
		router:     r,
		dispatcher: d,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Envelope is everything the synthesizer receives for one question.
type Envelope struct {
	RunID     string                    `json:"run_id"`
	Request   retrieval.QueryRequest    `json:"request"`
	Route     retrieval.RouteDecision   `json:"route"`
	Plan      retrieval.BranchPlan      `json:"plan"`
	Result    retrieval.ExecutionResult `json:"result"`
	LatencyMS int64                     `json:"latency_ms"`
}

// Retrieve only fails on a malformed request. Store and branch failures are
// reported inside the envelope.
func (e *Engine) Retrieve(ctx context.Context, req retrieval.QueryRequest) (*Envelope, error) {
	req, err := e.normalize(req)
	if err != nil {
		return nil, err
	}

	start := e.now()
	runID := uuid.New().String()

	logger.Info("Processing retrieval request",
		zap.String("run_id", runID),
		zap.String("question", req.Question),
		zap.String("question_id", req.QuestionID),
	)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	route := e.router.Classify(ctx, req)
	metrics.ObserveRoute(string(route.SelectedType), route.Source)
	if route.Source == router.SourceLLM || route.Source == router.SourceLLMCache {
		metrics.ObserveCache("route", route.Source == router.SourceLLMCache)
	}

	plan := planner.Plan(route)
	result := e.dispatcher.Dispatch(ctx, plan, route, req)
	result.RunID = runID

	latency := e.now().Sub(start)
	metrics.ObserveQuery(string(route.SelectedType), string(result.Status), latency)

	env := &Envelope{
		RunID:     runID,
		Request:   req,
		Route:     route,
		Plan:      plan,
		Result:    result,
		LatencyMS: latency.Milliseconds(),
	}

	e.record(ctx, env, start)

	logger.Info("Retrieval request processed",
		zap.String("run_id", runID),
		zap.String("intent", string(route.SelectedType)),
		zap.String("status", string(result.Status)),
		zap.Bool("fallback_used", result.FallbackUsed),
		zap.Int("invoked_agents", result.InvokedAgentCount),
		zap.Int64("latency_ms", env.LatencyMS),
	)
	return env, nil
}

func (e *Engine) normalize(req retrieval.QueryRequest) (retrieval.QueryRequest, error) {
	req.Question = strings.TrimSpace(strings.ReplaceAll(req.Question, "\x00", ""))
	req.QuestionID = strings.TrimSpace(req.QuestionID)
	if req.Question == "" && req.QuestionID == "" {
		return req, ErrEmptyQuestion
	}
	if utf8.RuneCountInString(req.Question) > e.cfg.MaxQuestionLength {
		return req, fmt.Errorf("%w: %d characters", ErrQuestionTooLong, utf8.RuneCountInString(req.Question))
	}
	return req, nil
}

// record persists the run. The request deadline may already be spent, so
// the write gets its own timeout.
func (e *Engine) record(ctx context.Context, env *Envelope, start time.Time) {
	if e.audit == nil {
		return
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AuditTimeout)
	defer cancel()

	run, agents := AuditRecords(env, start)
	if err := e.audit.InsertRun(auditCtx, run, agents); err != nil {
		metrics.AuditFailures.Inc()
		logger.Error("Failed to record retrieval run",
			zap.String("run_id", env.RunID),
			zap.Error(err),
		)
	}
}

// AuditRecords flattens an envelope into audit-log rows.
func AuditRecords(env *Envelope, createdAt time.Time) (models.RetrievalRun, []models.AgentRunRecord) {
	run := models.RetrievalRun{
		ID:                env.RunID,
		Question:          env.Request.Question,
		QuestionID:        env.Request.QuestionID,
		Intent:            string(env.Route.SelectedType),
		Confidence:        string(env.Route.Confidence),
		RouteSource:       env.Route.Source,
		Status:            string(env.Result.Status),
		DispatchMode:      string(env.Result.DispatchMode),
		FallbackUsed:      env.Result.FallbackUsed,
		FallbackReason:    env.Result.FallbackReason,
		InvokedAgentCount: env.Result.InvokedAgentCount,
		LatencyMS:         env.LatencyMS,
		CreatedAt:         createdAt.UTC(),
	}

	agents := make([]models.AgentRunRecord, 0, len(env.Result.BranchResults))
	for i, r := range env.Result.BranchResults {
		agents = append(agents, models.AgentRunRecord{
			RunID:      env.RunID,
			Seq:        i,
			Agent:      r.Agent,
			Branch:     string(r.Branch),
			Status:     string(r.Status),
			Reason:     r.Probe.Reason,
			TemplateID: r.Probe.TemplateID,
			TableName:  r.Probe.Table,
			RowCount:   r.Probe.RowCount,
			DurationMS: r.Probe.DurationMS,
			Fallback:   r.Fallback,
		})
	}
	return run, agents
}
