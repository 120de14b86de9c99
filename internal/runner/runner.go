// Package runner drives one agent run end to end: judge, manifest rerank,
// planning, per-step argument generation and execution, evaluation and
// summarization.
package runner

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/arggen"
	"github.com/sentrakit/agentcore/internal/evaluate"
	"github.com/sentrakit/agentcore/internal/history"
	"github.com/sentrakit/agentcore/internal/judge"
	"github.com/sentrakit/agentcore/internal/manifest"
	"github.com/sentrakit/agentcore/internal/planner"
	"github.com/sentrakit/agentcore/internal/reflect"
	"github.com/sentrakit/agentcore/internal/registry"
	"github.com/sentrakit/agentcore/internal/store"
	"github.com/sentrakit/agentcore/internal/telemetry"
)

// RunResult is everything one run produced.
type RunResult struct {
	RunID      string              `json:"run_id"`
	Objective  string              `json:"objective"`
	Manifest   []manifest.Entry    `json:"manifest"`
	Steps      []planner.Step      `json:"steps"`
	History    []history.Entry     `json:"history"`
	Evaluation evaluate.Evaluation `json:"evaluation"`
	Summary    evaluate.Summary    `json:"summary"`
}

// Persistence saves finished runs and cross-run memories. Nil disables
// persistence without affecting the run itself.
type Persistence interface {
	SaveRun(ctx context.Context, rec store.RunRecord, entries []store.HistoryRecord) error
	SavePlanMemory(ctx context.Context, runID, objective string, planJSON []byte) error
	SaveArgMemory(ctx context.Context, runID, aiName, signature string, args map[string]interface{}) error
}

type Runner struct {
	cfg         config.PlannerConfig
	registry    *registry.Registry
	judge       *judge.Judge
	reranker    *manifest.Reranker
	planner     *planner.Planner
	arggen      *arggen.Generator
	reflector   *reflect.Reflector
	evaluator   *evaluate.Evaluator
	summarizer  *evaluate.Summarizer
	persistence Persistence
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Registry    *registry.Registry
	Judge       *judge.Judge
	Reranker    *manifest.Reranker
	Planner     *planner.Planner
	ArgGen      *arggen.Generator
	Reflector   *reflect.Reflector
	Evaluator   *evaluate.Evaluator
	Summarizer  *evaluate.Summarizer
	Persistence Persistence
	Telemetry   *telemetry.Telemetry
}

func New(cfg config.PlannerConfig, deps Deps) *Runner {
	return &Runner{
		cfg:         cfg,
		registry:    deps.Registry,
		judge:       deps.Judge,
		reranker:    deps.Reranker,
		planner:     deps.Planner,
		arggen:      deps.ArgGen,
		reflector:   deps.Reflector,
		evaluator:   deps.Evaluator,
		summarizer:  deps.Summarizer,
		persistence: deps.Persistence,
		telemetry:   deps.Telemetry,
		logger:      log.New(log.Writer(), "[RUNNER] ", log.LstdFlags),
	}
}

// ListAvailableTools exposes the registry snapshot to callers.
func (r *Runner) ListAvailableTools() []registry.Descriptor {
	return r.registry.Tools()
}

// Run executes one objective end to end. It always returns a structured
// result; degraded stages surface inside the result, not as errors.
func (r *Runner) Run(ctx context.Context, objective string, opts registry.CallOptions, conversation []string) RunResult {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
		opts.RunID = runID
	}
	hist := history.New()
	result := RunResult{RunID: runID, Objective: objective}

	full := manifest.Build(r.registry.Tools())

	decision := r.timedJudge(ctx, objective, full, conversation)
	if !decision.Need {
		r.logger.Printf("run %s: no tools needed (%s)", runID, decision.Summary)
		result.Evaluation = evaluate.Evaluation{Success: true, Summary: decision.Summary}
		result.Summary = evaluate.Summary{Summary: decision.Summary, TaskSuccess: true}
		result.History = hist.Entries()
		r.persist(ctx, result)
		return result
	}

	entries := manifest.Filter(full, decision.ToolNames)
	entries = r.timedRerank(ctx, entries, objective, decision.Operations)
	result.Manifest = entries

	plan := r.timedPlan(ctx, objective, entries, conversation, hist)
	result.Steps = plan
	if len(plan) == 0 {
		r.logger.Printf("run %s: empty plan", runID)
		result.Evaluation = r.timedEvaluate(ctx, objective, entries, hist)
		hist.AppendEvaluation(evaluationPayload(result.Evaluation))
		result.Summary = r.timedSummarize(ctx, objective, hist, result.Evaluation)
		result.History = hist.Entries()
		r.persist(ctx, result)
		return result
	}

	plan = r.execute(ctx, runID, objective, entries, plan, hist, opts)
	result.Steps = plan

	result.Evaluation = r.timedEvaluate(ctx, objective, entries, hist)
	hist.AppendEvaluation(evaluationPayload(result.Evaluation))
	result.Summary = r.timedSummarize(ctx, objective, hist, result.Evaluation)
	result.History = hist.Entries()
	r.persist(ctx, result)
	return result
}

func evaluationPayload(eval evaluate.Evaluation) map[string]interface{} {
	payload := map[string]interface{}{
		"success":    eval.Success,
		"incomplete": eval.Incomplete,
		"summary":    eval.Summary,
	}
	if len(eval.FailedSteps) > 0 {
		payload["failed_steps"] = eval.FailedSteps
	}
	return payload
}

func (r *Runner) timedJudge(ctx context.Context, objective string, entries []manifest.Entry, conversation []string) judge.Decision {
	start := time.Now()
	defer func() { r.telemetry.RecordStage("judge", time.Since(start)) }()
	return r.judge.Decide(ctx, objective, entries, conversation)
}

func (r *Runner) timedRerank(ctx context.Context, entries []manifest.Entry, objective string, subQueries []string) []manifest.Entry {
	if r.reranker == nil {
		return entries
	}
	start := time.Now()
	defer func() { r.telemetry.RecordStage("rerank", time.Since(start)) }()
	return r.reranker.Rerank(ctx, entries, objective, subQueries)
}

func (r *Runner) timedPlan(ctx context.Context, objective string, entries []manifest.Entry, conversation []string, hist *history.History) []planner.Step {
	start := time.Now()
	defer func() { r.telemetry.RecordStage("plan", time.Since(start)) }()
	return r.planner.Plan(ctx, objective, entries, conversation, hist)
}

func (r *Runner) timedEvaluate(ctx context.Context, objective string, entries []manifest.Entry, hist *history.History) evaluate.Evaluation {
	start := time.Now()
	defer func() { r.telemetry.RecordStage("evaluate", time.Since(start)) }()
	return r.evaluator.Evaluate(ctx, objective, entries, hist)
}

func (r *Runner) timedSummarize(ctx context.Context, objective string, hist *history.History, eval evaluate.Evaluation) evaluate.Summary {
	start := time.Now()
	defer func() { r.telemetry.RecordStage("summarize", time.Since(start)) }()
	sum, err := r.summarizer.Summarize(ctx, objective, hist, eval)
	if err != nil {
		r.logger.Printf("summarization degraded: %v", err)
	}
	return sum
}

// persist saves the run record and the plan memory. Persistence failures are
// logged, never propagated; the run already has its result.
func (r *Runner) persist(ctx context.Context, result RunResult) {
	if r.persistence == nil {
		return
	}
	rec := store.RunRecord{ID: result.RunID, Objective: result.Objective}
	rec.Manifest, _ = json.Marshal(result.Manifest)
	rec.Steps, _ = json.Marshal(result.Steps)
	rec.Evaluation, _ = json.Marshal(result.Evaluation)
	rec.Summary, _ = json.Marshal(result.Summary)
	entries := make([]store.HistoryRecord, 0, len(result.History))
	for _, e := range result.History {
		raw, err := json.Marshal(e)
		if err != nil {
			continue
		}
		entries = append(entries, store.HistoryRecord{Position: e.Position, Kind: string(e.Kind), Entry: raw})
	}
	if err := r.persistence.SaveRun(ctx, rec, entries); err != nil {
		r.logger.Printf("saving run %s failed: %v", result.RunID, err)
	}
	if result.Evaluation.Success && len(result.Steps) > 0 {
		if err := r.persistence.SavePlanMemory(ctx, result.RunID, result.Objective, rec.Steps); err != nil {
			r.logger.Printf("saving plan memory for %s failed: %v", result.RunID, err)
		}
	}
}
