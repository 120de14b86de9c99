// Package arggen produces concrete, schema-valid arguments for each plan
// step, with a bounded validate/repair loop and optional reuse of
// historically similar arguments.
package arggen

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/history"
	"github.com/sentrakit/agentcore/internal/llm"
	"github.com/sentrakit/agentcore/internal/planner"
	"github.com/sentrakit/agentcore/internal/registry"
)

// MemoryHit is a historical argument set for a similar call.
type MemoryHit struct {
	Args  map[string]interface{}
	Score float64
}

// Memory searches prior runs for argument sets used with the same tool on a
// similar objective.
type Memory interface {
	SearchSimilarArgs(ctx context.Context, aiName, signature string, limit int) ([]MemoryHit, error)
}

type Generator struct {
	cfg    config.ArgGenConfig
	router *llm.Router
	memory Memory
	logger *log.Logger
}

func New(cfg config.ArgGenConfig, router *llm.Router, memory Memory) *Generator {
	return &Generator{
		cfg:    cfg,
		router: router,
		memory: memory,
		logger: log.New(log.Writer(), "[ARGGEN] ", log.LstdFlags),
	}
}

// Request carries everything argument generation needs for one step.
type Request struct {
	Objective string
	Step      planner.Step
	StepIndex int
	Plan      []planner.Step
	Tool      registry.Descriptor
	History   *history.History
}

// Generate produces schema-valid arguments for a step. On exhausted repairs
// it returns the last proposal together with an error describing what is
// still wrong; the caller decides whether to execute anyway or fail the step.
func (g *Generator) Generate(ctx context.Context, req Request) (map[string]interface{}, error) {
	if reused, ok := g.reuse(ctx, req); ok {
		return reused, nil
	}
	schema, err := compileSchema(req.Tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", req.Tool.AIName, err)
	}

	maxAttempts := g.cfg.MaxRepairs + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var problems []string
	var lastArgs map[string]interface{}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		prompt := g.buildPrompt(req, problems)
		response, err := g.router.Generate(ctx, llm.StageArguments, prompt, map[string]interface{}{
			"temperature": 0.0,
		})
		if err != nil {
			g.logger.Printf("argument attempt %d for %s failed: %v", attempt+1, req.Tool.AIName, err)
			problems = []string{"previous attempt produced no response"}
			continue
		}
		var args map[string]interface{}
		if err := llm.DecodeObject(response, &args); err != nil {
			problems = []string{err.Error()}
			g.logger.Printf("argument response for %s unparseable: %v", req.Tool.AIName, err)
			continue
		}
		lastArgs = args
		problems = validationProblems(schema, args)
		if len(problems) == 0 {
			return args, nil
		}
		g.logger.Printf("repairing arguments for %s: %s", req.Tool.AIName, strings.Join(problems, "; "))
	}
	return lastArgs, fmt.Errorf("arguments for %s still invalid after %d attempts: %s",
		req.Tool.AIName, maxAttempts, strings.Join(problems, "; "))
}

// Signature is the text embedded when storing or searching argument memories
// for a step. Writers and readers must agree on it.
func Signature(objective string, step planner.Step) string {
	return objective + " " + strings.Join(step.Reason, " ")
}

// reuse short-circuits generation with a sufficiently similar historical
// argument set, pruned to the tool's current schema and only accepted when
// every required field survives the pruning.
func (g *Generator) reuse(ctx context.Context, req Request) (map[string]interface{}, bool) {
	if !g.cfg.ReuseEnabled || g.memory == nil {
		return nil, false
	}
	hits, err := g.memory.SearchSimilarArgs(ctx, req.Tool.AIName, Signature(req.Objective, req.Step), 3)
	if err != nil {
		g.logger.Printf("argument memory search failed: %v", err)
		return nil, false
	}
	for _, hit := range hits {
		if hit.Score < g.cfg.ReuseThreshold {
			continue
		}
		pruned := pruneToSchema(req.Tool.InputSchema, hit.Args)
		if !hasAll(pruned, requiredFields(req.Tool.InputSchema)) {
			continue
		}
		g.logger.Printf("reusing historical arguments for %s (score %.3f)", req.Tool.AIName, hit.Score)
		return pruned, true
	}
	return nil, false
}

func hasAll(args map[string]interface{}, required []string) bool {
	for _, name := range required {
		if _, ok := args[name]; !ok {
			return false
		}
	}
	return true
}

func (g *Generator) buildPrompt(req Request, problems []string) string {
	var b strings.Builder
	b.WriteString("Produce arguments for one tool call.\n\n")
	b.WriteString("Objective: " + req.Objective + "\n")
	b.WriteString("Tool: " + req.Tool.AIName)
	if req.Tool.Description != "" {
		b.WriteString(" — " + req.Tool.Description)
	}
	b.WriteString("\n")
	if schemaJSON, err := json.Marshal(req.Tool.InputSchema); err == nil && req.Tool.InputSchema != nil {
		b.WriteString("Schema: " + string(schemaJSON) + "\n")
	}
	if required := requiredFields(req.Tool.InputSchema); len(required) > 0 {
		b.WriteString("Required fields: " + strings.Join(required, ", ") + "\n")
	}
	if len(req.Step.Reason) > 0 {
		b.WriteString("Step rationale: " + strings.Join(req.Step.Reason, "; ") + "\n")
	}
	if len(req.Step.DraftArgs) > 0 {
		if draft, err := json.Marshal(req.Step.DraftArgs); err == nil {
			b.WriteString("Draft arguments from the plan: " + string(draft) + "\n")
		}
	}
	g.writeDependencyContext(&b, req)
	g.writeFailureHistory(&b, req)
	if len(problems) > 0 {
		b.WriteString("\nYour previous arguments were rejected:\n")
		for _, problem := range problems {
			b.WriteString("- " + problem + "\n")
		}
		b.WriteString("Fix exactly these fields.\n")
	}
	b.WriteString("\nRespond with a single JSON object containing only the argument fields.\n")
	return b.String()
}

// writeDependencyContext includes the results of every step in the current
// step's transitive dependency closure, in execution order.
func (g *Generator) writeDependencyContext(b *strings.Builder, req Request) {
	if req.History == nil || len(req.Plan) == 0 {
		return
	}
	adjacency := make([][]int, len(req.Plan))
	for i, step := range req.Plan {
		adjacency[i] = step.DependsOn
	}
	closure := history.DependencyClosure(adjacency, req.StepIndex)
	if len(closure) == 0 {
		return
	}
	b.WriteString("\nResults this step depends on:\n")
	for _, dep := range closure {
		entry, ok := req.History.ResultForStep(dep)
		if !ok {
			continue
		}
		encoded, err := json.Marshal(entry.Result)
		if err != nil {
			continue
		}
		fmt.Fprintf(b, "- step %d (%s): %s\n", dep, entry.AIName, string(encoded))
	}
}

// writeFailureHistory includes every failed attempt of this exact step so
// the model does not re-propose an argument set that already failed.
func (g *Generator) writeFailureHistory(b *strings.Builder, req Request) {
	if req.History == nil {
		return
	}
	var failures []history.Entry
	for _, entry := range req.History.ToolResults() {
		if entry.StepIndex == req.StepIndex && entry.Result != nil && !entry.Result.Success {
			failures = append(failures, entry)
		}
	}
	if len(failures) == 0 {
		return
	}
	b.WriteString("\nEarlier attempts of this step failed. Do not repeat these arguments:\n")
	for _, f := range failures {
		args, err := json.Marshal(f.Args)
		if err != nil {
			continue
		}
		fmt.Fprintf(b, "- args %s failed with %s: %s\n", string(args), f.Result.Code, f.Result.Error)
	}
}
