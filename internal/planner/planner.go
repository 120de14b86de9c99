// Package planner turns an objective and a tool manifest into an ordered,
// dependency-aware execution plan.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/history"
	"github.com/sentrakit/agentcore/internal/llm"
	"github.com/sentrakit/agentcore/internal/manifest"
)

// Step is one planned tool invocation. DependsOn indices reference earlier
// steps in the same plan.
type Step struct {
	AIName    string                 `json:"ai_name"`
	Reason    []string               `json:"reason"`
	NextStep  string                 `json:"next_step,omitempty"`
	DraftArgs map[string]interface{} `json:"draft_args,omitempty"`
	DependsOn []int                  `json:"depends_on,omitempty"`
}

// MemoryHit is an advisory match from cross-run plan memory.
type MemoryHit struct {
	Objective string
	PlanJSON  string
	Score     float64
}

// Memory retrieves plans from prior runs with near-identical objectives.
type Memory interface {
	SearchSimilarPlans(ctx context.Context, objective string, limit int) ([]MemoryHit, error)
}

type Planner struct {
	cfg    config.PlannerConfig
	router *llm.Router
	memory Memory
	logger *log.Logger
}

func New(cfg config.PlannerConfig, router *llm.Router, memory Memory) *Planner {
	return &Planner{
		cfg:    cfg,
		router: router,
		memory: memory,
		logger: log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Plan produces an execution plan. It never returns an error: exhausted
// retries and cancellation both degrade to an empty plan, which downstream
// stages treat as "nothing to do".
func (p *Planner) Plan(ctx context.Context, objective string, entries []manifest.Entry, conversation []string, hist *history.History) []Step {
	if ctx.Err() != nil || len(entries) == 0 {
		return nil
	}
	hints := p.memoryHints(ctx, objective)
	if len(p.cfg.CandidateModels) > 1 || p.cfg.Candidates > 1 {
		return p.planCandidates(ctx, objective, entries, conversation, hints, hist)
	}
	steps, _ := p.generate(ctx, p.router.Model(llm.StagePlanning), p.cfg.BaseTemperature, objective, entries, conversation, hints)
	return steps
}

// memoryHints retrieves advisory context from prior similar plans. Advisory
// only: hints go into the prompt, never into validation.
func (p *Planner) memoryHints(ctx context.Context, objective string) []string {
	if !p.cfg.MemoryEnabled || p.memory == nil {
		return nil
	}
	hits, err := p.memory.SearchSimilarPlans(ctx, objective, 3)
	if err != nil {
		p.logger.Printf("plan memory search failed: %v", err)
		return nil
	}
	var hints []string
	for _, h := range hits {
		if h.Score < p.cfg.MemoryThreshold {
			continue
		}
		hints = append(hints, fmt.Sprintf("A previous objective %q used this plan: %s", h.Objective, h.PlanJSON))
	}
	return hints
}

// generate runs the bounded generate/parse/filter/reinforce state machine
// for one candidate. The returned error is only used by candidate collection
// to distinguish empty-by-failure from empty-by-design.
func (p *Planner) generate(ctx context.Context, model string, temperature float64, objective string, entries []manifest.Entry, conversation, hints []string) ([]Step, error) {
	maxAttempts := p.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	allowed := make(map[string]bool, len(entries))
	for _, e := range entries {
		allowed[e.AIName] = true
	}

	var reinforcement string
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		prompt := p.buildPrompt(objective, entries, conversation, hints, reinforcement)
		response, err := p.router.GenerateWithModel(ctx, llm.StagePlanning, model, prompt, map[string]interface{}{
			"temperature": temperature,
		})
		if err != nil {
			lastErr = err
			p.logger.Printf("plan attempt %d failed: %v", attempt+1, err)
			continue
		}
		steps, problems := p.parse(response, allowed)
		if len(steps) > 0 && len(problems) == 0 {
			return steps, nil
		}
		if len(problems) == 0 {
			problems = []string{"the plan contained no usable steps"}
		}
		lastErr = fmt.Errorf("attempt %d: %s", attempt+1, strings.Join(problems, "; "))
		reinforcement = "Your previous plan was rejected: " + strings.Join(problems, "; ") +
			". Use only the exact tool names listed above and return at least one step."
		p.logger.Printf("reinforcing plan retry: %s", strings.Join(problems, "; "))
	}
	p.logger.Printf("plan generation exhausted %d attempts: %v", maxAttempts, lastErr)
	return nil, lastErr
}

// parse decodes a plan response and filters it against the allowed
// vocabulary. It returns the surviving steps plus the problems to feed back
// on retry.
func (p *Planner) parse(response string, allowed map[string]bool) ([]Step, []string) {
	var raw struct {
		Steps []struct {
			Tool      string                 `json:"tool"`
			Reason    json.RawMessage        `json:"reason"`
			NextStep  string                 `json:"next_step"`
			Args      map[string]interface{} `json:"args"`
			DependsOn []int                  `json:"depends_on"`
		} `json:"steps"`
	}
	if err := llm.DecodeObject(response, &raw); err != nil {
		return nil, []string{err.Error()}
	}
	var problems []string
	var steps []Step
	for i, rs := range raw.Steps {
		if rs.Tool == "" {
			problems = append(problems, fmt.Sprintf("step %d has no tool name", i))
			continue
		}
		if !allowed[rs.Tool] {
			problems = append(problems, fmt.Sprintf("step %d references unknown tool %q", i, rs.Tool))
			continue
		}
		step := Step{
			AIName:    rs.Tool,
			Reason:    decodeReason(rs.Reason),
			NextStep:  rs.NextStep,
			DraftArgs: rs.Args,
		}
		if len(step.Reason) == 0 {
			step.Reason = []string{"planned for objective"}
		}
		for _, dep := range rs.DependsOn {
			if dep >= 0 && dep < len(steps) {
				step.DependsOn = append(step.DependsOn, dep)
			}
		}
		steps = append(steps, step)
	}
	return steps, problems
}

// decodeReason accepts both a string and a list of strings.
func decodeReason(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func (p *Planner) buildPrompt(objective string, entries []manifest.Entry, conversation, hints []string, reinforcement string) string {
	var b strings.Builder
	b.WriteString("Plan a sequence of tool calls for the objective below.\n\n")
	if len(conversation) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range conversation {
			b.WriteString("- " + turn + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Objective: " + objective + "\n\n")
	b.WriteString("Available tools:\n")
	b.WriteString(manifest.Render(entries))
	for _, hint := range hints {
		b.WriteString("\nAdvisory: " + hint + "\n")
	}
	b.WriteString(`
Respond with JSON only:
{
  "steps": [
    {
      "tool": "exact tool name from the list",
      "reason": ["why this step is needed"],
      "next_step": "what happens after this step",
      "args": {"draft": "arguments"},
      "depends_on": [0]
    }
  ]
}
"depends_on" lists indices of earlier steps whose results this step needs.
`)
	if reinforcement != "" {
		b.WriteString("\n" + reinforcement + "\n")
	}
	return b.String()
}
