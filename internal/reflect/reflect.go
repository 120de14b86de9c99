// Package reflect implements the optional between-steps hook that can patch
// arguments, rewrite parts of the plan, or request a full replan.
package reflect

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
)

// Kind is the action a reflection decided on.
type Kind string

const (
	KindNoop    Kind = "noop"
	KindPatch   Kind = "patch"
	KindReplace Kind = "replace"
	KindInsert  Kind = "insert"
	KindReplan  Kind = "replan"
)

// Decision is the outcome of one reflection. Exactly the fields matching
// Kind are populated.
type Decision struct {
	Kind      Kind
	Args      map[string]interface{} // patch: replacement args for the current step
	Step      *planner.Step          // replace: new current step
	Steps     []planner.Step         // insert: steps to add after the current one
	Objective string                 // replan: reframed objective
	Rationale string
}

// Noop is the decision every failure path degrades to.
var Noop = Decision{Kind: KindNoop}

// Phase distinguishes reflection before and after step execution.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Request is the context handed to one reflection.
type Request struct {
	Objective    string
	Plan         []planner.Step
	StepIndex    int
	AllowedNames []string
	History      *history.History
}

type Reflector struct {
	cfg    config.ReflectConfig
	router *llm.Router
	logger *log.Logger
}

func New(cfg config.ReflectConfig, router *llm.Router) *Reflector {
	return &Reflector{
		cfg:    cfg,
		router: router,
		logger: log.New(log.Writer(), "[REFLECT] ", log.LstdFlags),
	}
}

// Reflect inspects the run around one step. Every failure (model error,
// malformed response, out-of-vocabulary tool) is swallowed into a no-op;
// reflection must never break a run.
func (r *Reflector) Reflect(ctx context.Context, phase Phase, req Request) Decision {
	if !r.cfg.Enabled || r.router == nil {
		return Noop
	}
	if ctx.Err() != nil {
		return Noop
	}
	response, err := r.router.Generate(ctx, llm.StageReflect, r.buildPrompt(phase, req), map[string]interface{}{
		"temperature": 0.0,
	})
	if err != nil {
		r.logger.Printf("reflection failed, continuing: %v", err)
		return Noop
	}
	decision, err := r.parse(response, req)
	if err != nil {
		r.logger.Printf("reflection response unusable, continuing: %v", err)
		return Noop
	}
	if decision.Kind != KindNoop {
		r.logger.Printf("reflection %s at step %d: %s", decision.Kind, req.StepIndex, decision.Rationale)
	}
	return decision
}

type rawStep struct {
	Tool      string                 `json:"tool"`
	Reason    []string               `json:"reason"`
	Args      map[string]interface{} `json:"args"`
	DependsOn []int                  `json:"depends_on"`
}

func (r *Reflector) parse(response string, req Request) (Decision, error) {
	var raw struct {
		Action    string                 `json:"action"`
		Args      map[string]interface{} `json:"args"`
		Step      *rawStep               `json:"step"`
		Steps     []rawStep              `json:"steps"`
		Objective string                 `json:"objective"`
		Rationale string                 `json:"rationale"`
	}
	if err := llm.DecodeObject(response, &raw); err != nil {
		return Noop, err
	}
	allowed := make(map[string]bool, len(req.AllowedNames))
	for _, name := range req.AllowedNames {
		allowed[name] = true
	}
	switch Kind(raw.Action) {
	case KindNoop, "":
		return Noop, nil
	case KindPatch:
		if len(raw.Args) == 0 {
			return Noop, fmt.Errorf("patch without args")
		}
		return Decision{Kind: KindPatch, Args: raw.Args, Rationale: raw.Rationale}, nil
	case KindReplace:
		step, err := convertStep(raw.Step, allowed)
		if err != nil {
			return Noop, fmt.Errorf("replace: %w", err)
		}
		return Decision{Kind: KindReplace, Step: step, Rationale: raw.Rationale}, nil
	case KindInsert:
		if len(raw.Steps) == 0 {
			return Noop, fmt.Errorf("insert without steps")
		}
		var steps []planner.Step
		for _, rs := range raw.Steps {
			step, err := convertStep(&rs, allowed)
			if err != nil {
				return Noop, fmt.Errorf("insert: %w", err)
			}
			steps = append(steps, *step)
		}
		return Decision{Kind: KindInsert, Steps: steps, Rationale: raw.Rationale}, nil
	case KindReplan:
		objective := raw.Objective
		if objective == "" {
			objective = req.Objective
		}
		return Decision{Kind: KindReplan, Objective: objective, Rationale: raw.Rationale}, nil
	default:
		return Noop, fmt.Errorf("unknown action %q", raw.Action)
	}
}

func convertStep(rs *rawStep, allowed map[string]bool) (*planner.Step, error) {
	if rs == nil || rs.Tool == "" {
		return nil, fmt.Errorf("step missing tool name")
	}
	if len(allowed) > 0 && !allowed[rs.Tool] {
		return nil, fmt.Errorf("unknown tool %q", rs.Tool)
	}
	reason := rs.Reason
	if len(reason) == 0 {
		reason = []string{"added by reflection"}
	}
	return &planner.Step{
		AIName:    rs.Tool,
		Reason:    reason,
		DraftArgs: rs.Args,
		DependsOn: rs.DependsOn,
	}, nil
}

func (r *Reflector) buildPrompt(phase Phase, req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You review an agent run %s step %d executes.\n\n", phase, req.StepIndex)
	b.WriteString("Objective: " + req.Objective + "\n\nPlan:\n")
	for i, step := range req.Plan {
		encoded, err := json.Marshal(step)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i, string(encoded))
	}
	r.writeRecentHistory(&b, req)
	b.WriteString(`
Respond with JSON only:
{"action": "noop|patch|replace|insert|replan", "args": {}, "step": {"tool": "..."}, "steps": [], "objective": "", "rationale": "..."}
Choose "noop" unless the recent results clearly require a change.
`)
	return b.String()
}

// writeRecentHistory includes the results of the current step's dependency
// closure plus the step itself, the part of the run a reflection may react
// to.
func (r *Reflector) writeRecentHistory(b *strings.Builder, req Request) {
	if req.History == nil {
		return
	}
	adjacency := make([][]int, len(req.Plan))
	for i, step := range req.Plan {
		adjacency[i] = step.DependsOn
	}
	indices := append(history.DependencyClosure(adjacency, req.StepIndex), req.StepIndex)
	wrote := false
	for _, i := range indices {
		entry, ok := req.History.ResultForStep(i)
		if !ok {
			continue
		}
		if !wrote {
			b.WriteString("\nRecent results:\n")
			wrote = true
		}
		encoded, err := json.Marshal(entry.Result)
		if err != nil {
			continue
		}
		fmt.Fprintf(b, "- step %d (%s): %s\n", i, entry.AIName, string(encoded))
	}
}
