package runner

import (
	"context"
	"time"

	"github.com/sentrakit/agentcore/internal/arggen"
	"github.com/sentrakit/agentcore/internal/history"
	"github.com/sentrakit/agentcore/internal/manifest"
	"github.com/sentrakit/agentcore/internal/planner"
	"github.com/sentrakit/agentcore/internal/reflect"
	"github.com/sentrakit/agentcore/internal/registry"
)

// execute walks the plan step by step: reflect before, generate arguments,
// invoke the tool, append the outcome, reflect after. A replan decision
// replaces the remaining plan, bounded by MaxReplans. The returned slice is
// the plan as actually executed.
func (r *Runner) execute(ctx context.Context, runID, objective string, entries []manifest.Entry, plan []planner.Step, hist *history.History, opts registry.CallOptions) []planner.Step {
	allowed := manifest.Names(entries)
	replans := 0
	maxReplans := r.cfg.MaxReplans
	if maxReplans <= 0 {
		maxReplans = 1
	}

	start := time.Now()
	defer func() { r.telemetry.RecordStage("execute", time.Since(start)) }()

	for i := 0; i < len(plan); i++ {
		if ctx.Err() != nil {
			r.logger.Printf("run %s: cancelled before step %d", runID, i)
			return plan
		}

		req := reflect.Request{Objective: objective, Plan: plan, StepIndex: i, AllowedNames: allowed, History: hist}
		decision := r.reflect(ctx, reflect.PhaseBefore, req)
		switch decision.Kind {
		case reflect.KindPatch:
			plan[i].DraftArgs = decision.Args
		case reflect.KindReplace:
			plan[i] = *decision.Step
		case reflect.KindInsert:
			plan = insertSteps(plan, i+1, decision.Steps)
		case reflect.KindReplan:
			if replans >= maxReplans {
				r.logger.Printf("run %s: replan budget exhausted, continuing current plan", runID)
				break
			}
			replans++
			r.logger.Printf("run %s: replanning (%d/%d): %s", runID, replans, maxReplans, decision.Rationale)
			next := r.timedPlan(ctx, decision.Objective, entries, nil, hist)
			if len(next) > 0 {
				plan = next
				i = -1
				continue
			}
			r.logger.Printf("run %s: replan produced no steps, continuing current plan", runID)
		}

		r.runStep(ctx, runID, objective, plan, i, hist, opts)

		decision = r.reflect(ctx, reflect.PhaseAfter, reflect.Request{Objective: objective, Plan: plan, StepIndex: i, AllowedNames: allowed, History: hist})
		switch decision.Kind {
		case reflect.KindInsert:
			plan = insertSteps(plan, i+1, decision.Steps)
		case reflect.KindReplan:
			if replans >= maxReplans {
				r.logger.Printf("run %s: replan budget exhausted, continuing current plan", runID)
				break
			}
			replans++
			r.logger.Printf("run %s: replanning (%d/%d): %s", runID, replans, maxReplans, decision.Rationale)
			next := r.timedPlan(ctx, decision.Objective, entries, nil, hist)
			if len(next) > 0 {
				plan = next
				i = -1
			}
		}
	}
	return plan
}

// runStep resolves, argues and invokes one step, recording the outcome in
// history regardless of how far it got.
func (r *Runner) runStep(ctx context.Context, runID, objective string, plan []planner.Step, i int, hist *history.History, opts registry.CallOptions) {
	step := plan[i]
	desc, ok := r.registry.Lookup(step.AIName)
	if !ok {
		hist.AppendToolResult(i, step.AIName, nil, registry.ToolResult{
			Success: false, Code: registry.CodeNotFound,
			Error: "tool disappeared between planning and execution",
		})
		return
	}

	args, err := r.arggen.Generate(ctx, arggen.Request{
		Objective: objective,
		Step:      step,
		StepIndex: i,
		Plan:      plan,
		Tool:      desc,
		History:   hist,
	})
	if err != nil {
		r.logger.Printf("run %s step %d (%s): arguments degraded: %v", runID, i, step.AIName, err)
	}
	if args == nil {
		hist.AppendToolResult(i, step.AIName, nil, registry.ToolResult{
			Success: false, Code: registry.CodeErr,
			Error: "no arguments could be generated: " + err.Error(),
		})
		return
	}

	res := r.registry.CallByAIName(ctx, step.AIName, args, opts)
	hist.AppendToolResult(i, step.AIName, args, res)

	if res.Success && r.persistence != nil {
		if err := r.persistence.SaveArgMemory(ctx, runID, step.AIName, arggen.Signature(objective, step), args); err != nil {
			r.logger.Printf("saving arg memory for %s failed: %v", step.AIName, err)
		}
	}
}

func (r *Runner) reflect(ctx context.Context, phase reflect.Phase, req reflect.Request) reflect.Decision {
	if r.reflector == nil {
		return reflect.Noop
	}
	return r.reflector.Reflect(ctx, phase, req)
}

func insertSteps(plan []planner.Step, at int, steps []planner.Step) []planner.Step {
	if len(steps) == 0 {
		return plan
	}
	out := make([]planner.Step, 0, len(plan)+len(steps))
	out = append(out, plan[:at]...)
	out = append(out, steps...)
	out = append(out, plan[at:]...)
	return out
}
