package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sentrakit/agentcore/internal/history"
	"github.com/sentrakit/agentcore/internal/llm"
	"github.com/sentrakit/agentcore/internal/manifest"
)

type candidate struct {
	index   int
	model   string
	steps   []Step
	elapsed time.Duration
}

// planCandidates fans out K independent generations (temperature variants of
// one model, or one per configured model), bounds the stragglers with a
// dynamic deadline derived from the first half's completion times, and has an
// auditor model pick the best non-empty candidate.
func (p *Planner) planCandidates(ctx context.Context, objective string, entries []manifest.Entry, conversation, hints []string, hist *history.History) []Step {
	specs := p.candidateSpecs()
	done := make(chan candidate, len(specs))
	started := time.Now()
	for i, spec := range specs {
		go func(i int, model string, temp float64) {
			attemptStart := time.Now()
			steps, err := p.generate(ctx, model, temp, objective, entries, conversation, hints)
			if err != nil {
				p.logger.Printf("candidate %d (%s) failed: %v", i, model, err)
			}
			done <- candidate{index: i, model: model, steps: steps, elapsed: time.Since(attemptStart)}
		}(i, spec.model, spec.temperature)
	}

	var collected []candidate
	var deadline <-chan time.Time
	half := (len(specs) + 1) / 2
	for len(collected) < len(specs) {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			p.logger.Printf("abandoning %d straggler candidates after %s",
				len(specs)-len(collected), time.Since(started).Round(time.Millisecond))
			return p.selectCandidate(ctx, objective, collected, hist)
		case c := <-done:
			collected = append(collected, c)
			if deadline == nil && len(collected) >= half && len(collected) < len(specs) {
				d := p.dynamicDeadline(collected, len(specs)-len(collected))
				p.logger.Printf("half complete, remaining candidates get %s", d.Round(time.Millisecond))
				deadline = time.After(d)
			}
		}
	}
	return p.selectCandidate(ctx, objective, collected, hist)
}

type candidateSpec struct {
	model       string
	temperature float64
}

func (p *Planner) candidateSpecs() []candidateSpec {
	if len(p.cfg.CandidateModels) > 1 {
		specs := make([]candidateSpec, len(p.cfg.CandidateModels))
		for i, m := range p.cfg.CandidateModels {
			specs[i] = candidateSpec{model: m, temperature: p.cfg.BaseTemperature}
		}
		return specs
	}
	n := p.cfg.Candidates
	if n < 2 {
		n = 2
	}
	model := p.router.Model(llm.StagePlanning)
	specs := make([]candidateSpec, n)
	for i := range specs {
		specs[i] = candidateSpec{model: model, temperature: p.cfg.BaseTemperature + float64(i)*p.cfg.TemperatureStep}
	}
	return specs
}

// dynamicDeadline derives the straggler budget from the mean completion time
// of the candidates that already finished, scaled by the configured factor
// and the number still outstanding, clamped to the configured bounds.
func (p *Planner) dynamicDeadline(finished []candidate, remaining int) time.Duration {
	var total time.Duration
	for _, c := range finished {
		total += c.elapsed
	}
	mean := total / time.Duration(len(finished))
	factor := p.cfg.DeadlineFactor
	if factor <= 0 {
		factor = 1.5
	}
	if remaining < 1 {
		remaining = 1
	}
	d := time.Duration(float64(mean) * factor * float64(remaining))
	if p.cfg.DeadlineMin > 0 && d < p.cfg.DeadlineMin {
		d = p.cfg.DeadlineMin
	}
	if p.cfg.DeadlineMax > 0 && d > p.cfg.DeadlineMax {
		d = p.cfg.DeadlineMax
	}
	return d
}

// selectCandidate audits the non-empty candidates and returns the winner's
// steps, recording the choice as a plan_audit history entry.
func (p *Planner) selectCandidate(ctx context.Context, objective string, collected []candidate, hist *history.History) []Step {
	var viable []candidate
	for _, c := range collected {
		if len(c.steps) > 0 {
			viable = append(viable, c)
		}
	}
	if len(viable) == 0 {
		return nil
	}
	chosen := 0
	rationale := "single viable candidate"
	if len(viable) > 1 {
		chosen, rationale = p.audit(ctx, objective, viable)
	}
	if hist != nil {
		hist.AppendPlanAudit(map[string]interface{}{
			"selected":   chosen,
			"rationale":  rationale,
			"candidates": len(viable),
			"steps":      len(viable[chosen].steps),
			"model":      viable[chosen].model,
		})
	}
	return viable[chosen].steps
}

// audit asks the audit model to pick the best candidate. Any invalid answer
// clamps to candidate 0.
func (p *Planner) audit(ctx context.Context, objective string, viable []candidate) (int, string) {
	var b strings.Builder
	b.WriteString("Pick the best plan for the objective.\n\nObjective: " + objective + "\n\n")
	for i, c := range viable {
		encoded, err := json.Marshal(c.steps)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "Candidate %d:\n%s\n\n", i, string(encoded))
	}
	b.WriteString(`Respond with JSON only: {"best_index": <candidate number>, "rationale": "why"}`)

	response, err := p.router.Generate(ctx, llm.StageAudit, b.String(), map[string]interface{}{"temperature": 0.0})
	if err != nil {
		p.logger.Printf("audit failed, defaulting to candidate 0: %v", err)
		return 0, "audit failed"
	}
	var verdict struct {
		BestIndex int    `json:"best_index"`
		Rationale string `json:"rationale"`
	}
	if err := llm.DecodeObject(response, &verdict); err != nil {
		p.logger.Printf("audit response unusable, defaulting to candidate 0: %v", err)
		return 0, "audit response unusable"
	}
	if verdict.BestIndex < 0 || verdict.BestIndex >= len(viable) {
		return 0, "audit index out of range"
	}
	return verdict.BestIndex, verdict.Rationale
}
