// Package evaluate judges a finished run and produces its final summary.
package evaluate

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

// FailedStep attributes a failure to one plan step.
type FailedStep struct {
	StepIndex int    `json:"step_index"`
	AIName    string `json:"ai_name,omitempty"`
	Reason    string `json:"reason"`
}

// Evaluation is the run verdict. Invariant: Success=false implies FailedSteps
// is non-empty.
type Evaluation struct {
	Success     bool         `json:"success"`
	Incomplete  bool         `json:"incomplete"`
	FailedSteps []FailedStep `json:"failed_steps,omitempty"`
	Summary     string       `json:"summary"`
}

type Evaluator struct {
	cfg    config.EvaluateConfig
	router *llm.Router
	logger *log.Logger
}

func New(cfg config.EvaluateConfig, router *llm.Router) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		router: router,
		logger: log.New(log.Writer(), "[EVALUATE] ", log.LstdFlags),
	}
}

func (e *Evaluator) attempts() int {
	if e.cfg.MaxAttempts > 0 {
		return e.cfg.MaxAttempts
	}
	return 3
}

// Evaluate judges the run from its full history. A verdict claiming failure
// without naming failed steps is invalid and retried; exhausted retries
// degrade to a neutral success so the run always terminates with a
// structured result.
func (e *Evaluator) Evaluate(ctx context.Context, objective string, entries []manifest.Entry, hist *history.History) Evaluation {
	prompt := e.buildPrompt(objective, entries, hist)
	var reinforcement string
	for attempt := 0; attempt < e.attempts(); attempt++ {
		if ctx.Err() != nil {
			break
		}
		response, err := e.router.Generate(ctx, llm.StageEvaluate, prompt+reinforcement, map[string]interface{}{
			"temperature": 0.0,
		})
		if err != nil {
			e.logger.Printf("evaluation attempt %d failed: %v", attempt+1, err)
			continue
		}
		var verdict Evaluation
		if err := llm.DecodeObject(response, &verdict); err != nil {
			e.logger.Printf("evaluation response unusable (attempt %d): %v; raw: %s", attempt+1, err, truncate(response, 500))
			reinforcement = "\nYour previous response was not valid JSON. Respond with the JSON object only."
			continue
		}
		if !verdict.Success && len(verdict.FailedSteps) == 0 {
			e.logger.Printf("evaluation claimed failure without failed steps (attempt %d); raw: %s", attempt+1, truncate(response, 500))
			reinforcement = "\nYou reported success=false: you MUST list the failing steps in failed_steps."
			continue
		}
		return verdict
	}
	e.logger.Printf("evaluation exhausted %d attempts, defaulting to neutral success", e.attempts())
	return Evaluation{Success: true, Summary: "evaluation unavailable; defaulting to success"}
}

func (e *Evaluator) buildPrompt(objective string, entries []manifest.Entry, hist *history.History) string {
	var b strings.Builder
	b.WriteString("Judge whether this agent run achieved its objective.\n\n")
	b.WriteString("Objective: " + objective + "\n\n")
	if len(entries) > 0 {
		b.WriteString("Tools that were available:\n")
		b.WriteString(manifest.Render(entries))
		b.WriteString("\n")
	}
	writeHistory(&b, hist)
	b.WriteString(`
Respond with JSON only:
{"success": true|false, "incomplete": true|false, "failed_steps": [{"step_index": 0, "ai_name": "...", "reason": "..."}], "summary": "..."}
If success is false, failed_steps must contain at least one entry.
`)
	return b.String()
}

func writeHistory(b *strings.Builder, hist *history.History) {
	if hist == nil {
		return
	}
	b.WriteString("Run history:\n")
	for _, entry := range hist.Entries() {
		encoded, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		// Giant tool outputs would crowd out the verdict contract.
		fmt.Fprintf(b, "%s\n", truncate(string(encoded), 2000))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
