// Package judge implements the cheap pre-planning check: does this objective
// need tools at all, and if so, which subset of the manifest is relevant.
package judge

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/llm"
	"github.com/sentrakit/agentcore/internal/manifest"
)

// Decision is the judge's verdict. Operations itemizes the work the
// objective asks for (used as rerank sub-queries); ToolNames, when present,
// narrows the manifest the planner will see.
type Decision struct {
	Need       bool     `json:"need"`
	Summary    string   `json:"summary"`
	Operations []string `json:"operations,omitempty"`
	ToolNames  []string `json:"tool_names,omitempty"`
}

// DegradedSummary is returned when every candidate model fails; deterministic
// so callers and tests can recognize the degraded path.
const DegradedSummary = "judge stage failed; proceeding without tools"

type Judge struct {
	cfg    config.JudgeConfig
	router *llm.Router
	logger *log.Logger
}

func New(cfg config.JudgeConfig, router *llm.Router) *Judge {
	return &Judge{
		cfg:    cfg,
		router: router,
		logger: log.New(log.Writer(), "[JUDGE] ", log.LstdFlags),
	}
}

// Decide races every configured judge model and accepts the first
// structurally valid decision. All failures degrade to need=false rather
// than an error; planning proceeding without tools is always safe.
func (j *Judge) Decide(ctx context.Context, objective string, entries []manifest.Entry, conversation []string) Decision {
	if !j.cfg.Enabled {
		return Decision{Need: true, Summary: "judge disabled"}
	}
	models := j.router.JudgeModels()
	if len(models) == 0 {
		j.logger.Printf("no judge models configured")
		return Decision{Need: false, Summary: DegradedSummary}
	}
	if j.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.cfg.StageTimeout)
		defer cancel()
	}

	prompt := j.buildPrompt(objective, entries, conversation)
	results := make(chan Decision, len(models))
	errs := make(chan error, len(models))
	for _, model := range models {
		go func(model string) {
			d, err := j.attempt(ctx, model, prompt)
			if err != nil {
				errs <- fmt.Errorf("model %s: %w", model, err)
				return
			}
			results <- d
		}(model)
	}

	failures := 0
	for {
		select {
		case d := <-results:
			return sanitize(d, entries)
		case err := <-errs:
			failures++
			j.logger.Printf("judge attempt failed: %v", err)
			if failures == len(models) {
				return Decision{Need: false, Summary: DegradedSummary}
			}
		case <-ctx.Done():
			j.logger.Printf("judge stage timed out: %v", ctx.Err())
			return Decision{Need: false, Summary: DegradedSummary}
		}
	}
}

func (j *Judge) attempt(ctx context.Context, model, prompt string) (Decision, error) {
	if j.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.cfg.AttemptTimeout)
		defer cancel()
	}
	response, err := j.router.GenerateWithModel(ctx, llm.StageJudge, model, prompt, map[string]interface{}{
		"temperature": 0.0,
	})
	if err != nil {
		return Decision{}, err
	}
	var d Decision
	if err := llm.DecodeObject(response, &d); err != nil {
		return Decision{}, err
	}
	if d.Summary == "" {
		return Decision{}, fmt.Errorf("decision missing summary")
	}
	return d, nil
}

// sanitize drops tool names the manifest does not contain.
func sanitize(d Decision, entries []manifest.Entry) Decision {
	if len(d.ToolNames) == 0 {
		return d
	}
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.AIName] = true
	}
	var kept []string
	for _, name := range d.ToolNames {
		if known[name] {
			kept = append(kept, name)
		}
	}
	d.ToolNames = kept
	return d
}

func (j *Judge) buildPrompt(objective string, entries []manifest.Entry, conversation []string) string {
	var b strings.Builder
	b.WriteString("You decide whether an objective requires tool calls.\n\n")
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
	b.WriteString(`
Respond with JSON only:
{
  "need": true|false,
  "summary": "one sentence on what the objective requires",
  "operations": ["itemized operation", ...],
  "tool_names": ["exact tool name from the list", ...]
}
Set "need" to false when the objective can be answered without any tool.
`)
	return b.String()
}
