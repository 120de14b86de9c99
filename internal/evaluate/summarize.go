package evaluate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/history"
	"github.com/sentrakit/agentcore/internal/llm"
)

// Summary is the final narrative of a run plus structured highlights.
type Summary struct {
	Summary     string       `json:"summary"`
	TaskSuccess bool         `json:"task_success"`
	FailedSteps []FailedStep `json:"failed_steps,omitempty"`
	Highlights  []string     `json:"highlights,omitempty"`
}

type Summarizer struct {
	cfg    config.EvaluateConfig
	router *llm.Router
	logger *log.Logger
}

func NewSummarizer(cfg config.EvaluateConfig, router *llm.Router) *Summarizer {
	return &Summarizer{
		cfg:    cfg,
		router: router,
		logger: log.New(log.Writer(), "[SUMMARIZE] ", log.LstdFlags),
	}
}

func (s *Summarizer) attempts() int {
	if s.cfg.MaxAttempts > 0 {
		return s.cfg.MaxAttempts
	}
	return 3
}

// Summarize produces the run's final summary. An empty summary string is
// invalid and retried; after exhausting retries it returns an empty summary
// with an error so the caller can persist the degraded state explicitly.
func (s *Summarizer) Summarize(ctx context.Context, objective string, hist *history.History, eval Evaluation) (Summary, error) {
	prompt := s.buildPrompt(objective, hist, eval)
	var reinforcement string
	for attempt := 0; attempt < s.attempts(); attempt++ {
		if ctx.Err() != nil {
			break
		}
		response, err := s.router.Generate(ctx, llm.StageSummarize, prompt+reinforcement, map[string]interface{}{
			"temperature": 0.2,
		})
		if err != nil {
			s.logger.Printf("summary attempt %d failed: %v", attempt+1, err)
			continue
		}
		var sum Summary
		if err := llm.DecodeObject(response, &sum); err != nil {
			s.logger.Printf("summary response unusable (attempt %d): %v; raw: %s", attempt+1, err, truncate(response, 500))
			reinforcement = "\nYour previous response was not valid JSON. Respond with the JSON object only."
			continue
		}
		if strings.TrimSpace(sum.Summary) == "" {
			s.logger.Printf("summary was empty (attempt %d); raw: %s", attempt+1, truncate(response, 500))
			reinforcement = "\nThe summary string must not be empty."
			continue
		}
		return sum, nil
	}
	return Summary{TaskSuccess: eval.Success, FailedSteps: eval.FailedSteps},
		fmt.Errorf("summarization exhausted %d attempts", s.attempts())
}

func (s *Summarizer) buildPrompt(objective string, hist *history.History, eval Evaluation) string {
	var b strings.Builder
	b.WriteString("Summarize this agent run for the user.\n\n")
	b.WriteString("Objective: " + objective + "\n\n")
	writeHistory(&b, hist)
	fmt.Fprintf(&b, "\nVerdict: success=%v incomplete=%v\n", eval.Success, eval.Incomplete)
	b.WriteString(`
Respond with JSON only:
{"summary": "what happened and what was found", "task_success": true|false, "failed_steps": [], "highlights": ["notable result", ...]}
`)
	return b.String()
}
