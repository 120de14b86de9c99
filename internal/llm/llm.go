// Package llm routes pipeline stages to configured models and provides the
// response-parsing helpers every LLM-facing stage shares.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/telemetry"
	"github.com/sentrakit/agentcore/provider"
)

// Stage names used for model routing and latency metrics.
const (
	StageJudge     = "judge"
	StagePlanning  = "planning"
	StageAudit     = "audit"
	StageArguments = "arguments"
	StageReflect   = "reflect"
	StageEvaluate  = "evaluate"
	StageSummarize = "summarize"
)

// Router resolves a pipeline stage to its configured model and executes the
// call, recording token usage and cost.
type Router struct {
	provider  provider.Provider
	routing   config.LLMRoutingConfig
	telemetry *telemetry.Telemetry
}

func NewRouter(p provider.Provider, routing config.LLMRoutingConfig, tel *telemetry.Telemetry) *Router {
	return &Router{provider: p, routing: routing, telemetry: tel}
}

// Model returns the configured model key for a stage, falling back to the
// routing fallback.
func (r *Router) Model(stage string) string {
	var m string
	switch stage {
	case StagePlanning:
		m = r.routing.Planning
	case StageAudit:
		m = r.routing.Audit
	case StageArguments:
		m = r.routing.Arguments
	case StageReflect:
		m = r.routing.Reflect
	case StageEvaluate:
		m = r.routing.Evaluate
	case StageSummarize:
		m = r.routing.Summarize
	case StageJudge:
		if len(r.routing.Judge) > 0 {
			m = r.routing.Judge[0]
		}
	}
	if m == "" {
		m = r.routing.Fallback
	}
	return m
}

// JudgeModels returns the candidate models raced by the judge stage.
func (r *Router) JudgeModels() []string {
	if len(r.routing.Judge) > 0 {
		return r.routing.Judge
	}
	if r.routing.Fallback != "" {
		return []string{r.routing.Fallback}
	}
	return nil
}

// Generate runs one completion for a stage using its routed model.
func (r *Router) Generate(ctx context.Context, stage, prompt string, options map[string]interface{}) (string, error) {
	return r.GenerateWithModel(ctx, stage, r.Model(stage), prompt, options)
}

// GenerateWithModel runs one completion on an explicit model, recording
// usage under the stage name.
func (r *Router) GenerateWithModel(ctx context.Context, stage, model, prompt string, options map[string]interface{}) (string, error) {
	if model == "" {
		return "", fmt.Errorf("no model configured for stage %q", stage)
	}
	text, in, out, err := r.provider.GenerateWithTokens(ctx, prompt, model, options)
	if err != nil {
		return "", fmt.Errorf("%s generation on %s: %w", stage, model, err)
	}
	r.telemetry.RecordLLMUsage(model, in, out, r.provider.CalculateCost(in, out, model))
	return text, nil
}

// ExtractJSONObject returns the first balanced top-level JSON object in a
// model response, tolerating surrounding prose and code fences.
func ExtractJSONObject(response string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeObject extracts the first JSON object from a response and unmarshals
// it into v.
func DecodeObject(response string, v interface{}) error {
	raw, ok := ExtractJSONObject(response)
	if !ok {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode response JSON: %w", err)
	}
	return nil
}
