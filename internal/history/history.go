package history

import (
	"sort"
	"sync"
	"time"

	"github.com/sentrakit/agentcore/internal/registry"
)

// Kind identifies what a history entry records.
type Kind string

const (
	KindToolResult Kind = "tool_result"
	KindEvaluation Kind = "evaluation"
	KindPlanAudit  Kind = "plan_audit"
)

// Entry is one append-only record of a run. Position is assigned at append
// time and never reused.
type Entry struct {
	Position  int                    `json:"position"`
	Kind      Kind                   `json:"kind"`
	StepIndex int                    `json:"step_index,omitempty"`
	AIName    string                 `json:"ai_name,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Result    *registry.ToolResult   `json:"result,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// History is the append-only record of everything a run did. Entries are
// never mutated or removed once appended.
type History struct {
	mu      sync.RWMutex
	entries []Entry
}

func New() *History {
	return &History{}
}

func (h *History) append(e Entry) Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e.Position = len(h.entries)
	e.CreatedAt = time.Now()
	h.entries = append(h.entries, e)
	return e
}

// AppendToolResult records the outcome of one plan step.
func (h *History) AppendToolResult(stepIndex int, aiName string, args map[string]interface{}, res registry.ToolResult) Entry {
	return h.append(Entry{
		Kind:      KindToolResult,
		StepIndex: stepIndex,
		AIName:    aiName,
		Args:      args,
		Result:    &res,
	})
}

// AppendEvaluation records the evaluator's verdict.
func (h *History) AppendEvaluation(payload map[string]interface{}) Entry {
	return h.append(Entry{Kind: KindEvaluation, Payload: payload})
}

// AppendPlanAudit records which plan candidate was selected and why.
func (h *History) AppendPlanAudit(payload map[string]interface{}) Entry {
	return h.append(Entry{Kind: KindPlanAudit, Payload: payload})
}

// Entries returns a copy of the full record in append order.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// ToolResults returns only the tool result entries, in append order.
func (h *History) ToolResults() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Entry
	for _, e := range h.entries {
		if e.Kind == KindToolResult {
			out = append(out, e)
		}
	}
	return out
}

// ResultForStep returns the most recent tool result recorded for a step.
func (h *History) ResultForStep(stepIndex int) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Kind == KindToolResult && h.entries[i].StepIndex == stepIndex {
			return h.entries[i], true
		}
	}
	return Entry{}, false
}

// Len reports the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// DependencyClosure computes the transitive dependency set of one step given
// the plan's adjacency list (dependsOn[i] lists the step indices step i
// depends on). The result is sorted ascending and excludes the step itself.
// Out-of-range references and cycles are tolerated.
func DependencyClosure(dependsOn [][]int, step int) []int {
	if step < 0 || step >= len(dependsOn) {
		return nil
	}
	seen := make(map[int]bool)
	var visit func(int)
	visit = func(i int) {
		if i < 0 || i >= len(dependsOn) {
			return
		}
		for _, dep := range dependsOn[i] {
			if dep < 0 || dep >= len(dependsOn) || seen[dep] {
				continue
			}
			seen[dep] = true
			visit(dep)
		}
	}
	visit(step)
	delete(seen, step)
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
