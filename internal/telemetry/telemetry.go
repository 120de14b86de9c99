package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sentrakit/agentcore/config"
)

// Telemetry provides monitoring and cost tracking for the pipeline.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	costTracker *CostTracker

	toolCalls       *prometheus.CounterVec
	toolLatency     *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cooldownRejects prometheus.Counter
	stageLatency    *prometheus.HistogramVec
	llmTokens       *prometheus.CounterVec
}

// CostTracker tracks costs across models and operations.
type CostTracker struct {
	mu sync.RWMutex

	ModelCosts  map[string]float64
	ModelTokens map[string]int64
	TotalCost   float64
	TotalTokens int64
}

var (
	registerOnce sync.Once
	shared       struct {
		toolCalls       *prometheus.CounterVec
		toolLatency     *prometheus.HistogramVec
		cacheHits       *prometheus.CounterVec
		cooldownRejects prometheus.Counter
		stageLatency    *prometheus.HistogramVec
		llmTokens       *prometheus.CounterVec
	}
)

func registerMetrics() {
	shared.toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_tool_calls_total",
		Help: "Tool invocations by tool name and outcome code.",
	}, []string{"ai_name", "code"})
	shared.toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentcore_tool_call_duration_seconds",
		Help:    "Latency of tool invocations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"ai_name"})
	shared.cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_cache_hits_total",
		Help: "Tool result cache hits by tier (exact or similarity).",
	}, []string{"tier"})
	shared.cooldownRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentcore_cooldown_rejections_total",
		Help: "Tool invocations rejected by an active cooldown window.",
	})
	shared.stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentcore_stage_duration_seconds",
		Help:    "Latency of pipeline stages (judge, plan, arggen, evaluate, summarize).",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	shared.llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_llm_tokens_total",
		Help: "LLM tokens consumed by model and direction.",
	}, []string{"model", "direction"})
}

// NewTelemetry creates a new telemetry instance. Prometheus collectors are
// process-global and registered once.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	registerOnce.Do(registerMetrics)
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker: &CostTracker{
			ModelCosts:  make(map[string]float64),
			ModelTokens: make(map[string]int64),
		},
		toolCalls:       shared.toolCalls,
		toolLatency:     shared.toolLatency,
		cacheHits:       shared.cacheHits,
		cooldownRejects: shared.cooldownRejects,
		stageLatency:    shared.stageLatency,
		llmTokens:       shared.llmTokens,
	}
}

// RecordToolCall records the outcome and latency of one tool invocation.
func (t *Telemetry) RecordToolCall(aiName, code string, duration time.Duration) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.toolCalls.WithLabelValues(aiName, code).Inc()
	t.toolLatency.WithLabelValues(aiName).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit on the given tier ("exact" or "similarity").
func (t *Telemetry) RecordCacheHit(tier string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCooldownRejection records a call rejected by an active cooldown.
func (t *Telemetry) RecordCooldownRejection() {
	if t == nil || !t.config.Enabled {
		return
	}
	t.cooldownRejects.Inc()
}

// RecordStage records the latency of one pipeline stage.
func (t *Telemetry) RecordStage(stage string, duration time.Duration) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordLLMUsage records token consumption and cost for one model call.
func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	t.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	if !t.config.CostTracking {
		return
	}
	t.costTracker.mu.Lock()
	defer t.costTracker.mu.Unlock()
	t.costTracker.ModelCosts[model] += cost
	t.costTracker.ModelTokens[model] += inputTokens + outputTokens
	t.costTracker.TotalCost += cost
	t.costTracker.TotalTokens += inputTokens + outputTokens
}

// CostSummary returns a snapshot of accumulated model costs.
func (t *Telemetry) CostSummary() (map[string]float64, float64, int64) {
	if t == nil {
		return nil, 0, 0
	}
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	costs := make(map[string]float64, len(t.costTracker.ModelCosts))
	for k, v := range t.costTracker.ModelCosts {
		costs[k] = v
	}
	return costs, t.costTracker.TotalCost, t.costTracker.TotalTokens
}
