package registry

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/telemetry"
)

// Registry indexes every invocable tool (in-process plugins and tools
// advertised by external servers) under a stable AI name, and executes calls
// through the governance, cache, cooldown and dispatch pipeline.
type Registry struct {
	cfg       config.RegistryConfig
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	policy    Policy
	external  ExternalProvider
	cooldown  *cooldownGate
	exact     *exactCache
	sim       *similarityCache

	mu         sync.RWMutex
	index      map[string]Descriptor
	handlers   map[string]Handler
	nativeName map[string]string
	plugins    []LocalPlugin
	envs       map[string]map[string]string
}

// Options carries the registry's optional collaborators. Any of them may be
// nil; the registry degrades the matching feature instead of failing.
type Options struct {
	Store     SharedStore
	Embedder  Embedder
	External  ExternalProvider
	Policy    Policy
	Telemetry *telemetry.Telemetry
}

func New(cfg config.RegistryConfig, opts Options) *Registry {
	policy := opts.Policy
	if policy == nil {
		policy = NewStaticPolicy(cfg.DisabledTools, cfg.Tenant)
	}
	r := &Registry{
		cfg:        cfg,
		logger:     log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags),
		telemetry:  opts.Telemetry,
		policy:     policy,
		external:   opts.External,
		cooldown:   newCooldownGate(opts.Store),
		exact:      &exactCache{store: opts.Store, ttl: cfg.CacheTTL},
		index:      make(map[string]Descriptor),
		handlers:   make(map[string]Handler),
		nativeName: make(map[string]string),
		envs:       make(map[string]map[string]string),
	}
	r.sim = &similarityCache{
		store:     opts.Store,
		embedder:  opts.Embedder,
		threshold: cfg.ReuseThreshold,
		poolSize:  cfg.ReusePoolSize,
	}
	if !cfg.ReuseEnabled {
		r.sim.embedder = nil
	}
	for plugin, env := range cfg.PluginEnvs {
		r.envs[plugin] = env
	}
	return r
}

// RegisterPlugins replaces the in-process plugin set and rebuilds the local
// part of the index. External descriptors are untouched.
func (r *Registry) RegisterPlugins(plugins ...LocalPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append([]LocalPlugin(nil), plugins...)
	r.rebuildLocalLocked()
}

func (r *Registry) rebuildLocalLocked() {
	defaults := pluginDefaults{cooldown: r.cfg.DefaultCooldown, timeout: r.cfg.DefaultTimeout}
	for aiName, desc := range r.index {
		if desc.Provider == ProviderLocal {
			delete(r.index, aiName)
			delete(r.handlers, aiName)
		}
	}
	for _, p := range r.plugins {
		desc := p.descriptor(defaults)
		r.index[desc.AIName] = desc
		r.handlers[desc.AIName] = p.Build(r.envs[p.Name])
	}
}

// RefreshExternal re-queries every external server and replaces the external
// part of the index. A server that fails to list keeps its previous
// descriptors so a transient outage does not shrink the planner's
// vocabulary.
func (r *Registry) RefreshExternal(ctx context.Context) error {
	if r.external == nil {
		return nil
	}
	var firstErr error
	for _, serverID := range r.external.ServerIDs() {
		tools, err := r.external.ListTools(ctx, serverID)
		if err != nil {
			r.logger.Printf("list tools on %s failed: %v", serverID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.replaceServerTools(serverID, tools)
	}
	return firstErr
}

func (r *Registry) replaceServerTools(serverID string, tools []ExternalTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for aiName, desc := range r.index {
		if desc.Provider == ProviderExternal && desc.ServerID == serverID {
			delete(r.index, aiName)
			delete(r.nativeName, aiName)
		}
	}
	for _, t := range tools {
		aiName := ExternalAIName(serverID, t.Name, r.cfg.MaxExternalNameLen)
		r.index[aiName] = Descriptor{
			AIName:      aiName,
			Name:        t.Name,
			Description: t.Description,
			Provider:    ProviderExternal,
			ServerID:    serverID,
			InputSchema: t.InputSchema,
			Cooldown:    r.cfg.DefaultCooldown,
			Timeout:     r.cfg.DefaultTimeout,
		}
		r.nativeName[aiName] = t.Name
	}
	r.logger.Printf("indexed %d tools from %s", len(tools), serverID)
}

// ReloadPlugins re-runs every plugin factory against the current envs. Used
// by the admin API to pick up newly deployed plugin code paths.
func (r *Registry) ReloadPlugins() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuildLocalLocked()
	r.logger.Printf("reloaded %d local plugins", len(r.plugins))
}

// ReloadEnvs swaps the environment for the named plugins and rebuilds their
// handlers, so rotated credentials take effect without a restart.
func (r *Registry) ReloadEnvs(envs map[string]map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for plugin, env := range envs {
		r.envs[plugin] = env
	}
	r.rebuildLocalLocked()
	r.logger.Printf("reloaded envs for %d plugins", len(envs))
}

// Lookup resolves an AI name to its descriptor.
func (r *Registry) Lookup(aiName string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.index[aiName]
	return desc, ok
}

// Tools returns every indexed descriptor, ordered by AI name.
func (r *Registry) Tools() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.index))
	for _, desc := range r.index {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AIName < out[j].AIName })
	return out
}

// CooldownState is the remaining cooldown window for one tool.
type CooldownState struct {
	AIName    string        `json:"ai_name"`
	Remaining time.Duration `json:"remaining"`
}

// ActiveCooldowns reports tools that are currently cooling down.
func (r *Registry) ActiveCooldowns(ctx context.Context) []CooldownState {
	var out []CooldownState
	for _, desc := range r.Tools() {
		if remaining := r.cooldown.Remaining(ctx, desc.AIName); remaining > 0 {
			out = append(out, CooldownState{AIName: desc.AIName, Remaining: remaining})
		}
	}
	return out
}
