package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/arggen"
	"github.com/sentrakit/agentcore/internal/evaluate"
	"github.com/sentrakit/agentcore/internal/judge"
	"github.com/sentrakit/agentcore/internal/llm"
	"github.com/sentrakit/agentcore/internal/manifest"
	"github.com/sentrakit/agentcore/internal/planner"
	"github.com/sentrakit/agentcore/internal/reflect"
	"github.com/sentrakit/agentcore/internal/registry"
	"github.com/sentrakit/agentcore/internal/runner"
	"github.com/sentrakit/agentcore/internal/server"
	"github.com/sentrakit/agentcore/internal/store"
	"github.com/sentrakit/agentcore/internal/telemetry"
	"github.com/sentrakit/agentcore/provider"
)

// providerEmbedder adapts the LLM provider's embedding endpoint to the
// single-model Embedder the registry, reranker and store expect.
type providerEmbedder struct {
	provider provider.Provider
	model    string
}

func (e *providerEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.provider.Embed(ctx, e.model, texts)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := log.New(log.Writer(), "[AGENTD] ", log.LstdFlags)
	tel := telemetry.NewTelemetry(cfg.Telemetry)

	prov, err := provider.New(cfg.LLM)
	if err != nil {
		return err
	}
	router := llm.NewRouter(prov, cfg.LLM.Routing, tel)

	var embedder registry.Embedder
	if cfg.Embedding.Enabled && cfg.Embedding.Model != "" {
		embedder = &providerEmbedder{provider: prov, model: cfg.Embedding.Model}
	}

	var shared registry.SharedStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Printf("redis unavailable (%s), caches and cooldowns fall back to process-local state: %v", cfg.Redis.Addr, err)
		} else {
			shared = registry.NewRedisStore(rdb)
		}
	}

	var external registry.ExternalProvider
	if len(cfg.Registry.MCPServers) > 0 {
		mgr := registry.NewMCPManager(cfg.Registry.MCPServers, cfg.Registry.ExternalConnTimeout)
		defer mgr.Close()
		external = mgr
	}

	reg := registry.New(cfg.Registry, registry.Options{
		Store:     shared,
		Embedder:  embedder,
		External:  external,
		Telemetry: tel,
	})
	reg.RegisterPlugins(builtinPlugins()...)
	if external != nil {
		if err := reg.RefreshExternal(ctx); err != nil {
			logger.Printf("initial external tool listing incomplete: %v", err)
		}
	}

	var st *store.Store
	if cfg.Postgres.DSN() != "" {
		st, err = store.New(ctx, cfg.Postgres, cfg.Memory, embedder)
		if err != nil {
			return err
		}
		defer st.Close()
	} else {
		logger.Printf("postgres not configured, runs will not be persisted")
	}

	var reranker *manifest.Reranker
	if cfg.Rerank.Enabled {
		var scorer manifest.RelevanceScorer
		if cfg.Rerank.ServiceURL != "" {
			scorer = manifest.NewHTTPScorer(cfg.Rerank)
		}
		reranker = manifest.NewReranker(cfg.Rerank, embedder, scorer)
	}

	// Interface-typed nils must stay nil, not wrap a nil *store.Store.
	var planMemory planner.Memory
	var argMemory arggen.Memory
	var persistence runner.Persistence
	if st != nil {
		planMemory = st
		argMemory = st
		persistence = st
	}

	run := runner.New(cfg.Planner, runner.Deps{
		Registry:    reg,
		Judge:       judge.New(cfg.Judge, router),
		Reranker:    reranker,
		Planner:     planner.New(cfg.Planner, router, planMemory),
		ArgGen:      arggen.New(cfg.ArgGen, router, argMemory),
		Reflector:   reflect.New(cfg.Reflect, router),
		Evaluator:   evaluate.New(cfg.Evaluate, router),
		Summarizer:  evaluate.NewSummarizer(cfg.Evaluate, router),
		Persistence: persistence,
		Telemetry:   tel,
	})

	srv, err := server.New(cfg.Server, reg, run, st, tel)
	if err != nil {
		return err
	}
	return srv.Start(cfg.Server.Addr)
}
