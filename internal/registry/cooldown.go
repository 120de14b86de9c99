package registry

import (
	"context"
	"sync"
	"time"
)

// cooldownGate enforces per-tool minimum spacing between invocations. The
// marker lives in the shared store so the window holds across processes; when
// the store is unreachable the gate falls back to process-local state rather
// than blocking calls.
type cooldownGate struct {
	store SharedStore

	mu    sync.Mutex
	local map[string]time.Time
}

func newCooldownGate(store SharedStore) *cooldownGate {
	return &cooldownGate{store: store, local: make(map[string]time.Time)}
}

// Acquire atomically claims the cooldown slot for aiName. It returns zero
// when the caller may proceed, or the remaining window when the tool is still
// cooling down.
func (g *cooldownGate) Acquire(ctx context.Context, aiName string, window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	if g.store != nil {
		ok, err := g.store.SetNX(ctx, "agentcore:cooldown:"+aiName, "1", window)
		if err == nil {
			if ok {
				return 0
			}
			remaining, terr := g.store.TTL(ctx, "agentcore:cooldown:"+aiName)
			if terr == nil && remaining > 0 {
				return remaining
			}
			return window
		}
		// shared store unreachable, degrade to local state
	}
	return g.acquireLocal(aiName, window)
}

// Remaining reports the outstanding window without claiming the slot.
func (g *cooldownGate) Remaining(ctx context.Context, aiName string) time.Duration {
	if g.store != nil {
		if ttl, err := g.store.TTL(ctx, "agentcore:cooldown:"+aiName); err == nil && ttl > 0 {
			return ttl
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if until, ok := g.local[aiName]; ok && until.After(time.Now()) {
		return time.Until(until)
	}
	return 0
}

func (g *cooldownGate) acquireLocal(aiName string, window time.Duration) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if until, ok := g.local[aiName]; ok && until.After(now) {
		return until.Sub(now)
	}
	g.local[aiName] = now.Add(window)
	return 0
}
