package registry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// CallOptions carries per-call context through the pipeline.
type CallOptions struct {
	RunID   string
	Tenant  string
	NoCache bool
	NoReuse bool
}

// CallByAIName executes a tool through the full pipeline: governance check,
// exact cache, similarity reuse, cooldown acquisition, dispatch under the
// tool's timeout, and normalization. It always returns a structured result;
// failures are encoded in the result, never panicked or swallowed.
//
// Only an active cooldown is retried in-process. Governance denials are
// terminal and leave no cache or cooldown state behind.
func (r *Registry) CallByAIName(ctx context.Context, aiName string, args map[string]interface{}, opts CallOptions) ToolResult {
	start := time.Now()
	res := r.call(ctx, aiName, args, opts)
	r.telemetry.RecordToolCall(aiName, resultCode(res), time.Since(start))
	return res
}

func resultCode(res ToolResult) string {
	if res.Code != "" {
		return res.Code
	}
	if res.Success {
		return CodeOK
	}
	return CodeErr
}

func (r *Registry) call(ctx context.Context, aiName string, args map[string]interface{}, opts CallOptions) ToolResult {
	desc, ok := r.Lookup(aiName)
	if !ok {
		return failure(CodeNotFound, "", fmt.Sprintf("no tool registered as %q", aiName))
	}
	if err := r.policy.Authorize(desc, args, opts); err != nil {
		r.logger.Printf("call to %s denied: %v", aiName, err)
		if te, ok := err.(*ToolError); ok {
			return failure(te.Code, string(desc.Provider), te.Message)
		}
		return failure(CodeForbidden, string(desc.Provider), err.Error())
	}

	key := callKey(aiName, args)
	if r.cfg.CacheEnabled && !opts.NoCache {
		if cached, ok := r.exact.Get(ctx, key); ok {
			r.telemetry.RecordCacheHit("exact")
			return cached
		}
	}
	if !opts.NoReuse {
		if reused, ok := r.sim.Lookup(ctx, aiName, args); ok {
			r.telemetry.RecordCacheHit("similarity")
			return reused
		}
	}

	if res, ok := r.acquireCooldown(ctx, desc); !ok {
		return res
	}

	res := r.dispatch(ctx, desc, args, opts)
	if res.Cacheable() {
		if r.cfg.CacheEnabled && !opts.NoCache {
			r.exact.Put(ctx, key, res)
		}
		if !opts.NoReuse {
			r.sim.Put(ctx, aiName, args, res)
		}
	}
	return res
}

// acquireCooldown claims the tool's cooldown slot, sleeping through the
// reported remaining window (plus jitter) a bounded number of times before
// giving up with COOLDOWN_ACTIVE.
func (r *Registry) acquireCooldown(ctx context.Context, desc Descriptor) (ToolResult, bool) {
	for attempt := 0; ; attempt++ {
		remaining := r.cooldown.Acquire(ctx, desc.AIName, desc.Cooldown)
		if remaining <= 0 {
			return ToolResult{}, true
		}
		r.telemetry.RecordCooldownRejection()
		if attempt >= r.cfg.CooldownMaxRetries {
			res := failure(CodeCooldownActive, string(desc.Provider),
				fmt.Sprintf("tool %s cooling down for %s", desc.AIName, remaining.Round(time.Millisecond)))
			res.Data = map[string]interface{}{"retry_after_ms": remaining.Milliseconds()}
			return res, false
		}
		wait := remaining + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
		r.logger.Printf("%s cooling down, waiting %s (attempt %d/%d)",
			desc.AIName, wait.Round(time.Millisecond), attempt+1, r.cfg.CooldownMaxRetries)
		select {
		case <-ctx.Done():
			return failure(CodeTimeout, string(desc.Provider), ctx.Err().Error()), false
		case <-time.After(wait):
		}
	}
}

func (r *Registry) dispatch(ctx context.Context, desc Descriptor, args map[string]interface{}, opts CallOptions) ToolResult {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		raw interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		switch desc.Provider {
		case ProviderLocal:
			r.mu.RLock()
			handler := r.handlers[desc.AIName]
			r.mu.RUnlock()
			if handler == nil {
				done <- outcome{err: &ToolError{Code: CodeNotFound, Message: "handler missing for " + desc.AIName}}
				return
			}
			raw, err := handler(ctx, args, opts)
			done <- outcome{raw: raw, err: err}
		case ProviderExternal:
			r.mu.RLock()
			native := r.nativeName[desc.AIName]
			r.mu.RUnlock()
			raw, err := r.external.CallTool(ctx, desc.ServerID, native, args)
			done <- outcome{raw: raw, err: err}
		default:
			done <- outcome{err: fmt.Errorf("unknown provider kind %q", desc.Provider)}
		}
	}()

	select {
	case <-ctx.Done():
		return failure(CodeTimeout, string(desc.Provider),
			fmt.Sprintf("tool %s exceeded %s", desc.AIName, timeout))
	case o := <-done:
		if o.err != nil {
			if te, ok := o.err.(*ToolError); ok {
				return failure(te.Code, string(desc.Provider), te.Message)
			}
			if ctx.Err() != nil {
				return failure(CodeTimeout, string(desc.Provider), o.err.Error())
			}
			return failure(CodeErr, string(desc.Provider), o.err.Error())
		}
		return normalizeOutcome(o.raw, string(desc.Provider))
	}
}
