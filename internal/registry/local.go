package registry

import (
	"context"
	"time"
)

// Handler executes an in-process tool.
type Handler func(ctx context.Context, args map[string]interface{}, opts CallOptions) (interface{}, error)

// LocalPlugin describes an in-process tool. Build is invoked with the
// plugin's current environment whenever the plugin set or its envs are
// reloaded, so handlers can capture fresh credentials without a restart.
type LocalPlugin struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Cooldown    time.Duration
	Timeout     time.Duration
	Tenant      string
	Build       func(env map[string]string) Handler
}

func (p LocalPlugin) descriptor(defaults pluginDefaults) Descriptor {
	cooldown := p.Cooldown
	if cooldown == 0 {
		cooldown = defaults.cooldown
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = defaults.timeout
	}
	return Descriptor{
		AIName:      LocalAIName(p.Name),
		Name:        p.Name,
		Description: p.Description,
		Provider:    ProviderLocal,
		InputSchema: p.InputSchema,
		Cooldown:    cooldown,
		Timeout:     timeout,
		Tenant:      p.Tenant,
	}
}

type pluginDefaults struct {
	cooldown time.Duration
	timeout  time.Duration
}
