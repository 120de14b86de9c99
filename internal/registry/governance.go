package registry

// Policy authorizes a call before any cache, cooldown or dispatch work
// happens. A denial is terminal: it is never cached and never retried.
type Policy interface {
	Authorize(desc Descriptor, args map[string]interface{}, opts CallOptions) error
}

// StaticPolicy denies tools on a configured denylist and cross-tenant calls.
type StaticPolicy struct {
	disabled map[string]struct{}
	tenant   string
}

func NewStaticPolicy(disabledTools []string, tenant string) *StaticPolicy {
	disabled := make(map[string]struct{}, len(disabledTools))
	for _, name := range disabledTools {
		disabled[name] = struct{}{}
	}
	return &StaticPolicy{disabled: disabled, tenant: tenant}
}

func (p *StaticPolicy) Authorize(desc Descriptor, _ map[string]interface{}, opts CallOptions) error {
	if _, ok := p.disabled[desc.AIName]; ok {
		return &ToolError{Code: CodeForbidden, Message: "tool is disabled by policy"}
	}
	if _, ok := p.disabled[desc.Name]; ok {
		return &ToolError{Code: CodeForbidden, Message: "tool is disabled by policy"}
	}
	tenant := opts.Tenant
	if tenant == "" {
		tenant = p.tenant
	}
	if desc.Tenant != "" && tenant != "" && desc.Tenant != tenant {
		return &ToolError{Code: CodeForbidden, Message: "tool belongs to another tenant"}
	}
	return nil
}
